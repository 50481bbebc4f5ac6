// Package files implements the file manager: atomic moves of processed
// files into their completed/error destinations with timestamped,
// collision-free names, plus the in-use and readability predicates the
// watcher consults during detection.
package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ppiankov/filedrop/internal/faults"
)

// stampLayout renders the move instant to the nearest second.
const stampLayout = "20060102_150405"

// errorFragmentMax bounds the sanitized error fragment in failure names.
const errorFragmentMax = 50

// copyAttempts bounds the copy+delete fallback when rename crosses devices.
const copyAttempts = 3

// dirPerm is the permission for manager-created directories.
const dirPerm = 0o750

// inUseSuffixes mark files another writer still owns.
var inUseSuffixes = []string{".tmp", ".processing"}

// Manager performs destination moves. The zero value is not usable;
// construct with NewManager.
type Manager struct {
	now func() time.Time
}

// NewManager creates a file manager.
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// MoveToCompleted moves path into destDir under the success naming scheme
// <stem>_<yyyyMMdd_HHmmss>[.<ext>] and returns the destination path.
func (m *Manager) MoveToCompleted(path, destDir string) (string, error) {
	stem, ext := splitName(filepath.Base(path))
	name := fmt.Sprintf("%s_%s%s", stem, m.now().Format(stampLayout), ext)
	return m.moveUnique(path, destDir, name)
}

// MoveToError moves path into destDir under the failure naming scheme
// <stem>_ERROR_<yyyyMMdd_HHmmss>_<sanitized-error>[.<ext>].
func (m *Manager) MoveToError(path, errorDetails, destDir string) (string, error) {
	stem, ext := splitName(filepath.Base(path))
	name := fmt.Sprintf("%s_ERROR_%s_%s%s",
		stem, m.now().Format(stampLayout), SanitizeError(errorDetails), ext)
	return m.moveUnique(path, destDir, name)
}

// MoveTo moves path into destDir keeping the given name, resolving
// collisions with an incrementing suffix. Used by the degradation queue.
func (m *Manager) MoveTo(path, destDir, name string) (string, error) {
	return m.moveUnique(path, destDir, name)
}

// moveUnique creates destDir if needed, resolves name collisions with an
// incrementing numeric suffix, and moves the file.
func (m *Manager) moveUnique(path, destDir, name string) (string, error) {
	if err := os.MkdirAll(destDir, dirPerm); err != nil {
		return "", faults.Categorize(fmt.Errorf("create destination %s: %w", destDir, err), faults.CategoryFileSystem)
	}

	stem, ext := splitName(name)
	dest := filepath.Join(destDir, name)
	for n := 1; ; n++ {
		if _, err := os.Lstat(dest); errors.Is(err, os.ErrNotExist) {
			break
		}
		dest = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}

	if err := moveFile(path, dest); err != nil {
		return "", faults.Categorize(fmt.Errorf("move %s: %w", filepath.Base(path), err), faults.CategoryFileSystem)
	}
	return dest, nil
}

// IsInUse reports whether the filename carries an in-use suffix
// (.tmp, .processing), case-insensitive.
func IsInUse(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, suffix := range inUseSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// FileSize returns the size of the file in bytes.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, faults.Categorize(fmt.Errorf("stat %s: %w", filepath.Base(path), err), faults.CategoryFileSystem)
	}
	return info.Size(), nil
}

// IsReadable reports whether the file can be opened for reading.
func IsReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// SanitizeError reduces error text to a filename-safe fragment: anything
// outside [A-Za-z0-9] becomes an underscore, runs collapse to one, and
// the result is truncated to 50 characters.
func SanitizeError(details string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range details {
		safe := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if safe {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > errorFragmentMax {
		out = out[:errorFragmentMax]
		out = strings.TrimRight(out, "_")
	}
	if out == "" {
		out = "error"
	}
	return out
}

// splitName separates a filename into stem and extension (with dot).
// Dotfiles and extension-less names return the whole name as stem.
func splitName(name string) (stem, ext string) {
	ext = filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// moveFile renames src to dst, falling back to copy+remove with retry
// when the destination is on a different filesystem (EXDEV).
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) || errno != syscall.EXDEV {
		return err
	}

	var lastErr error
	for i := 0; i < copyAttempts; i++ {
		if lastErr = copyFile(src, dst); lastErr == nil {
			return os.Remove(src)
		}
	}
	return lastErr
}

// copyFile copies src to dst preserving permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
