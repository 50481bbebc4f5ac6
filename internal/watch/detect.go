// Package watch implements the scheduler: one polling worker per
// registered configuration, candidate detection and ordering, the
// worker lifecycle state machine, and the concurrent registry behind
// the control surface.
package watch

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ppiankov/filedrop/internal/faults"
	"github.com/ppiankov/filedrop/internal/files"
)

// candidate is one dispatchable file found during a scan.
type candidate struct {
	name string
	path string
	size int64
}

// Matches reports whether the filename matches at least one glob
// pattern. Matching is against the bare filename, case-sensitive;
// `*` matches any run of characters, `?` exactly one.
func Matches(name string, patterns []string) bool {
	for _, p := range patterns {
		ok, err := doublestar.Match(p, name)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// scanDir lists the immediate children of dir, drops directories and
// in-use files, filters by pattern, and returns candidates in
// lexicographic byte order of filename.
func scanDir(dir string, patterns []string) ([]candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, faults.Categorize(err, faults.CategoryFileSystem)
	}

	out := make([]candidate, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if files.IsInUse(name) {
			continue
		}
		if !Matches(name, patterns) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Deleted between listing and stat; it will not be dispatched.
			continue
		}
		out = append(out, candidate{
			name: name,
			path: filepath.Join(dir, name),
			size: info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}
