package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UnitFilePaths are the paths checked for the daemon unit file.
var UnitFilePaths = []string{
	"/etc/systemd/system/filedrop.service",
	"/etc/systemd/system/filedrop-daemon.service",
}

// hashFileName stores the install-time hash under the state directory.
const hashFileName = "unit-file.sha256"

// CheckUnitFileIntegrity compares the current unit file hash against
// the hash stored at install time. Returns a warning message if the
// unit drifted, or "" when intact or not applicable.
func CheckUnitFileIntegrity(stateDir string) string {
	var unitPath string
	for _, p := range UnitFilePaths {
		if _, err := os.Stat(p); err == nil {
			unitPath = p
			break
		}
	}
	if unitPath == "" {
		return "" // Not deployed under systemd.
	}

	stored, err := os.ReadFile(filepath.Join(stateDir, hashFileName))
	if err != nil {
		return "" // First install or hash never recorded.
	}
	expected := strings.TrimSpace(string(stored))
	if len(expected) != 64 {
		return ""
	}

	data, err := os.ReadFile(unitPath)
	if err != nil {
		return fmt.Sprintf("cannot read unit file %s: %v", unitPath, err)
	}
	h := sha256.Sum256(data)
	actual := hex.EncodeToString(h[:])
	if actual == expected {
		return ""
	}
	return fmt.Sprintf("systemd unit file %s has been modified since installation (expected %s, got %s)",
		unitPath, expected[:16], actual[:16])
}

// RecordUnitFileHash writes the unit file's SHA-256 under the state
// directory. Called at install time to record the baseline.
func RecordUnitFileHash(stateDir string) error {
	for _, p := range UnitFilePaths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		h := sha256.Sum256(data)
		hash := hex.EncodeToString(h[:])
		return os.WriteFile(filepath.Join(stateDir, hashFileName), []byte(hash+"\n"), 0o600)
	}
	return fmt.Errorf("no unit file found at expected paths")
}
