// Package version tracks the installed service version string and detects
// the installation being replaced underneath a running process.
package version

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the workspace file holding the version string.
const FileName = "version.txt"

// DefaultVersion seeds a fresh workspace.
const DefaultVersion = "1.0.0"

// Manager memoizes the version read at startup.
type Manager struct {
	path    string
	current string
}

// Load reads the workspace version file, creating it with DefaultVersion
// when missing, and memoizes the value.
func Load(workspace string) (*Manager, error) {
	path := filepath.Join(workspace, FileName)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if writeErr := os.WriteFile(path, []byte(DefaultVersion), 0o644); writeErr != nil {
			return nil, fmt.Errorf("create %s: %w", FileName, writeErr)
		}
		return &Manager{path: path, current: DefaultVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", FileName, err)
	}
	return &Manager{path: path, current: strings.TrimSpace(string(b))}, nil
}

// Current returns the version memoized at startup.
func (m *Manager) Current() string {
	return m.current
}

// Check re-reads the file and reports whether it still matches the memoized
// value. A vanished or unreadable file counts as a mismatch: the
// installation this process came from is gone.
func (m *Manager) Check() bool {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(b)) == m.current
}
