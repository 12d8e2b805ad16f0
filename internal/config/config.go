// Package config provides the application options (command-line flags and
// environment variables) and the JSON config file holding the recent-vault
// list.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/avoronov/qrvault/internal/models"
)

// Options holds the parsed command-line configuration.
type Options struct {
	// Dir is the application directory (config file plus the vaults
	// subdirectory).
	Dir string

	// Verbose enables debug logging.
	Verbose bool
}

// Parse reads flags and environment variables. QRVAULT_DIR overrides the
// -d flag when set.
func Parse() *Options {
	options := &Options{}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	defaultDir := filepath.Join(home, ".qrvault")

	flag.StringVar(&options.Dir, "d", defaultDir, "path to application directory")
	flag.StringVar(&options.Dir, "dir", defaultDir, "path to application directory (long form)")
	flag.BoolVar(&options.Verbose, "verbose", false, "enable debug logging")
	flag.Parse()

	if dir := os.Getenv("QRVAULT_DIR"); dir != "" {
		options.Dir = dir
	}

	return options
}

// fileData is the persisted shape of config.json.
type fileData struct {
	Version string   `json:"version"`
	Vaults  []string `json:"vaults"`
}

// Manager loads and persists config.json. Every Set-style call writes the
// file immediately.
type Manager struct {
	path string
	data fileData
}

// NewManager reads config.json from dir, tolerating a missing file.
func NewManager(dir string) (*Manager, error) {
	m := &Manager{
		path: filepath.Join(dir, "config.json"),
		data: fileData{Version: models.FormatVersion},
	}

	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(raw, &m.data); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}

// Vaults returns the recent vault file paths, most recent first.
func (m *Manager) Vaults() []string {
	return append([]string(nil), m.data.Vaults...)
}

// TouchVault moves path to the top of the recent list, inserting it if new.
func (m *Manager) TouchVault(path string) error {
	vaults := []string{path}
	for _, p := range m.data.Vaults {
		if p != path {
			vaults = append(vaults, p)
		}
	}
	m.data.Vaults = vaults
	return m.save()
}

// RemoveVault forgets a vault path.
func (m *Manager) RemoveVault(path string) error {
	vaults := m.data.Vaults[:0]
	for _, p := range m.data.Vaults {
		if p != path {
			vaults = append(vaults, p)
		}
	}
	m.data.Vaults = vaults
	return m.save()
}

// ReplaceVault swaps oldPath for newPath, keeping list position.
func (m *Manager) ReplaceVault(oldPath, newPath string) error {
	for i, p := range m.data.Vaults {
		if p == oldPath {
			m.data.Vaults[i] = newPath
		}
	}
	return m.save()
}

func (m *Manager) save() error {
	m.data.Version = models.FormatVersion
	raw, err := json.MarshalIndent(m.data, "", "    ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("create app directory: %w", err)
	}
	if err := os.WriteFile(m.path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
