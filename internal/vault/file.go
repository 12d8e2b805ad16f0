package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"

	"github.com/avoronov/qrvault/internal/kdf"
	"github.com/avoronov/qrvault/internal/models"
)

// ErrFormatVersion means the vault file was written by a newer build and
// cannot be parsed safely. Fatal for that file only.
var ErrFormatVersion = errors.New("vault: file format newer than supported, upgrade required")

// readVaultFile loads and validates a persisted vault, rejecting files whose
// format version is semantically newer than this build understands.
func readVaultFile(path string) (*models.VaultFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vault file: %w", err)
	}

	var file models.VaultFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse vault file: %w", err)
	}

	if file.Version != "" {
		fileVer, err := semver.NewVersion(file.Version)
		if err != nil {
			return nil, fmt.Errorf("parse vault version %q: %w", file.Version, err)
		}
		if fileVer.GreaterThan(semver.MustParse(models.FormatVersion)) {
			return nil, fmt.Errorf("%w: file version %s, supported %s",
				ErrFormatVersion, file.Version, models.FormatVersion)
		}
	}

	return &file, nil
}

// writeVaultFile persists the vault as a whole file with owner-only
// permissions. Partial-write protection is the filesystem's concern.
func writeVaultFile(path string, file *models.VaultFile) error {
	raw, err := json.MarshalIndent(file, "", "    ")
	if err != nil {
		return fmt.Errorf("encode vault file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create vaults directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write vault file: %w", err)
	}
	return nil
}

// safeFileName derives a filesystem-safe file name from a vault name,
// keeping only letters, digits and spaces.
func safeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), " ") + ".json"
}

// masterCostFor returns the scrypt cost the master key was derived with for
// a given file format version. Pre-2.1 vaults used the interactive cost;
// they stay decodable and are silently re-encrypted at the current cost on
// the next save. Files at the current format use the store's configured
// cost.
func masterCostFor(version string, current int) int {
	if version == "" {
		return kdf.CostInteractive
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return kdf.CostInteractive
	}
	if v.LessThan(semver.MustParse("2.1.0")) {
		return kdf.CostInteractive
	}
	return current
}
