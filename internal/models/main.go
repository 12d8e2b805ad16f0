// Package models defines the core data structures shared between the vault
// store, the action reconciler and the QR transport codec.
package models

// FormatVersion is the vault file format written by this build. Files whose
// version is semantically newer must be rejected, not parsed.
const FormatVersion = "2.1.0"

// Action kinds understood by the reconciler.
const (
	// ActAdd inserts a new entry.
	ActAdd = "add"
	// ActNew is a legacy alias for ActAdd kept for wire compatibility
	// with old senders.
	ActNew = "new"
	// ActSync adds or updates an entry by identifier (idempotent).
	ActSync = "sync"
	// ActDelete removes an entry by identifier.
	ActDelete = "delete"
)

// Entry is a decrypted credential record. Fields is an open string map
// ("site", "user", "pass", "notes", ...) so future fields do not break
// older readers. The identifier is assigned once at creation and never
// reused within a vault.
type Entry struct {
	// ID is the stable unique identifier of the record.
	ID string
	// Fields holds the free-form credential fields.
	Fields map[string]string
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	fields := make(map[string]string, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	return Entry{ID: e.ID, Fields: fields}
}

// FieldsEqual reports whether both entries carry exactly the same fields.
func (e Entry) FieldsEqual(other Entry) bool {
	if len(e.Fields) != len(other.Fields) {
		return false
	}
	for k, v := range e.Fields {
		if ov, ok := other.Fields[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// EncryptedEntry is the persisted counterpart of an Entry.
type EncryptedEntry struct {
	// ID is the plaintext identifier (also present inside the sealed record).
	ID string `json:"id"`
	// Enc is the base64-encoded ciphertext.
	Enc string `json:"enc"`
	// IV is the base64-encoded AES initialization vector.
	IV string `json:"iv"`
}

// Action is a unit of change: the sole mutation interface into a vault and
// the payload of QR synchronization. For add/sync either Fields (local
// plaintext edit) or Enc+IV (transport-encrypted) is set.
type Action struct {
	// Act is one of ActAdd, ActNew, ActSync, ActDelete.
	Act string `json:"act"`
	// ID is the entry identifier; empty only for purely local new entries.
	ID string `json:"id,omitempty"`
	// Enc is the base64 ciphertext of the carried record, if encrypted.
	Enc string `json:"enc,omitempty"`
	// IV is the base64 IV matching Enc.
	IV string `json:"iv,omitempty"`
	// Fields carries plaintext field updates for locally produced actions.
	// It never crosses a transport.
	Fields map[string]string `json:"-"`
}

// Encrypted reports whether the action carries a sealed record.
func (a Action) Encrypted() bool { return a.Enc != "" && a.IV != "" }

// DeviceRecord is the last-known state of a synchronization peer: the entry
// set as it was transmitted, sealed under a device key derived from the
// vault entropy and Salt.
type DeviceRecord struct {
	// Entries is the snapshot, newest-first, sealed under the device key.
	Entries []EncryptedEntry `json:"entries"`
	// Salt is the base64 scrypt salt of the device key.
	Salt string `json:"salt"`
}

// VaultFile is the persisted form of a vault. Secret material (mnemonic,
// entropy, master key, decrypted entries) never appears here except in the
// master-password-encrypted mnemonic fields.
type VaultFile struct {
	// Name is the user-visible vault name.
	Name string `json:"name"`
	// Version is the semantic format version the file was written with.
	Version string `json:"version"`
	// Entries is the encrypted entry list, newest-first.
	Entries []EncryptedEntry `json:"entries"`
	// Devices maps device name to its last-synced snapshot.
	Devices map[string]*DeviceRecord `json:"devices,omitempty"`
	// MasterSalt is the base64 scrypt salt of the master key the entries
	// are currently sealed under.
	MasterSalt string `json:"master_salt"`

	// MnemonicEncrypted, MnemonicSalt1 and MnemonicSalt2 hold the
	// master-password-protected mnemonic (current format). All base64.
	MnemonicEncrypted string `json:"mnemonic_encrypted,omitempty"`
	MnemonicSalt1     string `json:"mnemonic_salt_1,omitempty"`
	MnemonicSalt2     string `json:"mnemonic_salt_2,omitempty"`

	// MnemonicLegacyIV marks the pre-2.0 mnemonic encryption (no KDF salt,
	// double-SHA-256 key). Present only until the first successful open,
	// which upgrades the vault to the current format.
	MnemonicLegacyIV string `json:"mnemonic_encrypted_iv,omitempty"`
}

// PasswordProtected reports whether the vault mnemonic is stored encrypted
// under a master password (either format).
func (v *VaultFile) PasswordProtected() bool {
	return v.MnemonicEncrypted != ""
}
