// Package vault holds the in-memory representation of one vault: the entry
// working set with its encrypted mirror, per-device synchronization state
// and the master-key lifecycle.
package vault

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avoronov/qrvault/internal/cipher"
	"github.com/avoronov/qrvault/internal/kdf"
	"github.com/avoronov/qrvault/internal/mnemonic"
	"github.com/avoronov/qrvault/internal/models"
)

// State is the vault lifecycle state.
type State int

const (
	// Closed means no vault is loaded and no secrets are held.
	Closed State = iota
	// Opening means an open attempt is in flight; any failure falls back
	// to Closed.
	Opening
	// Open means secrets are decrypted and the master key is in memory.
	Open
)

var (
	// ErrNotOpen means the operation requires an open vault.
	ErrNotOpen = errors.New("vault: not open")
	// ErrAlreadyOpen means a vault is loaded and must be closed first.
	ErrAlreadyOpen = errors.New("vault: already open")
	// ErrNoSuchDevice means the named sync device does not exist.
	ErrNoSuchDevice = errors.New("vault: no such device")
	// ErrVaultExists means a vault file with that name already exists.
	ErrVaultExists = errors.New("vault: vault already exists")
)

// EntryDecryptError reports a single entry that failed to decrypt during
// open, carrying the offending identifier so the user can decide whether
// to proceed without it.
type EntryDecryptError struct {
	ID  string
	Err error
}

func (e *EntryDecryptError) Error() string {
	return fmt.Sprintf("vault: cannot decrypt entry %s: %v", e.ID, e.Err)
}

func (e *EntryDecryptError) Unwrap() error { return e.Err }

// Credentials unlock a vault: either the mnemonic phrase directly, or a
// master password that decrypts the stored mnemonic.
type Credentials struct {
	Words          []string
	MasterPassword string
}

// OpenOptions tune the open path.
type OpenOptions struct {
	// SkipCorrupt drops entries that fail decryption instead of aborting
	// the whole open. The skipped identifiers are logged.
	SkipCorrupt bool
}

// Store is one vault. All entry mutation goes through Upsert/Remove, which
// the reconciler alone is expected to call, and everything runs on a single
// logical thread; the Store does no locking of its own.
type Store struct {
	log *zap.Logger
	dir string

	// MasterCost and SessionCost are the scrypt costs for the at-rest
	// master key and for device/sync-session keys. Defaults are
	// kdf.CostMaster and kdf.CostInteractive.
	MasterCost  int
	SessionCost int

	state   State
	path    string
	name    string
	entries entrySet
	devices map[string]*models.DeviceRecord

	words      []string
	entropy    []byte
	masterKey  []byte
	masterSalt []byte

	// Persisted mnemonic protection (current format only; the legacy
	// variant is upgraded away during open).
	mnemonicEnc   string
	mnemonicSalt1 string
	mnemonicSalt2 string
}

// New creates a closed store rooted at the application directory.
func New(dir string, log *zap.Logger) *Store {
	return &Store{
		log:         log,
		dir:         dir,
		MasterCost:  kdf.CostMaster,
		SessionCost: kdf.CostInteractive,
		devices:     map[string]*models.DeviceRecord{},
	}
}

// State returns the lifecycle state.
func (st *Store) State() State { return st.state }

// Name returns the open vault's name.
func (st *Store) Name() string { return st.name }

// Path returns the open vault's file path.
func (st *Store) Path() string { return st.path }

// Mnemonic returns the open vault's recovery phrase.
func (st *Store) Mnemonic() []string { return append([]string(nil), st.words...) }

// Entries returns a deep copy of the decrypted working set, newest-first.
func (st *Store) Entries() []models.Entry { return st.entries.list() }

// Entry returns a copy of one decrypted entry by identifier.
func (st *Store) Entry(id string) (models.Entry, bool) { return st.entries.get(id) }

// Create initializes a brand-new vault file and leaves it open. When
// masterPassword is non-empty the mnemonic is stored encrypted under it.
func (st *Store) Create(name string, words []string, masterPassword string) error {
	if st.state != Closed {
		return ErrAlreadyOpen
	}

	entropy, err := mnemonic.ToEntropy(words)
	if err != nil {
		return err
	}

	path := filepath.Join(st.dir, "vaults", safeFileName(name))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrVaultExists, name)
	}

	st.state = Opening
	st.name = name
	st.path = path
	st.words = append([]string(nil), words...)
	st.entropy = entropy
	st.devices = map[string]*models.DeviceRecord{}

	if masterPassword != "" {
		enc, salt1, salt2, err := cipher.EncryptMnemonic(words, masterPassword)
		if err != nil {
			st.reset()
			return fmt.Errorf("protect mnemonic: %w", err)
		}
		st.mnemonicEnc, st.mnemonicSalt1, st.mnemonicSalt2 = enc, salt1, salt2
	}

	if err := st.rotateMasterKey(); err != nil {
		st.reset()
		return err
	}

	st.state = Open
	if err := st.Save(); err != nil {
		st.reset()
		return err
	}

	st.log.Info("vault created", zap.String("name", name), zap.String("path", path))
	return nil
}

// Open loads a vault file, unlocks it with the given credentials, decrypts
// every stored entry under the persisted master salt and then rotates the
// master key with a fresh one. Any failure rolls back to Closed; the vault
// is never left partially open.
func (st *Store) Open(path string, creds Credentials, opts OpenOptions) error {
	if st.state != Closed {
		return ErrAlreadyOpen
	}
	st.state = Opening

	file, err := readVaultFile(path)
	if err != nil {
		st.reset()
		return err
	}

	words, upgraded, err := st.resolveMnemonic(file, creds)
	if err != nil {
		st.reset()
		return err
	}

	entropy, err := mnemonic.ToEntropy(words)
	if err != nil {
		st.reset()
		// Garbage words out of a legacy decrypt mean a wrong password,
		// not a damaged file.
		if upgraded {
			return fmt.Errorf("%w: %v", cipher.ErrWrongPassword, err)
		}
		return err
	}

	prevSalt, err := base64.StdEncoding.DecodeString(file.MasterSalt)
	if err != nil {
		st.reset()
		return fmt.Errorf("decode master salt: %w", err)
	}
	prevKey, _, err := kdf.Derive(entropy, prevSalt, masterCostFor(file.Version, st.MasterCost))
	if err != nil {
		st.reset()
		return err
	}
	defer kdf.Zero(prevKey)

	st.name = file.Name
	st.path = path
	st.words = append([]string(nil), words...)
	st.entropy = entropy
	st.devices = file.Devices
	if st.devices == nil {
		st.devices = map[string]*models.DeviceRecord{}
	}
	if !upgraded {
		st.mnemonicEnc = file.MnemonicEncrypted
		st.mnemonicSalt1 = file.MnemonicSalt1
		st.mnemonicSalt2 = file.MnemonicSalt2
	}
	if upgraded {
		// Re-protect with the current format and drop the legacy fields.
		enc, salt1, salt2, err := cipher.EncryptMnemonic(words, creds.MasterPassword)
		if err != nil {
			st.reset()
			return fmt.Errorf("upgrade mnemonic protection: %w", err)
		}
		st.mnemonicEnc, st.mnemonicSalt1, st.mnemonicSalt2 = enc, salt1, salt2
		st.log.Info("upgraded legacy mnemonic protection", zap.String("vault", file.Name))
	}

	decrypted, err := st.decryptEntries(file.Entries, prevKey, opts)
	if err != nil {
		st.reset()
		return err
	}

	// Rotate: fresh salt, fresh key, everything re-sealed so previously
	// captured ciphertexts are invalidated on the next save.
	if err := st.rotateMasterKey(); err != nil {
		st.reset()
		return err
	}
	for i := len(decrypted) - 1; i >= 0; i-- {
		e := decrypted[i]
		enc, err := st.seal(e)
		if err != nil {
			st.reset()
			return err
		}
		st.entries.insertFront(e, enc)
	}

	st.state = Open
	st.log.Info("vault opened",
		zap.String("name", st.name),
		zap.Int("entries", st.entries.len()),
		zap.Bool("upgraded", upgraded))

	if upgraded {
		return st.Save()
	}
	return nil
}

// resolveMnemonic picks the mnemonic source once at load time: plain words
// from the caller, or the stored ciphertext in whichever of the two formats
// the file carries. Reports whether the legacy format was decrypted (and
// must therefore be upgraded).
func (st *Store) resolveMnemonic(file *models.VaultFile, creds Credentials) ([]string, bool, error) {
	if creds.MasterPassword == "" {
		if len(creds.Words) == 0 {
			return nil, false, errors.New("vault: no credentials supplied")
		}
		return creds.Words, false, nil
	}

	if !file.PasswordProtected() {
		return nil, false, errors.New("vault: not master-password protected")
	}

	// Current format carries the KDF salt; legacy carries only the IV.
	if file.MnemonicSalt1 != "" {
		words, err := cipher.DecryptMnemonic(
			file.MnemonicEncrypted, file.MnemonicSalt1, file.MnemonicSalt2, creds.MasterPassword)
		if err != nil {
			return nil, false, err
		}
		return words, false, nil
	}

	words, err := cipher.DecryptMnemonicLegacy(
		file.MnemonicEncrypted, file.MnemonicLegacyIV, creds.MasterPassword)
	if err != nil {
		return nil, false, err
	}
	return words, true, nil
}

// decryptEntries opens every persisted entry under the previous master key,
// preserving order. A failing entry aborts the open unless SkipCorrupt.
func (st *Store) decryptEntries(entries []models.EncryptedEntry, key []byte, opts OpenOptions) ([]models.Entry, error) {
	out := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || e.Enc == "" || e.IV == "" {
			st.log.Warn("skipping malformed vault entry", zap.String("id", e.ID))
			continue
		}
		record, err := cipher.OpenRecord(e.Enc, e.IV, key)
		if err == nil && record["id"] == "" {
			err = fmt.Errorf("%w: sealed record has no id", cipher.ErrIntegrity)
		}
		if err != nil {
			if opts.SkipCorrupt {
				st.log.Warn("dropping undecryptable entry",
					zap.String("id", e.ID), zap.Error(err))
				continue
			}
			return nil, &EntryDecryptError{ID: e.ID, Err: err}
		}
		out = append(out, recordToEntry(e.ID, record))
	}
	return out, nil
}

// rotateMasterKey derives a fresh master key under a brand-new salt.
func (st *Store) rotateMasterKey() error {
	key, salt, err := kdf.Derive(st.entropy, nil, st.MasterCost)
	if err != nil {
		return fmt.Errorf("rotate master key: %w", err)
	}
	kdf.Zero(st.masterKey)
	st.masterKey = key
	st.masterSalt = salt
	return nil
}

// Upsert merges the given fields into the entry with id, inserting a new
// entry at the front when the identifier is unknown, and re-seals it under
// the master key with a fresh IV. An empty id assigns a new one. Only the
// fields present in the map are touched; absent fields stay unchanged.
// Returns the identifier actually used.
//
// This is the single mutation entry point; it is meant to be called only
// by the action reconciler.
func (st *Store) Upsert(id string, fields map[string]string) (string, error) {
	if st.state != Open {
		return "", ErrNotOpen
	}
	if id == "" {
		id = uuid.NewString()
	}

	merged := models.Entry{ID: id, Fields: map[string]string{}}
	if existing, ok := st.entries.get(id); ok {
		merged = existing
	}
	for k, v := range fields {
		if k == "id" {
			continue
		}
		merged.Fields[k] = v
	}

	enc, err := st.seal(merged)
	if err != nil {
		return "", err
	}

	if i := st.entries.index(id); i >= 0 {
		st.entries.replace(i, merged, enc)
	} else {
		st.entries.insertFront(merged, enc)
	}
	return id, nil
}

// Remove deletes the entry with id from both representations. Removing an
// unknown identifier is a no-op.
func (st *Store) Remove(id string) bool {
	if st.state != Open {
		return false
	}
	return st.entries.remove(id)
}

// seal encrypts one entry (identifier included inside the record) under the
// current master key.
func (st *Store) seal(e models.Entry) (models.EncryptedEntry, error) {
	enc, iv, err := cipher.SealRecord(entryToRecord(e), st.masterKey)
	if err != nil {
		return models.EncryptedEntry{}, fmt.Errorf("seal entry %s: %w", e.ID, err)
	}
	return models.EncryptedEntry{ID: e.ID, Enc: enc, IV: iv}, nil
}

// Save re-encrypts nothing (entries are already sealed under the in-memory
// master key) and writes the whole vault file, stripping every secret:
// mnemonic, entropy, master key and the decrypted working set never land
// on disk.
func (st *Store) Save() error {
	if st.state != Open {
		return ErrNotOpen
	}

	file := &models.VaultFile{
		Name:              st.name,
		Version:           models.FormatVersion,
		Entries:           st.entries.snapshot(),
		Devices:           st.devices,
		MasterSalt:        base64.StdEncoding.EncodeToString(st.masterSalt),
		MnemonicEncrypted: st.mnemonicEnc,
		MnemonicSalt1:     st.mnemonicSalt1,
		MnemonicSalt2:     st.mnemonicSalt2,
	}
	if err := writeVaultFile(st.path, file); err != nil {
		return err
	}
	st.log.Debug("vault saved", zap.String("path", st.path), zap.Int("entries", st.entries.len()))
	return nil
}

// Rename rewrites the vault under a safe filename derived from the new name
// and removes the old file.
func (st *Store) Rename(newName string) error {
	if st.state != Open {
		return ErrNotOpen
	}
	oldPath := st.path
	st.name = newName
	st.path = filepath.Join(st.dir, "vaults", safeFileName(newName))
	if err := st.Save(); err != nil {
		return err
	}
	if oldPath != st.path {
		if err := os.Remove(oldPath); err != nil {
			st.log.Warn("cannot remove old vault file", zap.String("path", oldPath), zap.Error(err))
		}
	}
	return nil
}

// Destroy removes the vault file and closes the store.
func (st *Store) Destroy() error {
	if st.state != Open {
		return ErrNotOpen
	}
	path := st.path
	st.Close()
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove vault file: %w", err)
	}
	return nil
}

// Close wipes all secret material and returns to Closed.
func (st *Store) Close() {
	st.reset()
	st.log.Debug("vault closed")
}

func (st *Store) reset() {
	kdf.Zero(st.entropy)
	kdf.Zero(st.masterKey)
	kdf.Zero(st.masterSalt)
	st.entropy = nil
	st.masterKey = nil
	st.masterSalt = nil
	st.words = nil
	st.entries.clear()
	st.devices = map[string]*models.DeviceRecord{}
	st.mnemonicEnc = ""
	st.mnemonicSalt1 = ""
	st.mnemonicSalt2 = ""
	st.name = ""
	st.path = ""
	st.state = Closed
}

func entryToRecord(e models.Entry) map[string]string {
	record := make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		record[k] = v
	}
	record["id"] = e.ID
	return record
}

func recordToEntry(id string, record map[string]string) models.Entry {
	fields := make(map[string]string, len(record))
	for k, v := range record {
		if k == "id" {
			continue
		}
		fields[k] = v
	}
	return models.Entry{ID: id, Fields: fields}
}
