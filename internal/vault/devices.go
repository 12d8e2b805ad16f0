package vault

import (
	"encoding/base64"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/avoronov/qrvault/internal/cipher"
	"github.com/avoronov/qrvault/internal/kdf"
	"github.com/avoronov/qrvault/internal/models"
)

// DeviceNames lists the known sync devices, sorted.
func (st *Store) DeviceNames() []string {
	names := make([]string, 0, len(st.devices))
	for name := range st.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasDevice reports whether a device snapshot exists under name.
func (st *Store) HasDevice(name string) bool {
	_, ok := st.devices[name]
	return ok
}

// SessionKey derives a transport key from the vault entropy. A nil salt
// mints a fresh random one (new sync session); a non-nil salt re-derives
// the key of an incoming session. Session salts are independent from the
// master-key salt: they never touch the at-rest encryption.
func (st *Store) SessionKey(salt []byte) (key, outSalt []byte, err error) {
	if st.state != Open {
		return nil, nil, ErrNotOpen
	}
	return kdf.Derive(st.entropy, salt, st.SessionCost)
}

// DeviceEntries decrypts the named device's snapshot with its stored salt.
// It returns the snapshot identifiers in order plus the decrypted entries
// by identifier; entries that fail to decrypt stay in ids but are missing
// from the map, which forces their retransmission on the next diff. An
// unknown device yields empty results (first sync).
func (st *Store) DeviceEntries(name string) (ids []string, byID map[string]models.Entry, err error) {
	if st.state != Open {
		return nil, nil, ErrNotOpen
	}

	byID = map[string]models.Entry{}
	device, ok := st.devices[name]
	if !ok {
		return nil, byID, nil
	}

	salt, err := base64.StdEncoding.DecodeString(device.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("decode device salt: %w", err)
	}
	key, _, err := kdf.Derive(st.entropy, salt, st.SessionCost)
	if err != nil {
		return nil, nil, err
	}
	defer kdf.Zero(key)

	for _, e := range device.Entries {
		ids = append(ids, e.ID)
		record, err := cipher.OpenRecord(e.Enc, e.IV, key)
		if err != nil {
			st.log.Warn("cannot decrypt device snapshot entry",
				zap.String("device", name), zap.String("id", e.ID), zap.Error(err))
			continue
		}
		byID[e.ID] = recordToEntry(e.ID, record)
	}
	return ids, byID, nil
}

// CommitDevice replaces the named device's snapshot with the current entry
// set sealed under the session key for salt, then saves. Called after a
// sync-to transmission completes.
func (st *Store) CommitDevice(name string, salt []byte) error {
	if st.state != Open {
		return ErrNotOpen
	}

	key, _, err := kdf.Derive(st.entropy, salt, st.SessionCost)
	if err != nil {
		return err
	}
	defer kdf.Zero(key)

	record := &models.DeviceRecord{
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Entries: make([]models.EncryptedEntry, 0, st.entries.len()),
	}
	for _, e := range st.entries.list() {
		enc, iv, err := cipher.SealRecord(entryToRecord(e), key)
		if err != nil {
			return fmt.Errorf("seal snapshot entry %s: %w", e.ID, err)
		}
		record.Entries = append(record.Entries, models.EncryptedEntry{ID: e.ID, Enc: enc, IV: iv})
	}

	st.devices[name] = record
	st.log.Info("device snapshot updated",
		zap.String("device", name), zap.Int("entries", len(record.Entries)))
	return st.Save()
}

// DeleteDevice forgets a sync device and saves.
func (st *Store) DeleteDevice(name string) error {
	if st.state != Open {
		return ErrNotOpen
	}
	if _, ok := st.devices[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchDevice, name)
	}
	delete(st.devices, name)
	return st.Save()
}
