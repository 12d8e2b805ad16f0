// Package reconcile applies add/sync/delete actions to a vault and computes
// the minimal action list that brings a remote device's last-known state up
// to date with the local vault, without a live connection.
package reconcile

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/avoronov/qrvault/internal/cipher"
	"github.com/avoronov/qrvault/internal/models"
)

// EntryStore is the slice of the vault store the reconciler needs. It is
// the sole mutation path into the entry set.
type EntryStore interface {
	// Upsert merges fields into the entry with id (front-inserting new
	// identifiers, assigning one when empty) and re-seals it.
	Upsert(id string, fields map[string]string) (string, error)
	// Remove deletes an entry; unknown identifiers are a no-op.
	Remove(id string) bool
	// Entries returns the decrypted working set, newest-first.
	Entries() []models.Entry
	// SessionKey derives a transport key from the vault entropy; nil salt
	// mints a fresh session salt.
	SessionKey(salt []byte) (key, outSalt []byte, err error)
	// DeviceEntries returns a device snapshot's identifiers in order and
	// its decrypted entries by identifier.
	DeviceEntries(name string) ([]string, map[string]models.Entry, error)
}

// Reconciler applies and computes synchronization actions.
type Reconciler struct {
	log *zap.Logger
}

// New constructs a Reconciler.
func New(log *zap.Logger) *Reconciler {
	return &Reconciler{log: log}
}

// Apply executes one action against the store. Incoming ciphertext is
// opened with transportKey (the sync-session key, never the master key);
// plaintext fields come straight from local edits. Applying the same sync
// action twice yields the same end state. Unknown action kinds are logged
// and ignored.
func (r *Reconciler) Apply(store EntryStore, action models.Action, transportKey []byte) error {
	switch action.Act {
	case models.ActAdd, models.ActNew, models.ActSync:
		fields := action.Fields
		if action.Encrypted() {
			record, err := cipher.OpenRecord(action.Enc, action.IV, transportKey)
			if err != nil {
				return fmt.Errorf("open incoming entry %s: %w", action.ID, err)
			}
			fields = record
			delete(fields, "id")
		}
		id, err := store.Upsert(action.ID, fields)
		if err != nil {
			return err
		}
		r.log.Debug("applied action", zap.String("act", action.Act), zap.String("id", id))
		return nil

	case models.ActDelete:
		removed := store.Remove(action.ID)
		r.log.Debug("applied delete", zap.String("id", action.ID), zap.Bool("removed", removed))
		return nil

	default:
		r.log.Warn("unknown action kind, ignoring", zap.String("act", action.Act))
		return nil
	}
}

// ApplyAll executes actions in order, stopping at the first failure.
func (r *Reconciler) ApplyAll(store EntryStore, actions []models.Action, transportKey []byte) error {
	for _, action := range actions {
		if err := r.Apply(store, action, transportKey); err != nil {
			return err
		}
	}
	return nil
}

// Diff computes the actions that bring the named device's snapshot up to
// date with the vault. Deletes come first (identifiers the device still
// holds but the vault dropped), then the vault's entries oldest-first, so
// that front insertion on the receiver reconstructs the vault's
// newest-first order. Unchanged entries are skipped. Each carried entry is
// sealed under a fresh session key; the minted salt is returned and must
// travel with the payload so the receiver can derive the same key. An empty
// device name diffs against an empty snapshot (full export).
func (r *Reconciler) Diff(store EntryStore, deviceName string) ([]models.Action, []byte, error) {
	snapshotIDs, snapshot, err := store.DeviceEntries(deviceName)
	if err != nil {
		return nil, nil, err
	}

	entries := store.Entries()
	vaultIDs := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		vaultIDs[e.ID] = struct{}{}
	}

	var actions []models.Action
	for _, id := range snapshotIDs {
		if _, ok := vaultIDs[id]; !ok {
			actions = append(actions, models.Action{Act: models.ActDelete, ID: id})
		}
	}

	known := make(map[string]struct{}, len(snapshotIDs))
	for _, id := range snapshotIDs {
		known[id] = struct{}{}
	}

	key, salt, err := store.SessionKey(nil)
	if err != nil {
		return nil, nil, err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if deviceEntry, ok := snapshot[e.ID]; ok && deviceEntry.FieldsEqual(e) {
			continue
		}

		act := models.ActAdd
		if _, ok := known[e.ID]; ok {
			act = models.ActSync
		}

		record := make(map[string]string, len(e.Fields)+1)
		for k, v := range e.Fields {
			record[k] = v
		}
		record["id"] = e.ID
		enc, iv, err := cipher.SealRecord(record, key)
		if err != nil {
			return nil, nil, fmt.Errorf("seal entry %s for transport: %w", e.ID, err)
		}
		actions = append(actions, models.Action{Act: act, ID: e.ID, Enc: enc, IV: iv})
	}

	r.log.Debug("computed diff",
		zap.String("device", deviceName), zap.Int("actions", len(actions)))
	return actions, salt, nil
}
