package reconcile

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avoronov/qrvault/internal/cipher"
	"github.com/avoronov/qrvault/internal/models"
)

type mockStore struct {
	upsertFn        func(id string, fields map[string]string) (string, error)
	removeFn        func(id string) bool
	entriesFn       func() []models.Entry
	sessionKeyFn    func(salt []byte) ([]byte, []byte, error)
	deviceEntriesFn func(name string) ([]string, map[string]models.Entry, error)
}

func (m *mockStore) Upsert(id string, fields map[string]string) (string, error) {
	return m.upsertFn(id, fields)
}
func (m *mockStore) Remove(id string) bool          { return m.removeFn(id) }
func (m *mockStore) Entries() []models.Entry        { return m.entriesFn() }
func (m *mockStore) SessionKey(salt []byte) ([]byte, []byte, error) {
	return m.sessionKeyFn(salt)
}
func (m *mockStore) DeviceEntries(name string) ([]string, map[string]models.Entry, error) {
	return m.deviceEntriesFn(name)
}

var (
	testKey  = bytes.Repeat([]byte{9}, 32)
	testSalt = bytes.Repeat([]byte{4}, 32)
)

func TestApplyPlaintextAdd(t *testing.T) {
	var gotID string
	var gotFields map[string]string
	store := &mockStore{upsertFn: func(id string, fields map[string]string) (string, error) {
		gotID, gotFields = id, fields
		return "assigned", nil
	}}

	r := New(zap.NewNop())
	err := r.Apply(store, models.Action{
		Act:    models.ActAdd,
		Fields: map[string]string{"site": "example.com", "pass": "s3cret"},
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, gotID, "local add lets the store assign the identifier")
	assert.Equal(t, map[string]string{"site": "example.com", "pass": "s3cret"}, gotFields)
}

func TestApplyEncryptedSync(t *testing.T) {
	enc, iv, err := cipher.SealRecord(map[string]string{
		"id": "e1", "site": "example.com", "user": "alice",
	}, testKey)
	require.NoError(t, err)

	var gotFields map[string]string
	store := &mockStore{upsertFn: func(id string, fields map[string]string) (string, error) {
		gotFields = fields
		return id, nil
	}}

	r := New(zap.NewNop())
	err = r.Apply(store, models.Action{Act: models.ActSync, ID: "e1", Enc: enc, IV: iv}, testKey)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"site": "example.com", "user": "alice"}, gotFields,
		"identifier travels outside the sealed fields")
}

func TestApplyEncryptedWrongKey(t *testing.T) {
	enc, iv, err := cipher.SealRecord(map[string]string{"id": "e1"}, testKey)
	require.NoError(t, err)

	store := &mockStore{upsertFn: func(string, map[string]string) (string, error) {
		t.Fatal("must not upsert undecryptable data")
		return "", nil
	}}

	r := New(zap.NewNop())
	err = r.Apply(store, models.Action{Act: models.ActAdd, ID: "e1", Enc: enc, IV: iv},
		bytes.Repeat([]byte{1}, 32))
	assert.Error(t, err)
}

func TestApplyLegacyNewAlias(t *testing.T) {
	called := false
	store := &mockStore{upsertFn: func(id string, fields map[string]string) (string, error) {
		called = true
		return id, nil
	}}

	r := New(zap.NewNop())
	err := r.Apply(store, models.Action{
		Act: models.ActNew, ID: "e1", Fields: map[string]string{"site": "x"},
	}, nil)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestApplyDelete(t *testing.T) {
	var removed []string
	store := &mockStore{removeFn: func(id string) bool {
		removed = append(removed, id)
		return id == "known"
	}}

	r := New(zap.NewNop())
	require.NoError(t, r.Apply(store, models.Action{Act: models.ActDelete, ID: "known"}, nil))
	require.NoError(t, r.Apply(store, models.Action{Act: models.ActDelete, ID: "unknown"}, nil),
		"deleting an absent entry is a no-op")
	assert.Equal(t, []string{"known", "unknown"}, removed)
}

func TestApplyUnknownKindIgnored(t *testing.T) {
	store := &mockStore{
		upsertFn: func(string, map[string]string) (string, error) {
			t.Fatal("unexpected upsert")
			return "", nil
		},
		removeFn: func(string) bool {
			t.Fatal("unexpected remove")
			return false
		},
	}

	r := New(zap.NewNop())
	assert.NoError(t, r.Apply(store, models.Action{Act: "explode", ID: "e1"}, nil))
}

func entry(id string, kv ...string) models.Entry {
	fields := map[string]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}
	return models.Entry{ID: id, Fields: fields}
}

func TestDiffOrdering(t *testing.T) {
	// Vault, newest-first.
	vaultEntries := []models.Entry{
		entry("e3", "site", "three"),
		entry("e2", "site", "two", "pass", "updated"),
		entry("e1", "site", "one"),
	}
	// Device snapshot: e2 is stale, e1 matches, e0 was deleted locally.
	snapIDs := []string{"e2", "e1", "e0"}
	snapshot := map[string]models.Entry{
		"e2": entry("e2", "site", "two", "pass", "old"),
		"e1": entry("e1", "site", "one"),
		"e0": entry("e0", "site", "zero"),
	}

	store := &mockStore{
		entriesFn: func() []models.Entry { return vaultEntries },
		deviceEntriesFn: func(name string) ([]string, map[string]models.Entry, error) {
			assert.Equal(t, "phone", name)
			return snapIDs, snapshot, nil
		},
		sessionKeyFn: func(salt []byte) ([]byte, []byte, error) {
			assert.Nil(t, salt, "diff mints a fresh session salt")
			return testKey, testSalt, nil
		},
	}

	r := New(zap.NewNop())
	actions, salt, err := r.Diff(store, "phone")
	require.NoError(t, err)
	assert.Equal(t, testSalt, salt)

	require.Len(t, actions, 3)
	assert.Equal(t, models.ActDelete, actions[0].Act, "deletes come first")
	assert.Equal(t, "e0", actions[0].ID)

	// Then changed entries, oldest first; e1 is unchanged and skipped.
	assert.Equal(t, models.ActSync, actions[1].Act)
	assert.Equal(t, "e2", actions[1].ID)
	assert.Equal(t, models.ActAdd, actions[2].Act)
	assert.Equal(t, "e3", actions[2].ID)

	for _, a := range actions[1:] {
		assert.True(t, a.Encrypted(), "carried entries are sealed for transport")
		assert.Nil(t, a.Fields, "plaintext never crosses the transport")

		record, err := cipher.OpenRecord(a.Enc, a.IV, testKey)
		require.NoError(t, err)
		assert.Equal(t, a.ID, record["id"], "identifier sealed inside the record too")
	}
}

func TestDiffFullExport(t *testing.T) {
	vaultEntries := []models.Entry{
		entry("e2", "site", "two"),
		entry("e1", "site", "one"),
	}
	store := &mockStore{
		entriesFn: func() []models.Entry { return vaultEntries },
		deviceEntriesFn: func(name string) ([]string, map[string]models.Entry, error) {
			assert.Empty(t, name)
			return nil, map[string]models.Entry{}, nil
		},
		sessionKeyFn: func([]byte) ([]byte, []byte, error) { return testKey, testSalt, nil },
	}

	r := New(zap.NewNop())
	actions, _, err := r.Diff(store, "")
	require.NoError(t, err)

	require.Len(t, actions, 2)
	assert.Equal(t, models.ActAdd, actions[0].Act)
	assert.Equal(t, "e1", actions[0].ID, "oldest entry travels first")
	assert.Equal(t, models.ActAdd, actions[1].Act)
	assert.Equal(t, "e2", actions[1].ID)
}

// fakeVault implements EntryStore with real merge and ordering semantics so
// a diff can be applied end to end.
type fakeVault struct {
	entries []models.Entry // newest-first
	nextID  int
}

func (f *fakeVault) Upsert(id string, fields map[string]string) (string, error) {
	if id == "" {
		f.nextID++
		id = fmt.Sprintf("gen-%d", f.nextID)
	}
	for i := range f.entries {
		if f.entries[i].ID == id {
			for k, v := range fields {
				if k != "id" {
					f.entries[i].Fields[k] = v
				}
			}
			return id, nil
		}
	}
	e := models.Entry{ID: id, Fields: map[string]string{}}
	for k, v := range fields {
		if k != "id" {
			e.Fields[k] = v
		}
	}
	f.entries = append([]models.Entry{e}, f.entries...)
	return id, nil
}

func (f *fakeVault) Remove(id string) bool {
	for i := range f.entries {
		if f.entries[i].ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakeVault) Entries() []models.Entry {
	out := make([]models.Entry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Clone())
	}
	return out
}

func (f *fakeVault) SessionKey(salt []byte) ([]byte, []byte, error) {
	if salt == nil {
		salt = testSalt
	}
	return testKey, salt, nil
}

func (f *fakeVault) DeviceEntries(string) ([]string, map[string]models.Entry, error) {
	return nil, map[string]models.Entry{}, nil
}

func TestDiffApplyRoundTrip(t *testing.T) {
	src := &fakeVault{entries: []models.Entry{
		entry("e3", "site", "three", "pass", "c"),
		entry("e2", "site", "two", "pass", "b"),
		entry("e1", "site", "one", "pass", "a"),
	}}

	r := New(zap.NewNop())
	actions, salt, err := r.Diff(src, "laptop")
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, testSalt, salt)

	dst := &fakeVault{}
	require.NoError(t, r.ApplyAll(dst, actions, testKey))
	assert.Equal(t, src.Entries(), dst.Entries(),
		"full export reconstructs content and newest-first order")

	// Reapplying the same actions changes nothing.
	require.NoError(t, r.ApplyAll(dst, actions, testKey))
	assert.Equal(t, src.Entries(), dst.Entries())
}

func TestDiffApplyConvergesAfterEdits(t *testing.T) {
	r := New(zap.NewNop())

	src := &fakeVault{entries: []models.Entry{
		entry("e2", "site", "two", "pass", "original"),
		entry("e1", "site", "one"),
	}}
	dst := &fakeVault{entries: []models.Entry{
		entry("e2", "site", "two", "pass", "original"),
		entry("e1", "site", "one"),
		entry("e0", "site", "zero"),
	}}

	// The source edited e2, added e3 and deleted e0 since the last sync;
	// the snapshot is what dst currently holds.
	src.entries = append([]models.Entry{entry("e3", "site", "three")}, src.entries...)
	src.entries[1].Fields["pass"] = "rotated"

	snapshot := &fakeVault{entries: dst.Entries()}
	withSnapshot := &snapshotStore{fakeVault: src, ids: []string{"e2", "e1", "e0"}, snap: snapshot}

	actions, _, err := r.Diff(withSnapshot, "phone")
	require.NoError(t, err)

	require.NoError(t, r.ApplyAll(dst, actions, testKey))

	want := map[string]map[string]string{}
	for _, e := range src.Entries() {
		want[e.ID] = e.Fields
	}
	got := map[string]map[string]string{}
	for _, e := range dst.Entries() {
		got[e.ID] = e.Fields
	}
	assert.Equal(t, want, got, "both sides hold the same records after sync")
}

// snapshotStore overlays a device snapshot on a fakeVault.
type snapshotStore struct {
	*fakeVault
	ids  []string
	snap *fakeVault
}

func (s *snapshotStore) DeviceEntries(string) ([]string, map[string]models.Entry, error) {
	byID := map[string]models.Entry{}
	for _, e := range s.snap.Entries() {
		byID[e.ID] = e
	}
	return s.ids, byID, nil
}
