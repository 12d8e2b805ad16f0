package vault

import (
	"github.com/avoronov/qrvault/internal/models"
)

// entrySet owns the dual representation of the vault's records: the
// decrypted working set and its encrypted mirror, kept index-aligned and
// newest-first. All mutation goes through the Store (Upsert/Remove), which
// re-seals after every change; the two slices are never mutated
// independently, which is what keeps "forgot to re-encrypt" impossible.
type entrySet struct {
	decrypted []models.Entry
	encrypted []models.EncryptedEntry
}

func (s *entrySet) len() int { return len(s.decrypted) }

// index returns the position of id in the set, or -1.
func (s *entrySet) index(id string) int {
	for i := range s.decrypted {
		if s.decrypted[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *entrySet) get(id string) (models.Entry, bool) {
	if i := s.index(id); i >= 0 {
		return s.decrypted[i].Clone(), true
	}
	return models.Entry{}, false
}

// insertFront prepends a new pair (most-recent-first ordering).
func (s *entrySet) insertFront(dec models.Entry, enc models.EncryptedEntry) {
	s.decrypted = append([]models.Entry{dec}, s.decrypted...)
	s.encrypted = append([]models.EncryptedEntry{enc}, s.encrypted...)
}

// replace overwrites the pair at the identifier's current position.
func (s *entrySet) replace(i int, dec models.Entry, enc models.EncryptedEntry) {
	s.decrypted[i] = dec
	s.encrypted[i] = enc
}

// remove deletes the pair holding id; reports whether anything was removed.
func (s *entrySet) remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.decrypted = append(s.decrypted[:i], s.decrypted[i+1:]...)
	s.encrypted = append(s.encrypted[:i], s.encrypted[i+1:]...)
	return true
}

// list returns a deep copy of the decrypted entries, newest-first.
func (s *entrySet) list() []models.Entry {
	out := make([]models.Entry, 0, len(s.decrypted))
	for _, e := range s.decrypted {
		out = append(out, e.Clone())
	}
	return out
}

// snapshot returns a copy of the encrypted mirror, newest-first.
func (s *entrySet) snapshot() []models.EncryptedEntry {
	out := make([]models.EncryptedEntry, len(s.encrypted))
	copy(out, s.encrypted)
	return out
}

func (s *entrySet) clear() {
	s.decrypted = nil
	s.encrypted = nil
}
