package store

import (
	"sync"

	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/samber/lo"
)

// PresenceStore keeps one record per known user. A record only moves
// forward: events with a timestamp at or below the stored one are
// discarded, so a reordered stale "offline" cannot override a newer
// "online".
type PresenceStore struct {
	mu      sync.RWMutex
	records map[string]models.PresenceRecord
}

// NewPresenceStore creates an empty presence store.
func NewPresenceStore() *PresenceStore {
	return &PresenceStore{records: make(map[string]models.PresenceRecord)}
}

// Set applies a presence event if ts is strictly newer than the stored
// timestamp for userID. It reports whether the record changed.
func (s *PresenceStore) Set(userID string, online bool, ts int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setLocked(userID, online, ts)
}

func (s *PresenceStore) setLocked(userID string, online bool, ts int64) bool {
	if rec, ok := s.records[userID]; ok && ts <= rec.LastEventTimestamp {
		return false
	}

	s.records[userID] = models.PresenceRecord{
		UserID:             userID,
		Online:             online,
		LastEventTimestamp: ts,
	}

	return true
}

// LoadOnline applies an online-friends snapshot. Users in the snapshot
// become online and the remaining known users offline, all stamped with
// the snapshot's request time and subject to the strictly-newer rule.
func (s *PresenceStore) LoadOnline(snap models.Snapshot[models.User], known []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := snap.RequestedAt.UnixMilli()
	online := lo.SliceToMap(snap.Items, func(u models.User) (string, bool) { return u.ID, true })

	changed := 0

	for id := range online {
		if s.setLocked(id, true, ts) {
			changed++
		}
	}

	for _, id := range known {
		if online[id] {
			continue
		}

		if s.setLocked(id, false, ts) {
			changed++
		}
	}

	return changed
}

// Get returns the record for userID.
func (s *PresenceStore) Get(userID string) (models.PresenceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]

	return rec, ok
}

// Online reports whether userID is currently online.
func (s *PresenceStore) Online(userID string) bool {
	rec, ok := s.Get(userID)
	return ok && rec.Online
}
