package store

import (
	"sort"
	"sync"

	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/samber/lo"
)

// ReadToken identifies one mark-all-read operation. Seq is the store's
// insertion sequence at issue time: only notifications inserted at or
// before it are covered by the operation.
type ReadToken struct {
	ID  uint64
	Seq uint64
}

type notificationEntry struct {
	n   models.Notification
	seq uint64
}

// NotificationStore holds notifications ordered by createdAt descending.
type NotificationStore struct {
	mu        sync.RWMutex
	items     map[string]*notificationEntry
	seq       uint64
	lastToken uint64
}

// NewNotificationStore creates an empty notification store.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{items: make(map[string]*notificationEntry)}
}

// Insert adds a notification. A known id only has its read flag OR-ed in,
// so a redelivered unread copy never un-reads it.
func (s *NotificationStore) Insert(n models.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(n)
}

func (s *NotificationStore) insertLocked(n models.Notification) bool {
	if e, ok := s.items[n.ID]; ok {
		e.n.IsRead = e.n.IsRead || n.IsRead
		return false
	}

	s.seq++
	s.items[n.ID] = &notificationEntry{n: n, seq: s.seq}

	return true
}

// LoadSnapshot merges a notifications snapshot. Entries missing from the
// snapshot are dropped unless created after the request was issued.
func (s *NotificationStore) LoadSnapshot(snap models.Snapshot[models.Notification]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inSnap := lo.SliceToMap(snap.Items, func(n models.Notification) (string, struct{}) { return n.ID, struct{}{} })

	for id, e := range s.items {
		if _, ok := inSnap[id]; ok {
			continue
		}

		if !e.n.CreatedAt.After(snap.RequestedAt) {
			delete(s.items, id)
		}
	}

	for _, n := range snap.Items {
		s.insertLocked(n)
	}
}

// MarkAllRead marks every known notification read and returns the token
// for the operation.
func (s *NotificationStore) MarkAllRead() ReadToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.items {
		e.n.IsRead = true
	}

	s.lastToken++

	return ReadToken{ID: s.lastToken, Seq: s.seq}
}

// ConfirmRead applies a server confirmation for tok. Notifications
// inserted after the token was issued are left untouched.
func (s *NotificationStore) ConfirmRead(tok ReadToken) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0

	for _, e := range s.items {
		if e.seq <= tok.Seq && !e.n.IsRead {
			e.n.IsRead = true
			marked++
		}
	}

	return marked
}

// List returns notifications ordered by createdAt descending, ties by id.
func (s *NotificationStore) List() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := lo.MapToSlice(s.items, func(_ string, e *notificationEntry) models.Notification { return e.n })

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}

		return out[i].ID < out[j].ID
	})

	return out
}

// Unread counts notifications with isRead false.
func (s *NotificationStore) Unread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.CountBy(lo.Values(s.items), func(e *notificationEntry) bool { return !e.n.IsRead })
}
