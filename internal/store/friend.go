package store

import (
	"sort"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/social-sync/internal/errors"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/samber/lo"
)

// RequestPhase is the client-side lifecycle of a friend request. It adds
// the in-flight phases to the server's status.
type RequestPhase string

const (
	PhasePending   RequestPhase = "pending"
	PhaseAccepting RequestPhase = "accepting"
	PhaseDeclining RequestPhase = "declining"
	PhaseAccepted  RequestPhase = "accepted"
	PhaseDeclined  RequestPhase = "declined"
)

// Terminal reports whether the phase can no longer change.
func (p RequestPhase) Terminal() bool {
	return p == PhaseAccepted || p == PhaseDeclined
}

// InFlight reports whether a mutation for the request awaits the server.
func (p RequestPhase) InFlight() bool {
	return p == PhaseAccepting || p == PhaseDeclining
}

type requestEntry struct {
	req        models.FriendRequest
	phase      RequestPhase
	lastErr    error
	outgoing   bool
	resolvedAt time.Time
}

// RequestView is a read-only copy of a request and its client phase.
type RequestView struct {
	Request models.FriendRequest
	Phase   RequestPhase
	Err     error
}

// FriendStore holds the session user's friends and friend requests.
// Terminal requests are kept as tombstones so a stale snapshot or a
// duplicate push can never move them back to pending.
type FriendStore struct {
	mu       sync.RWMutex
	self     string
	friends  map[string]models.User
	requests map[string]*requestEntry
}

// NewFriendStore creates an empty store for the given session user.
func NewFriendStore(self string) *FriendStore {
	return &FriendStore{
		self:     self,
		friends:  make(map[string]models.User),
		requests: make(map[string]*requestEntry),
	}
}

// LoadFriends replaces the server view of the friend set. Friends gained
// through an acceptance resolved after the request was issued are kept.
func (s *FriendStore) LoadFriends(snap models.Snapshot[models.User]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := lo.SliceToMap(snap.Items, func(u models.User) (string, models.User) { return u.ID, u })

	for _, e := range s.requests {
		if e.phase == PhaseAccepted && e.resolvedAt.After(snap.RequestedAt) {
			u := e.req.Counterpart(s.self)
			next[u.ID] = u
		}
	}

	s.friends = next
}

// LoadRequests replaces the pending request list. In-flight and terminal
// entries keep their local state; pending entries absent from the
// snapshot are dropped unless they arrived after the request was issued.
func (s *FriendStore) LoadRequests(snap models.Snapshot[models.FriendRequest]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*requestEntry, len(snap.Items))

	for _, r := range snap.Items {
		if prev, ok := s.requests[r.ID]; ok && (prev.phase.Terminal() || prev.phase.InFlight()) {
			next[r.ID] = prev
			continue
		}

		entry := &requestEntry{req: r, phase: PhasePending, outgoing: r.Sender.ID == s.self}
		if r.Status.Terminal() {
			entry.phase = RequestPhase(r.Status)
			entry.resolvedAt = snap.RequestedAt
		}

		next[r.ID] = entry
	}

	for id, prev := range s.requests {
		if _, ok := next[id]; ok {
			continue
		}

		keep := prev.phase.Terminal() || prev.phase.InFlight() || prev.outgoing ||
			prev.req.CreatedAt.After(snap.RequestedAt)
		if keep {
			next[id] = prev
		}
	}

	s.requests = next
}

// ApplyReceived records a pushed request. Known ids are ignored.
func (s *FriendStore) ApplyReceived(r models.FriendRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[r.ID]; ok {
		return false
	}

	r.Status = models.RequestPending
	s.requests[r.ID] = &requestEntry{req: r, phase: PhasePending, outgoing: r.Sender.ID == s.self}

	return true
}

// BeginAccept moves a pending request to accepting. It disappears from
// Pending and its counterpart appears in Friends straight away.
func (s *FriendStore) BeginAccept(id string) error {
	return s.begin(id, PhaseAccepting)
}

// BeginDecline moves a pending request to declining.
func (s *FriendStore) BeginDecline(id string) error {
	return s.begin(id, PhaseDeclining)
}

func (s *FriendStore) begin(id string, phase RequestPhase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.requests[id]
	if !ok {
		return apperrors.ErrUnknownRequest
	}

	if e.phase != PhasePending {
		return apperrors.ErrRequestResolved
	}

	e.phase = phase
	e.lastErr = nil

	return nil
}

// Resolve moves a request to a terminal status. Resolving a terminal
// request is a no-op and returns false. An accepted request adds its
// counterpart to the friend set.
func (s *FriendStore) Resolve(id string, status models.RequestStatus, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.requests[id]
	if !ok || e.phase.Terminal() || !status.Terminal() {
		return false
	}

	e.phase = RequestPhase(status)
	e.req.Status = status
	e.lastErr = nil
	e.resolvedAt = at

	if status == models.RequestAccepted {
		u := e.req.Counterpart(s.self)
		s.friends[u.ID] = u
	}

	return true
}

// Revert returns an in-flight request to pending and records err.
func (s *FriendStore) Revert(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.requests[id]
	if !ok || !e.phase.InFlight() {
		return
	}

	e.phase = PhasePending
	e.lastErr = err
}

// AddOutgoing records a request sent by the session user.
func (s *FriendStore) AddOutgoing(r models.FriendRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.Status = models.RequestPending
	s.requests[r.ID] = &requestEntry{req: r, phase: PhasePending, outgoing: true}
}

// RemapOutgoing swaps a temporary outgoing request for the server copy.
func (s *FriendStore) RemapOutgoing(tempID string, r models.FriendRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.requests, tempID)

	if _, ok := s.requests[r.ID]; ok {
		return
	}

	if r.Status == "" {
		r.Status = models.RequestPending
	}

	s.requests[r.ID] = &requestEntry{req: r, phase: RequestPhase(r.Status), outgoing: true}
}

// Remove deletes a request entry outright.
func (s *FriendStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.requests, id)
}

// Request returns a copy of one request with its phase.
func (s *FriendStore) Request(id string) (RequestView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.requests[id]
	if !ok {
		return RequestView{}, false
	}

	return RequestView{Request: e.req, Phase: e.phase, Err: e.lastErr}, true
}

// Pending returns incoming requests that are pending with no mutation in
// flight, oldest first.
func (s *FriendStore) Pending() []models.FriendRequest {
	return s.requestsWhere(func(e *requestEntry) bool {
		return !e.outgoing && e.phase == PhasePending
	})
}

// Outgoing returns requests the session user sent that are still pending.
func (s *FriendStore) Outgoing() []models.FriendRequest {
	return s.requestsWhere(func(e *requestEntry) bool {
		return e.outgoing && e.phase == PhasePending
	})
}

func (s *FriendStore) requestsWhere(keep func(*requestEntry) bool) []models.FriendRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.FriendRequest, 0, len(s.requests))

	for _, e := range s.requests {
		if keep(e) {
			out = append(out, e.req)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}

		return out[i].ID < out[j].ID
	})

	return out
}

// Friends returns the friend set including counterparts of requests
// currently being accepted, ordered by username.
func (s *FriendStore) Friends() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make(map[string]models.User, len(s.friends))
	for id, u := range s.friends {
		all[id] = u
	}

	for _, e := range s.requests {
		if e.phase == PhaseAccepting {
			u := e.req.Counterpart(s.self)
			all[u.ID] = u
		}
	}

	out := lo.Values(all)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}

		return out[i].ID < out[j].ID
	})

	return out
}

// IsFriend reports whether userID is in the friend set.
func (s *FriendStore) IsFriend(userID string) bool {
	return lo.ContainsBy(s.Friends(), func(u models.User) bool { return u.ID == userID })
}

// Self returns the session user id the store was created for.
func (s *FriendStore) Self() string {
	return s.self
}
