// Package aggregate derives badge counts from the entity stores. It only
// reads; every value is recomputed from a consistent view on demand.
package aggregate

import (
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/alexjbarnes/social-sync/internal/store"
	"github.com/samber/lo"
)

// Viewer runs fn against a consistent view of the stores.
// *reconcile.Engine satisfies it.
type Viewer interface {
	View(fn func(s *store.Set))
}

// Badges are the counts shown next to navigation entries.
type Badges struct {
	UnreadNotifications int `json:"unread_notifications"`
	UnreadMessages      int `json:"unread_messages"`
	ChatsWithUnread     int `json:"chats_with_unread"`
	OnlineFriends       int `json:"online_friends"`
	PendingRequests     int `json:"pending_requests"`
	Total               int `json:"total"`
}

// Aggregator computes Badges.
type Aggregator struct {
	viewer Viewer
}

// New creates an aggregator reading through v.
func New(v Viewer) *Aggregator {
	return &Aggregator{viewer: v}
}

// Badges returns the current counts.
func (a *Aggregator) Badges() Badges {
	var b Badges

	a.viewer.View(func(s *store.Set) {
		b = Compute(s)
	})

	return b
}

// OnlineFriends returns friends whose presence is online.
func (a *Aggregator) OnlineFriends() []models.User {
	var out []models.User

	a.viewer.View(func(s *store.Set) {
		out = onlineFriends(s)
	})

	return out
}

// Compute derives badges from s. Callers must hold a consistent view.
func Compute(s *store.Set) Badges {
	b := Badges{
		UnreadNotifications: s.Notifications.Unread(),
		UnreadMessages:      s.Chats.UnreadTotal(),
		ChatsWithUnread:     s.Chats.UnreadChats(),
		OnlineFriends:       len(onlineFriends(s)),
		PendingRequests:     len(s.Friends.Pending()),
	}

	// The message badge counts chats, not messages.
	b.Total = b.UnreadNotifications + b.ChatsWithUnread + b.PendingRequests

	return b
}

func onlineFriends(s *store.Set) []models.User {
	return lo.Filter(s.Friends.Friends(), func(u models.User, _ int) bool {
		return s.Presence.Online(u.ID)
	})
}
