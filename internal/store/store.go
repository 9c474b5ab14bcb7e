// Package store holds the canonical in-memory entity state. Each store
// is safe for concurrent reads; writes are expected to come from the
// reconciliation engine's single consumer goroutine.
package store

// Set groups the four entity stores so the engine and commands can be
// handed all of them at once.
type Set struct {
	Chats         *ChatStore
	Friends       *FriendStore
	Presence      *PresenceStore
	Notifications *NotificationStore
}

// NewSet creates empty stores for the session user self.
func NewSet(self string) *Set {
	return &Set{
		Chats:         NewChatStore(),
		Friends:       NewFriendStore(self),
		Presence:      NewPresenceStore(),
		Notifications: NewNotificationStore(),
	}
}
