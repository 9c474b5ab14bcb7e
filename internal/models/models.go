// Package models defines the entities synchronised between the server
// and the client-side stores.
package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// User is an immutable identity reference.
type User struct {
	ID       string `json:"_id" yaml:"id" validate:"required"`
	Username string `json:"username" yaml:"username"`
}

// UnmarshalJSON accepts either a populated user object or a bare id
// string, since unpopulated references arrive as plain ids.
func (u *User) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		return json.Unmarshal(data, &u.ID)
	}

	type plain User

	return json.Unmarshal(data, (*plain)(u))
}

// LastMessage is the denormalised preview kept on a chat.
type LastMessage struct {
	Body      string    `json:"body" yaml:"body"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

// Chat is a one-to-one conversation. Participants is ordered as returned
// by the server.
type Chat struct {
	ID           string       `json:"_id" yaml:"id" validate:"required"`
	Participants []User       `json:"participants" yaml:"participants" validate:"max=2,dive"`
	LastMessage  *LastMessage `json:"lastMessage,omitempty" yaml:"last_message,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt" yaml:"updated_at"`
	UnreadCount  int          `json:"unreadCount" yaml:"unread_count"`
}

// Counterpart returns the participant that is not self.
func (c Chat) Counterpart(self string) (User, bool) {
	for _, p := range c.Participants {
		if p.ID != self {
			return p, true
		}
	}

	return User{}, false
}

// Message is append-only and never mutated once created.
type Message struct {
	ID        string    `json:"_id" yaml:"id" validate:"required"`
	ChatID    string    `json:"chatId" yaml:"chat_id" validate:"required"`
	SenderID  string    `json:"senderId" yaml:"sender_id" validate:"required"`
	Body      string    `json:"body" yaml:"body"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at" validate:"required"`
}

// RequestStatus is the lifecycle status of a friend request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

// Terminal reports whether the status can no longer change.
func (s RequestStatus) Terminal() bool {
	return s == RequestAccepted || s == RequestDeclined
}

// FriendRequest transitions only from pending to a terminal status.
type FriendRequest struct {
	ID        string        `json:"_id" yaml:"id" validate:"required"`
	Sender    User          `json:"sender" yaml:"sender" validate:"-"`
	Recipient User          `json:"recipient" yaml:"recipient" validate:"-"`
	Status    RequestStatus `json:"status" yaml:"status" validate:"omitempty,oneof=pending accepted declined"`
	CreatedAt time.Time     `json:"createdAt,omitempty" yaml:"created_at,omitempty"`
}

// Counterpart returns the other side of the request from self's view.
func (r FriendRequest) Counterpart(self string) User {
	if r.Sender.ID == self {
		return r.Recipient
	}

	return r.Sender
}

// PresenceRecord is overwritten only by a strictly newer timestamp.
type PresenceRecord struct {
	UserID             string `json:"userId" yaml:"user_id"`
	Online             bool   `json:"online" yaml:"online"`
	LastEventTimestamp int64  `json:"lastEventTimestamp" yaml:"last_event_timestamp"`
}

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationFriendRequest   NotificationType = "FRIEND_REQUEST"
	NotificationNewMessage      NotificationType = "NEW_MESSAGE"
	NotificationRequestAccepted NotificationType = "FRIEND_REQUEST_ACCEPTED"
	NotificationNewMatch        NotificationType = "NEW_MATCH"
)

// Notification.IsRead is monotonic: it never goes from true to false.
type Notification struct {
	ID        string           `json:"_id" yaml:"id" validate:"required"`
	Type      NotificationType `json:"type" yaml:"type" validate:"oneof=FRIEND_REQUEST NEW_MESSAGE FRIEND_REQUEST_ACCEPTED NEW_MATCH"`
	SubjectID string           `json:"subjectId" yaml:"subject_id"`
	IsRead    bool             `json:"isRead" yaml:"is_read"`
	CreatedAt time.Time        `json:"createdAt" yaml:"created_at" validate:"required"`
}

// Snapshot is a full point-in-time response for a resource collection.
// RequestedAt is when the request was issued, so merges can tell which
// local entities arrived while the fetch was in flight.
type Snapshot[T any] struct {
	Items       []T
	RequestedAt time.Time
}

// Resource names a snapshot-backed collection.
type Resource string

const (
	ResourceChats         Resource = "chats"
	ResourceFriends       Resource = "friends"
	ResourceRequests      Resource = "requests"
	ResourceNotifications Resource = "notifications"
	ResourcePresence      Resource = "presence"
)

// AllResources lists every resource in fetch order.
var AllResources = []Resource{
	ResourceChats,
	ResourceFriends,
	ResourceRequests,
	ResourceNotifications,
	ResourcePresence,
}
