package transport

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/alexjbarnes/social-sync/internal/errors"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/tidwall/gjson"
)

// EventName is the "event" field of a push frame.
type EventName string

const (
	EventNewMessage            EventName = "newMessage"
	EventPresenceChanged       EventName = "presenceChanged"
	EventFriendRequestReceived EventName = "friendRequestReceived"
	EventFriendRequestResolved EventName = "friendRequestResolved"
	EventNewNotification       EventName = "newNotification"

	// Control frames handled by the channel itself.
	eventPing EventName = "ping"
	eventPong EventName = "pong"
)

// Event is one decoded push event. The set of implementations is closed:
// NewMessage, PresenceChanged, FriendRequestReceived,
// FriendRequestResolved and NewNotification.
type Event interface {
	Name() EventName
	isEvent()
}

// NewMessage carries a message appended to a chat.
type NewMessage struct {
	ChatID  string         `json:"chatId" validate:"required"`
	Message models.Message `json:"message"`
}

// PresenceChanged reports a user going online or offline. Timestamp is
// in milliseconds since the epoch.
type PresenceChanged struct {
	UserID    string `json:"userId" validate:"required"`
	Online    bool   `json:"online"`
	Timestamp int64  `json:"timestamp" validate:"gt=0"`
}

// FriendRequestReceived carries a new request addressed to the session
// user.
type FriendRequestReceived struct {
	Request models.FriendRequest
}

// FriendRequestResolved reports that a request reached a terminal status.
type FriendRequestResolved struct {
	RequestID string               `json:"requestId" validate:"required"`
	Status    models.RequestStatus `json:"status" validate:"oneof=accepted declined"`
}

// NewNotification carries a server-generated notification.
type NewNotification struct {
	Notification models.Notification
}

func (NewMessage) Name() EventName            { return EventNewMessage }
func (PresenceChanged) Name() EventName       { return EventPresenceChanged }
func (FriendRequestReceived) Name() EventName { return EventFriendRequestReceived }
func (FriendRequestResolved) Name() EventName { return EventFriendRequestResolved }
func (NewNotification) Name() EventName       { return EventNewNotification }

func (NewMessage) isEvent()            {}
func (PresenceChanged) isEvent()       {}
func (FriendRequestReceived) isEvent() {}
func (FriendRequestResolved) isEvent() {}
func (NewNotification) isEvent()       {}

// DecodeEvent parses a push frame of the form {"event":..., "data":...}.
// Frames that are not valid JSON, have no data object, or fail field
// validation return ErrMalformedEvent. Unrecognised event names return
// ErrUnknownEvent.
func DecodeEvent(frame []byte) (Event, error) {
	if !gjson.ValidBytes(frame) {
		return nil, fmt.Errorf("%w: invalid json", apperrors.ErrMalformedEvent)
	}

	name := gjson.GetBytes(frame, "event")
	if name.Type != gjson.String {
		return nil, fmt.Errorf("%w: missing event name", apperrors.ErrMalformedEvent)
	}

	data := gjson.GetBytes(frame, "data")
	if !data.IsObject() {
		return nil, fmt.Errorf("%w: %s: missing data object", apperrors.ErrMalformedEvent, name.Str)
	}

	raw := []byte(data.Raw)

	switch EventName(name.Str) {
	case EventNewMessage:
		var ev NewMessage
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("%w: newMessage: %v", apperrors.ErrMalformedEvent, err)
		}

		if ev.ChatID == "" {
			return nil, fmt.Errorf("%w: newMessage: missing chat id", apperrors.ErrMalformedEvent)
		}

		if ev.Message.ChatID == "" {
			ev.Message.ChatID = ev.ChatID
		}

		if ev.Message.ChatID != ev.ChatID {
			return nil, fmt.Errorf("%w: newMessage: chat id mismatch", apperrors.ErrMalformedEvent)
		}

		msgs, err := validateBatch([]models.Message{ev.Message}, normalizeMessage)
		if err != nil {
			return nil, fmt.Errorf("%w: newMessage: %v", apperrors.ErrMalformedEvent, err)
		}

		ev.Message = msgs[0]

		return ev, nil

	case EventPresenceChanged:
		var ev PresenceChanged
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}

		return ev, nil

	case EventFriendRequestReceived:
		var req models.FriendRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrMalformedEvent, name.Str, err)
		}

		reqs, err := validateBatch([]models.FriendRequest{req}, normalizeRequest)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrMalformedEvent, name.Str, err)
		}

		return FriendRequestReceived{Request: reqs[0]}, nil

	case EventFriendRequestResolved:
		var ev FriendRequestResolved
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}

		return ev, nil

	case EventNewNotification:
		var n models.Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrMalformedEvent, name.Str, err)
		}

		notes, err := validateBatch([]models.Notification{n}, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrMalformedEvent, name.Str, err)
		}

		return NewNotification{Notification: notes[0]}, nil
	}

	return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownEvent, name.Str)
}

// decodePayload unmarshals and validates a flat event payload.
func decodePayload(raw []byte, ev Event) error {
	if err := json.Unmarshal(raw, ev); err != nil {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrMalformedEvent, ev.Name(), err)
	}

	if err := validate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrMalformedEvent, ev.Name(), describeValidation(err))
	}

	return nil
}
