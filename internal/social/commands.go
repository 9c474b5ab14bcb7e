package social

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/alexjbarnes/social-sync/internal/errors"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/alexjbarnes/social-sync/internal/store"
)

// requestKey is shared by accept and decline so only one of them can be
// in flight for a request.
func requestKey(id string) string {
	return "friend-request:" + id
}

const markReadKey = "notifications:read"

// refresher reloads resources without blocking. *reconcile.Engine
// satisfies it.
type refresher interface {
	Refresh(resources ...models.Resource)
}

// resolveCommand accepts or declines an incoming friend request.
type resolveCommand struct {
	api     API
	refresh refresher
	now     func() time.Time

	id     string
	status models.RequestStatus
}

func (c *resolveCommand) Key() string { return requestKey(c.id) }

func (c *resolveCommand) Apply(s *store.Set) error {
	if c.status == models.RequestAccepted {
		return s.Friends.BeginAccept(c.id)
	}

	return s.Friends.BeginDecline(c.id)
}

func (c *resolveCommand) Send(ctx context.Context) (any, error) {
	var err error
	if c.status == models.RequestAccepted {
		err = c.api.AcceptFriendRequest(ctx, c.id)
	} else {
		err = c.api.DeclineFriendRequest(ctx, c.id)
	}

	if err != nil {
		return nil, err
	}

	return c.status, nil
}

// Commit resolves the request. A nil result means the server had already
// resolved it elsewhere; the local outcome stands and the friend list is
// reloaded to pick up whatever actually happened.
func (c *resolveCommand) Commit(s *store.Set, result any) error {
	s.Friends.Resolve(c.id, c.status, c.now())

	if result == nil {
		c.refresh.Refresh(models.ResourceFriends, models.ResourceRequests)
	}

	return nil
}

func (c *resolveCommand) Rollback(s *store.Set, err error) {
	s.Friends.Revert(c.id, err)
}

// sendRequestCommand shows an outgoing request under a temporary id
// until the server assigns the real one.
type sendRequestCommand struct {
	api     API
	refresh refresher
	now     func() time.Time

	tempID    string
	self      models.User
	recipient models.User
}

func (c *sendRequestCommand) Key() string { return "outgoing-request:" + c.recipient.ID }

func (c *sendRequestCommand) Apply(s *store.Set) error {
	if c.recipient.ID == c.self.ID {
		return fmt.Errorf("%w: cannot befriend yourself", apperrors.ErrInvalidTarget)
	}

	if s.Friends.IsFriend(c.recipient.ID) {
		return fmt.Errorf("%w: %s is already a friend", apperrors.ErrInvalidTarget, c.recipient.ID)
	}

	s.Friends.AddOutgoing(models.FriendRequest{
		ID:        c.tempID,
		Sender:    c.self,
		Recipient: c.recipient,
		CreatedAt: c.now(),
	})

	return nil
}

func (c *sendRequestCommand) Send(ctx context.Context) (any, error) {
	req, err := c.api.SendFriendRequest(ctx, c.recipient.ID)
	if err != nil {
		return nil, err
	}

	return req, nil
}

func (c *sendRequestCommand) Commit(s *store.Set, result any) error {
	req, ok := result.(models.FriendRequest)
	if !ok {
		// Already requested; the snapshot carries the server copy.
		s.Friends.Remove(c.tempID)
		c.refresh.Refresh(models.ResourceRequests)

		return nil
	}

	if req.Recipient.Username == "" {
		req.Recipient.Username = c.recipient.Username
	}

	s.Friends.RemapOutgoing(c.tempID, req)

	return nil
}

func (c *sendRequestCommand) Rollback(s *store.Set, _ error) {
	s.Friends.Remove(c.tempID)
}

// startChatCommand inserts a placeholder chat and swaps in the server
// chat once it exists.
type startChatCommand struct {
	api API
	now func() time.Time

	tempID string
	self   models.User
	peer   models.User
}

func (c *startChatCommand) Key() string { return "chat-with:" + c.peer.ID }

func (c *startChatCommand) Apply(s *store.Set) error {
	if c.peer.ID == c.self.ID {
		return fmt.Errorf("%w: cannot chat with yourself", apperrors.ErrInvalidTarget)
	}

	s.Chats.Insert(models.Chat{
		ID:           c.tempID,
		Participants: []models.User{c.self, c.peer},
		UpdatedAt:    c.now(),
	})

	return nil
}

func (c *startChatCommand) Send(ctx context.Context) (any, error) {
	chat, err := c.api.ChatWith(ctx, c.peer.ID)
	if err != nil {
		return nil, err
	}

	return chat, nil
}

func (c *startChatCommand) Commit(s *store.Set, result any) error {
	chat, ok := result.(models.Chat)
	if !ok {
		s.Chats.Remove(c.tempID)
		return nil
	}

	s.Chats.Remap(c.tempID, chat)

	return nil
}

func (c *startChatCommand) Rollback(s *store.Set, _ error) {
	s.Chats.Remove(c.tempID)
}

// markReadCommand marks every known notification read. isRead never
// reverts, so a failed request leaves the local marks in place.
type markReadCommand struct {
	api API

	token store.ReadToken
}

func (c *markReadCommand) Key() string { return markReadKey }

func (c *markReadCommand) Apply(s *store.Set) error {
	c.token = s.Notifications.MarkAllRead()
	return nil
}

func (c *markReadCommand) Send(ctx context.Context) (any, error) {
	if err := c.api.MarkNotificationsRead(ctx); err != nil {
		return nil, err
	}

	return c.token, nil
}

func (c *markReadCommand) Commit(s *store.Set, _ any) error {
	s.Notifications.ConfirmRead(c.token)
	return nil
}

func (c *markReadCommand) Rollback(*store.Set, error) {}
