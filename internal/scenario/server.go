package scenario

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/social-sync/internal/errors"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/samber/lo"
)

// scriptedAPI serves a scenario's server state and answers mutations
// with the replies the steps ask for.
type scriptedAPI struct {
	self string

	mu            sync.Mutex
	requestedAt   time.Time
	users         map[string]models.User
	chats         map[string]models.Chat
	friends       map[string]bool
	online        map[string]bool
	requests      map[string]*models.FriendRequest
	notifications []models.Notification
	nextID        int

	// replies and gates are keyed by "<op>:<target>".
	replies map[string]string
	gates   map[string]chan struct{}
}

func newScriptedAPI(sc *Scenario) *scriptedAPI {
	a := &scriptedAPI{
		self:        sc.Self.ID,
		requestedAt: sc.Now,
		users:       lo.SliceToMap(sc.Server.Users, func(u models.User) (string, models.User) { return u.ID, u }),
		chats:       lo.SliceToMap(sc.Server.Chats, func(c models.Chat) (string, models.Chat) { return c.ID, c }),
		friends:     lo.SliceToMap(sc.Server.Friends, func(id string) (string, bool) { return id, true }),
		online:      lo.SliceToMap(sc.Server.Online, func(id string) (string, bool) { return id, true }),
		requests:    make(map[string]*models.FriendRequest),
		replies:     make(map[string]string),
		gates:       make(map[string]chan struct{}),
	}

	a.users[sc.Self.ID] = sc.Self

	for _, r := range sc.Server.Requests {
		if r.Status == "" {
			r.Status = models.RequestPending
		}

		a.requests[r.ID] = &r
	}

	a.notifications = append(a.notifications, sc.Server.Notifications...)

	return a
}

// script sets the reply for the next call of op on target. A held reply
// waits until release.
func (a *scriptedAPI) script(op, target, reply string, hold bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := op + ":" + target
	a.replies[key] = reply

	if hold {
		a.gates[key] = make(chan struct{})
	}
}

// release lets every held reply through.
func (a *scriptedAPI) release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for k, g := range a.gates {
		close(g)
		delete(a.gates, k)
	}
}

// answer waits for a held reply and returns the scripted reply for key.
func (a *scriptedAPI) answer(ctx context.Context, op, target string) (string, error) {
	key := op + ":" + target

	a.mu.Lock()
	gate := a.gates[key]
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reply := a.replies[key]
	delete(a.replies, key)

	if reply == "" {
		reply = ReplyOK
	}

	switch reply {
	case ReplyValidation:
		return reply, &apperrors.ValidationError{Op: op, Status: http.StatusUnprocessableEntity, Msg: "rejected by script"}
	case ReplyNetwork:
		return reply, &apperrors.NetworkError{Op: op, Err: fmt.Errorf("connection reset by script")}
	case ReplyAuth:
		return reply, &apperrors.AuthExpiredError{Op: op, Status: http.StatusUnauthorized}
	}

	return reply, nil
}

func (a *scriptedAPI) ListChats(context.Context) (models.Snapshot[models.Chat], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chats := lo.Values(a.chats)
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })

	return models.Snapshot[models.Chat]{Items: chats, RequestedAt: a.requestedAt}, nil
}

func (a *scriptedAPI) ListFriends(context.Context) (models.Snapshot[models.User], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return models.Snapshot[models.User]{Items: a.usersIn(a.friends), RequestedAt: a.requestedAt}, nil
}

func (a *scriptedAPI) ListOnlineFriends(context.Context) (models.Snapshot[models.User], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	online := lo.PickBy(a.online, func(id string, on bool) bool { return on && a.friends[id] })

	return models.Snapshot[models.User]{Items: a.usersIn(online), RequestedAt: a.requestedAt}, nil
}

func (a *scriptedAPI) usersIn(set map[string]bool) []models.User {
	ids := lo.Keys(lo.PickBy(set, func(_ string, v bool) bool { return v }))
	sort.Strings(ids)

	return lo.Map(ids, func(id string, _ int) models.User {
		if u, ok := a.users[id]; ok {
			return u
		}

		return models.User{ID: id}
	})
}

func (a *scriptedAPI) ListFriendRequests(context.Context) (models.Snapshot[models.FriendRequest], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []models.FriendRequest

	for _, r := range a.requests {
		if r.Recipient.ID == a.self && r.Status == models.RequestPending {
			out = append(out, *r)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return models.Snapshot[models.FriendRequest]{Items: out, RequestedAt: a.requestedAt}, nil
}

func (a *scriptedAPI) ListNotifications(context.Context) (models.Snapshot[models.Notification], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := append([]models.Notification(nil), a.notifications...)

	return models.Snapshot[models.Notification]{Items: out, RequestedAt: a.requestedAt}, nil
}

func (a *scriptedAPI) AcceptFriendRequest(ctx context.Context, id string) error {
	return a.resolve(ctx, ActionAccept, id, models.RequestAccepted)
}

func (a *scriptedAPI) DeclineFriendRequest(ctx context.Context, id string) error {
	return a.resolve(ctx, ActionDecline, id, models.RequestDeclined)
}

// resolve applies the status on ok. A conflict reply behaves as if
// another device had already done it.
func (a *scriptedAPI) resolve(ctx context.Context, op, id string, status models.RequestStatus) error {
	reply, err := a.answer(ctx, op, id)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.requests[id]
	if !ok {
		return &apperrors.ConflictError{Op: op, Status: http.StatusNotFound, Msg: "friend request not found"}
	}

	if r.Status == models.RequestPending {
		r.Status = status
		if status == models.RequestAccepted {
			a.friends[r.Sender.ID] = true
		}
	}

	if reply == ReplyConflict {
		return &apperrors.ConflictError{Op: op, Status: http.StatusConflict, Msg: "already resolved"}
	}

	return nil
}

func (a *scriptedAPI) SendFriendRequest(ctx context.Context, recipientID string) (models.FriendRequest, error) {
	reply, err := a.answer(ctx, ActionSend, recipientID)
	if err != nil {
		return models.FriendRequest{}, err
	}

	if reply == ReplyConflict {
		return models.FriendRequest{}, &apperrors.ConflictError{Op: ActionSend, Status: http.StatusConflict, Msg: "already requested"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r := models.FriendRequest{
		ID:        a.id("R"),
		Sender:    a.users[a.self],
		Recipient: models.User{ID: recipientID},
		Status:    models.RequestPending,
		CreatedAt: a.requestedAt,
	}
	a.requests[r.ID] = &r

	return r, nil
}

func (a *scriptedAPI) ChatWith(ctx context.Context, userID string) (models.Chat, error) {
	reply, err := a.answer(ctx, ActionStartChat, userID)
	if err != nil {
		return models.Chat{}, err
	}

	if reply == ReplyConflict {
		return models.Chat{}, &apperrors.ConflictError{Op: ActionStartChat, Status: http.StatusConflict, Msg: "chat unavailable"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range a.chats {
		if _, ok := lo.Find(c.Participants, func(u models.User) bool { return u.ID == userID }); ok {
			return c, nil
		}
	}

	peer, ok := a.users[userID]
	if !ok {
		peer = models.User{ID: userID}
	}

	c := models.Chat{
		ID:           a.id("C"),
		Participants: []models.User{a.users[a.self], peer},
		UpdatedAt:    a.requestedAt,
	}
	a.chats[c.ID] = c

	return c, nil
}

func (a *scriptedAPI) FindMatch(ctx context.Context) (models.Chat, error) {
	reply, err := a.answer(ctx, ActionFindMatch, "")
	if err != nil {
		return models.Chat{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ids := lo.Keys(a.users)
	sort.Strings(ids)

	for _, id := range ids {
		if reply == ReplyConflict {
			break
		}

		if id == a.self || a.friends[id] {
			continue
		}

		c := models.Chat{
			ID:           a.id("M"),
			Participants: []models.User{a.users[a.self], a.users[id]},
			UpdatedAt:    a.requestedAt,
		}
		a.chats[c.ID] = c

		return c, nil
	}

	return models.Chat{}, &apperrors.ConflictError{Op: ActionFindMatch, Status: http.StatusNotFound, Msg: "no match available"}
}

func (a *scriptedAPI) MarkNotificationsRead(ctx context.Context) error {
	if _, err := a.answer(ctx, ActionMarkRead, ""); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.notifications {
		a.notifications[i].IsRead = true
	}

	return nil
}

func (a *scriptedAPI) id(prefix string) string {
	a.nextID++
	return fmt.Sprintf("%s%d", prefix, a.nextID)
}
