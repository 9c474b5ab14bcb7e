package social

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

// fakeServer is an in-memory social backend shared by several clients.
type fakeServer struct {
	mu sync.Mutex

	users         map[string]models.User
	friends       map[string]map[string]bool
	requests      map[string]*models.FriendRequest
	chats         map[string]models.Chat
	notifications map[string][]models.Notification
	online        map[string]bool

	nextID int
}

func newFakeServer(users ...models.User) *fakeServer {
	return &fakeServer{
		users:         lo.SliceToMap(users, func(u models.User) (string, models.User) { return u.ID, u }),
		friends:       make(map[string]map[string]bool),
		requests:      make(map[string]*models.FriendRequest),
		chats:         make(map[string]models.Chat),
		notifications: make(map[string][]models.Notification),
		online:        make(map[string]bool),
	}
}

func (f *fakeServer) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

func (f *fakeServer) addRequest(r models.FriendRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r.Status = models.RequestPending
	f.requests[r.ID] = &r
}

func (f *fakeServer) addChat(c models.Chat) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.chats[c.ID] = c
}

func (f *fakeServer) addNotification(userID string, n models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.notifications[userID] = append(f.notifications[userID], n)
}

func (f *fakeServer) befriend(a, b string) {
	if f.friends[a] == nil {
		f.friends[a] = make(map[string]bool)
	}

	if f.friends[b] == nil {
		f.friends[b] = make(map[string]bool)
	}

	f.friends[a][b] = true
	f.friends[b][a] = true
}

func (f *fakeServer) requestStatus(id string) models.RequestStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.requests[id]; ok {
		return r.Status
	}

	return ""
}

// client returns the API as seen by userID.
func (f *fakeServer) client(userID string) *fakeClient {
	return &fakeClient{srv: f, self: userID}
}

// fakeClient is one signed-in device talking to the fake server.
type fakeClient struct {
	srv  *fakeServer
	self string

	// hold, when set, delays mutation responses until closed.
	hold chan struct{}

	mu    sync.Mutex
	calls []string
}

func (c *fakeClient) record(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, op)
}

func (c *fakeClient) callCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return lo.Count(c.calls, op)
}

func (c *fakeClient) wait(ctx context.Context) error {
	if c.hold == nil {
		return nil
	}

	select {
	case <-c.hold:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeClient) ListChats(context.Context) (models.Snapshot[models.Chat], error) {
	requested := time.Now()

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	chats := lo.Filter(lo.Values(c.srv.chats), func(ch models.Chat, _ int) bool {
		return lo.ContainsBy(ch.Participants, func(u models.User) bool { return u.ID == c.self })
	})
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })

	return models.Snapshot[models.Chat]{Items: chats, RequestedAt: requested}, nil
}

func (c *fakeClient) ListFriends(context.Context) (models.Snapshot[models.User], error) {
	requested := time.Now()

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	var out []models.User

	for id := range c.srv.friends[c.self] {
		out = append(out, c.srv.users[id])
	}

	return models.Snapshot[models.User]{Items: out, RequestedAt: requested}, nil
}

func (c *fakeClient) ListOnlineFriends(context.Context) (models.Snapshot[models.User], error) {
	requested := time.Now()

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	var out []models.User

	for id := range c.srv.friends[c.self] {
		if c.srv.online[id] {
			out = append(out, c.srv.users[id])
		}
	}

	return models.Snapshot[models.User]{Items: out, RequestedAt: requested}, nil
}

func (c *fakeClient) ListFriendRequests(context.Context) (models.Snapshot[models.FriendRequest], error) {
	requested := time.Now()

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	var out []models.FriendRequest

	for _, r := range c.srv.requests {
		if r.Recipient.ID == c.self && r.Status == models.RequestPending {
			out = append(out, *r)
		}
	}

	return models.Snapshot[models.FriendRequest]{Items: out, RequestedAt: requested}, nil
}

func (c *fakeClient) ListNotifications(context.Context) (models.Snapshot[models.Notification], error) {
	requested := time.Now()

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	out := append([]models.Notification(nil), c.srv.notifications[c.self]...)

	return models.Snapshot[models.Notification]{Items: out, RequestedAt: requested}, nil
}

func (c *fakeClient) AcceptFriendRequest(ctx context.Context, id string) error {
	return c.resolve(ctx, "accept", id, models.RequestAccepted)
}

func (c *fakeClient) DeclineFriendRequest(ctx context.Context, id string) error {
	return c.resolve(ctx, "decline", id, models.RequestDeclined)
}

func (c *fakeClient) resolve(ctx context.Context, op, id string, status models.RequestStatus) error {
	c.record(op)

	if err := c.wait(ctx); err != nil {
		return err
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	r, ok := c.srv.requests[id]
	if !ok || r.Recipient.ID != c.self || r.Status != models.RequestPending {
		return &apperrors.ConflictError{Op: op, Status: http.StatusNotFound, Msg: "friend request not found"}
	}

	r.Status = status
	if status == models.RequestAccepted {
		c.srv.befriend(r.Sender.ID, r.Recipient.ID)
	}

	return nil
}

func (c *fakeClient) SendFriendRequest(ctx context.Context, recipientID string) (models.FriendRequest, error) {
	c.record("send")

	if err := c.wait(ctx); err != nil {
		return models.FriendRequest{}, err
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	to, ok := c.srv.users[recipientID]
	if !ok {
		return models.FriendRequest{}, &apperrors.ValidationError{Op: "send", Status: http.StatusBadRequest, Msg: "unknown user"}
	}

	for _, r := range c.srv.requests {
		if r.Sender.ID == c.self && r.Recipient.ID == recipientID && r.Status == models.RequestPending {
			return models.FriendRequest{}, &apperrors.ConflictError{Op: "send", Status: http.StatusConflict, Msg: "already requested"}
		}
	}

	r := models.FriendRequest{
		ID:        c.srv.id("R"),
		Sender:    c.srv.users[c.self],
		Recipient: models.User{ID: to.ID},
		Status:    models.RequestPending,
		CreatedAt: time.Now(),
	}
	c.srv.requests[r.ID] = &r

	return r, nil
}

func (c *fakeClient) ChatWith(ctx context.Context, userID string) (models.Chat, error) {
	c.record("chat")

	if err := c.wait(ctx); err != nil {
		return models.Chat{}, err
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	for _, ch := range c.srv.chats {
		ids := lo.Map(ch.Participants, func(u models.User, _ int) string { return u.ID })
		if lo.Contains(ids, c.self) && lo.Contains(ids, userID) {
			return ch, nil
		}
	}

	ch := models.Chat{
		ID:           c.srv.id("C"),
		Participants: []models.User{c.srv.users[c.self], c.srv.users[userID]},
		UpdatedAt:    time.Now(),
	}
	c.srv.chats[ch.ID] = ch

	return ch, nil
}

func (c *fakeClient) FindMatch(context.Context) (models.Chat, error) {
	c.record("match")

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	for id, u := range c.srv.users {
		if id == c.self || c.srv.friends[c.self][id] {
			continue
		}

		ch := models.Chat{
			ID:           c.srv.id("M"),
			Participants: []models.User{c.srv.users[c.self], u},
			UpdatedAt:    time.Now(),
		}
		c.srv.chats[ch.ID] = ch

		return ch, nil
	}

	return models.Chat{}, &apperrors.ConflictError{Op: "find match", Status: http.StatusNotFound, Msg: "no match available"}
}

func (c *fakeClient) MarkNotificationsRead(ctx context.Context) error {
	c.record("read")

	if err := c.wait(ctx); err != nil {
		return err
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	for i := range c.srv.notifications[c.self] {
		c.srv.notifications[c.self][i].IsRead = true
	}

	return nil
}
