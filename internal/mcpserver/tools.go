// Package mcpserver registers MCP tools that expose the social session.
// It adapts the social service to the MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/social-sync/internal/aggregate"
	"github.com/alexjbarnes/social-sync/internal/auth"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/alexjbarnes/social-sync/internal/mutation"
	"github.com/alexjbarnes/social-sync/internal/reconcile"
	"github.com/alexjbarnes/social-sync/internal/social"
	"github.com/alexjbarnes/social-sync/internal/store"
	"github.com/alexjbarnes/social-sync/internal/transport"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"
)

// mutationWait bounds how long a tool call waits for the server to
// answer a mutation. Past it the tool reports the handle as pending.
const mutationWait = 15 * time.Second

// Session is the part of *social.Service the tools use.
type Session interface {
	Self() models.User
	Badges() aggregate.Badges
	Chats() []models.Chat
	ChatOpen(chatID string) bool
	Messages(chatID string) ([]models.Message, error)
	Friends() []social.Friend
	PendingRequests() []models.FriendRequest
	OutgoingRequests() []models.FriendRequest
	Request(id string) (store.RequestView, bool)
	Notifications() []models.Notification
	ChannelState() transport.State
	SyncHealth() reconcile.Health
	Pending() []*mutation.Handle

	OpenChat(ctx context.Context, chatID string) error
	CloseChat(ctx context.Context, chatID string) error
	AcceptRequest(ctx context.Context, id string) *mutation.Handle
	DeclineRequest(ctx context.Context, id string) *mutation.Handle
	SendFriendRequest(ctx context.Context, recipient models.User) *mutation.Handle
	StartChat(ctx context.Context, peer models.User) (models.Chat, *mutation.Handle)
	MarkAllRead(ctx context.Context) *mutation.Handle
	FindMatch(ctx context.Context) (models.Chat, error)
}

// RegisterTools adds all social tools to the given MCP server.
func RegisterTools(server *mcp.Server, s Session, logger *slog.Logger) {
	t := &tools{s: s, logger: logger}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_badges",
		Description: "Current badge counts: unread notifications, unread messages, chats with unread messages, online friends, pending friend requests and the total shown on the app icon.",
	}, t.badges)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_chats",
		Description: "List chats, most recently active first, with the other participant, the last message preview and the unread count.",
	}, t.chats)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_messages",
		Description: "List the known messages of one chat in the order they were sent.",
	}, t.messages)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_friends",
		Description: "List friends with their online status.",
	}, t.friends)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_pending_requests",
		Description: "List incoming friend requests awaiting a decision and requests sent by the user.",
	}, t.pendingRequests)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_notifications",
		Description: "List notifications, newest first. Set unread_only to skip read ones.",
	}, t.notifications)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_open_chat",
		Description: "Mark a chat as being viewed. Its unread count drops to zero and incoming messages do not raise it until the chat is closed.",
	}, t.openChat)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_close_chat",
		Description: "Stop viewing a chat. New messages count as unread again.",
	}, t.closeChat)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_accept_request",
		Description: "Accept an incoming friend request. Safe to repeat: a second call while the first is in flight returns the same result.",
	}, t.acceptRequest)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_decline_request",
		Description: "Decline an incoming friend request. Ignored while an accept for the same request is in flight.",
	}, t.declineRequest)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_send_request",
		Description: "Send a friend request to another user.",
	}, t.sendRequest)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_start_chat",
		Description: "Open the chat with a user, creating it if none exists yet.",
	}, t.startChat)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_find_match",
		Description: "Ask the server for a random match and return the new chat.",
	}, t.findMatch)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_mark_notifications_read",
		Description: "Mark every notification read. Notifications that arrive while the request is in flight stay unread.",
	}, t.markNotificationsRead)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "social_channel_state",
		Description: "Report the push channel state and the mutations still waiting for the server.",
	}, t.channelState)
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// NoInput is used by tools without parameters.
type NoInput struct{}

// ChatInput names one chat.
type ChatInput struct {
	ChatID string `json:"chat_id" jsonschema:"required,chat id as returned by social_chats"`
}

// RequestInput names one friend request.
type RequestInput struct {
	RequestID string `json:"request_id" jsonschema:"required,friend request id as returned by social_pending_requests"`
}

// UserInput names another user.
type UserInput struct {
	UserID   string `json:"user_id" jsonschema:"required,id of the other user"`
	Username string `json:"username,omitempty" jsonschema:"display name, shown until the server confirms"`
}

// NotificationsInput holds parameters for social_notifications.
type NotificationsInput struct {
	UnreadOnly bool `json:"unread_only,omitempty" jsonschema:"only return unread notifications"`
}

// --- Output types ---
// Slices are always non-nil: the inferred schema does not accept null.

type ChatView struct {
	ID          string    `json:"id"`
	PeerID      string    `json:"peer_id"`
	PeerName    string    `json:"peer_name"`
	LastMessage string    `json:"last_message,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	Unread      int       `json:"unread"`
	Open        bool      `json:"open"`
}

type ChatsOutput struct {
	Chats []ChatView `json:"chats"`
}

type MessageView struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type MessagesOutput struct {
	ChatID   string        `json:"chat_id"`
	Messages []MessageView `json:"messages"`
}

type FriendsOutput struct {
	Friends []social.Friend `json:"friends"`
	Online  int             `json:"online"`
}

type RequestView struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Status    string `json:"status"`
	Phase     string `json:"phase,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type RequestsOutput struct {
	Incoming []RequestView `json:"incoming"`
	Outgoing []RequestView `json:"outgoing"`
}

type NotificationView struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	SubjectID string    `json:"subject_id"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type NotificationsOutput struct {
	Notifications []NotificationView `json:"notifications"`
	Unread        int                `json:"unread"`
}

type ChatSignalOutput struct {
	ChatID string `json:"chat_id"`
	Open   bool   `json:"open"`
}

// MutationOutput reports a mutation handle. Status is pending when the
// server did not answer within the wait.
type MutationOutput struct {
	ID       string       `json:"id,omitempty"`
	Key      string       `json:"key,omitempty"`
	Status   string       `json:"status"`
	Conflict bool         `json:"conflict,omitempty"`
	Error    string       `json:"error,omitempty"`
	Request  *RequestView `json:"request,omitempty"`
	Chat     *ChatView    `json:"chat,omitempty"`
}

type PendingView struct {
	ID      string    `json:"id"`
	Key     string    `json:"key"`
	Started time.Time `json:"started"`
}

type ChannelStateOutput struct {
	State   string        `json:"state"`
	Pending []PendingView `json:"pending"`

	// Degraded is set while snapshot fetches are failing on the network
	// and being retried. The views still show the last good data.
	Degraded  bool     `json:"degraded"`
	Failing   []string `json:"failing"`
	LastError string   `json:"last_error,omitempty"`
}

// --- Handlers ---

type tools struct {
	s      Session
	logger *slog.Logger
}

func (t *tools) log(ctx context.Context, tool string, attrs ...any) {
	attrs = append(attrs, slog.String("tool", tool))
	if name := auth.RequestKeyName(ctx); name != "" {
		attrs = append(attrs, slog.String("key", name))
	}

	t.logger.Debug("mcp tool call", attrs...)
}

func (t *tools) badges(_ context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, *aggregate.Badges, error) {
	b := t.s.Badges()
	return textResult(b), &b, nil
}

func (t *tools) chats(_ context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, *ChatsOutput, error) {
	out := &ChatsOutput{Chats: lo.Map(t.s.Chats(), func(c models.Chat, _ int) ChatView { return t.chatView(c) })}
	return textResult(out), out, nil
}

func (t *tools) messages(_ context.Context, _ *mcp.CallToolRequest, in ChatInput) (*mcp.CallToolResult, *MessagesOutput, error) {
	msgs, err := t.s.Messages(in.ChatID)
	if err != nil {
		return nil, nil, err
	}

	out := &MessagesOutput{
		ChatID: in.ChatID,
		Messages: lo.Map(msgs, func(m models.Message, _ int) MessageView {
			return MessageView{ID: m.ID, SenderID: m.SenderID, Body: m.Body, CreatedAt: m.CreatedAt}
		}),
	}

	return textResult(out), out, nil
}

func (t *tools) friends(_ context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, *FriendsOutput, error) {
	friends := t.s.Friends()
	if friends == nil {
		friends = []social.Friend{}
	}

	out := &FriendsOutput{
		Friends: friends,
		Online:  lo.CountBy(friends, func(f social.Friend) bool { return f.Online }),
	}

	return textResult(out), out, nil
}

func (t *tools) pendingRequests(_ context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, *RequestsOutput, error) {
	self := t.s.Self().ID
	view := func(r models.FriendRequest, _ int) RequestView { return requestView(r, self, "") }

	out := &RequestsOutput{
		Incoming: lo.Map(t.s.PendingRequests(), view),
		Outgoing: lo.Map(t.s.OutgoingRequests(), view),
	}

	return textResult(out), out, nil
}

func (t *tools) notifications(_ context.Context, _ *mcp.CallToolRequest, in NotificationsInput) (*mcp.CallToolResult, *NotificationsOutput, error) {
	all := t.s.Notifications()

	out := &NotificationsOutput{
		Notifications: []NotificationView{},
		Unread:        lo.CountBy(all, func(n models.Notification) bool { return !n.IsRead }),
	}

	for _, n := range all {
		if in.UnreadOnly && n.IsRead {
			continue
		}

		out.Notifications = append(out.Notifications, NotificationView{
			ID:        n.ID,
			Type:      string(n.Type),
			SubjectID: n.SubjectID,
			Read:      n.IsRead,
			CreatedAt: n.CreatedAt,
		})
	}

	return textResult(out), out, nil
}

func (t *tools) openChat(ctx context.Context, _ *mcp.CallToolRequest, in ChatInput) (*mcp.CallToolResult, *ChatSignalOutput, error) {
	t.log(ctx, "social_open_chat", slog.String("chat_id", in.ChatID))

	if err := t.s.OpenChat(ctx, in.ChatID); err != nil {
		return nil, nil, err
	}

	out := &ChatSignalOutput{ChatID: in.ChatID, Open: true}

	return textResult(out), out, nil
}

func (t *tools) closeChat(ctx context.Context, _ *mcp.CallToolRequest, in ChatInput) (*mcp.CallToolResult, *ChatSignalOutput, error) {
	t.log(ctx, "social_close_chat", slog.String("chat_id", in.ChatID))

	if err := t.s.CloseChat(ctx, in.ChatID); err != nil {
		return nil, nil, err
	}

	out := &ChatSignalOutput{ChatID: in.ChatID}

	return textResult(out), out, nil
}

func (t *tools) acceptRequest(ctx context.Context, _ *mcp.CallToolRequest, in RequestInput) (*mcp.CallToolResult, *MutationOutput, error) {
	t.log(ctx, "social_accept_request", slog.String("request_id", in.RequestID))
	return t.resolved(ctx, in.RequestID, t.s.AcceptRequest(ctx, in.RequestID))
}

func (t *tools) declineRequest(ctx context.Context, _ *mcp.CallToolRequest, in RequestInput) (*mcp.CallToolResult, *MutationOutput, error) {
	t.log(ctx, "social_decline_request", slog.String("request_id", in.RequestID))
	return t.resolved(ctx, in.RequestID, t.s.DeclineRequest(ctx, in.RequestID))
}

func (t *tools) resolved(ctx context.Context, id string, h *mutation.Handle) (*mcp.CallToolResult, *MutationOutput, error) {
	out := waitFor(ctx, h)

	if v, ok := t.s.Request(id); ok {
		rv := requestView(v.Request, t.s.Self().ID, v.Phase)
		out.Request = &rv
	}

	return textResult(out), out, nil
}

func (t *tools) sendRequest(ctx context.Context, _ *mcp.CallToolRequest, in UserInput) (*mcp.CallToolResult, *MutationOutput, error) {
	t.log(ctx, "social_send_request", slog.String("user_id", in.UserID))

	h := t.s.SendFriendRequest(ctx, models.User{ID: in.UserID, Username: in.Username})
	out := waitFor(ctx, h)

	if req, ok := h.Result().(models.FriendRequest); ok {
		rv := requestView(req, t.s.Self().ID, "")
		out.Request = &rv
	}

	return textResult(out), out, nil
}

func (t *tools) startChat(ctx context.Context, _ *mcp.CallToolRequest, in UserInput) (*mcp.CallToolResult, *MutationOutput, error) {
	t.log(ctx, "social_start_chat", slog.String("user_id", in.UserID))

	chat, h := t.s.StartChat(ctx, models.User{ID: in.UserID, Username: in.Username})
	if h == nil {
		cv := t.chatView(chat)
		out := &MutationOutput{Status: mutation.StatusCommitted.String(), Chat: &cv}

		return textResult(out), out, nil
	}

	out := waitFor(ctx, h)

	if c, ok := h.Result().(models.Chat); ok {
		chat = c
	}

	if chat.ID != "" {
		cv := t.chatView(chat)
		out.Chat = &cv
	}

	return textResult(out), out, nil
}

func (t *tools) findMatch(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, *ChatView, error) {
	t.log(ctx, "social_find_match")

	chat, err := t.s.FindMatch(ctx)
	if err != nil {
		return nil, nil, err
	}

	out := t.chatView(chat)

	return textResult(out), &out, nil
}

func (t *tools) markNotificationsRead(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, *MutationOutput, error) {
	t.log(ctx, "social_mark_notifications_read")

	out := waitFor(ctx, t.s.MarkAllRead(ctx))

	return textResult(out), out, nil
}

func (t *tools) channelState(_ context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, *ChannelStateOutput, error) {
	out := &ChannelStateOutput{
		State: t.s.ChannelState().String(),
		Pending: lo.Map(t.s.Pending(), func(h *mutation.Handle, _ int) PendingView {
			return PendingView{ID: h.ID, Key: h.Key, Started: h.Started}
		}),
	}

	health := t.s.SyncHealth()
	out.Degraded = health.Degraded
	out.LastError = health.LastError
	out.Failing = lo.Map(health.Failing, func(r models.Resource, _ int) string { return string(r) })

	return textResult(out), out, nil
}

// --- Views ---

func (t *tools) chatView(c models.Chat) ChatView {
	peer, _ := c.Counterpart(t.s.Self().ID)

	v := ChatView{
		ID:        c.ID,
		PeerID:    peer.ID,
		PeerName:  peer.Username,
		UpdatedAt: c.UpdatedAt,
		Unread:    c.UnreadCount,
		Open:      t.s.ChatOpen(c.ID),
	}

	if c.LastMessage != nil {
		v.LastMessage = c.LastMessage.Body
	}

	return v
}

func requestView(r models.FriendRequest, self string, phase store.RequestPhase) RequestView {
	other := r.Counterpart(self)

	v := RequestView{
		ID:       r.ID,
		UserID:   other.ID,
		Username: other.Username,
		Status:   string(r.Status),
		Phase:    string(phase),
	}

	if !r.CreatedAt.IsZero() {
		v.CreatedAt = r.CreatedAt.Format(time.RFC3339)
	}

	return v
}

// waitFor waits for h up to mutationWait and describes it. The tool
// call's context only ends the wait; the mutation itself continues.
func waitFor(ctx context.Context, h *mutation.Handle) *MutationOutput {
	ctx, cancel := context.WithTimeout(ctx, mutationWait)
	defer cancel()

	_, _ = h.Wait(ctx)

	out := &MutationOutput{
		ID:       h.ID,
		Key:      h.Key,
		Status:   h.Status().String(),
		Conflict: h.Conflict(),
	}

	if err := h.Err(); err != nil {
		out.Error = err.Error()
	}

	return out
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
