package e2e_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/social-sync/internal/errors"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestMCP_BadgesFromSnapshots(t *testing.T) {
	h := newHarness(t)
	session := h.mcpSession(t, h.Key)

	out := callJSON(t, session, "social_badges", nil)

	assert.Equal(t, int64(2), gjson.Get(out, "unread_messages").Int())
	assert.Equal(t, int64(1), gjson.Get(out, "chats_with_unread").Int())
	assert.Equal(t, int64(1), gjson.Get(out, "unread_notifications").Int())
	assert.Equal(t, int64(1), gjson.Get(out, "pending_requests").Int())
	assert.Equal(t, int64(1), gjson.Get(out, "online_friends").Int())
	assert.Equal(t, int64(3), gjson.Get(out, "total").Int())
}

func TestPush_NewMessageReachesMCP(t *testing.T) {
	h := newHarness(t)
	session := h.mcpSession(t, h.Key)

	h.Backend.send(t, "newMessage", map[string]any{
		"chatId": "C1",
		"message": models.Message{
			ID:        "m9",
			ChatID:    "C1",
			SenderID:  bob.ID,
			Body:      "still there?",
			CreatedAt: seedTime.Add(time.Minute),
		},
	})

	require.Eventually(t, func() bool {
		out := callJSON(t, session, "social_chats", nil)
		return gjson.Get(out, `chats.#(id=="C1").unread`).Int() == 3
	}, 5*time.Second, 20*time.Millisecond)

	out := callJSON(t, session, "social_messages", map[string]any{"chat_id": "C1"})
	assert.Equal(t, "still there?", gjson.Get(out, "messages.0.body").String())
	assert.Equal(t, "still there?", gjson.Get(callJSON(t, session, "social_chats", nil), `chats.#(id=="C1").last_message`).String())
}

func TestPush_OpenChatSuppressesUnread(t *testing.T) {
	h := newHarness(t)
	session := h.mcpSession(t, h.Key)

	callJSON(t, session, "social_open_chat", map[string]any{"chat_id": "C1"})

	h.Backend.send(t, "newMessage", map[string]any{
		"chatId": "C1",
		"message": models.Message{
			ID: "m10", ChatID: "C1", SenderID: bob.ID, Body: "seen", CreatedAt: seedTime.Add(time.Minute),
		},
	})

	require.Eventually(t, func() bool {
		msgs, err := h.Service.Messages("C1")
		return err == nil && len(msgs) == 1
	}, 5*time.Second, 20*time.Millisecond)

	out := callJSON(t, session, "social_chats", nil)
	assert.Equal(t, int64(0), gjson.Get(out, `chats.#(id=="C1").unread`).Int())
	assert.True(t, gjson.Get(out, `chats.#(id=="C1").open`).Bool())
}

func TestMCP_AcceptRequest(t *testing.T) {
	h := newHarness(t)
	session := h.mcpSession(t, h.Key)

	out := callJSON(t, session, "social_accept_request", map[string]any{"request_id": "R1"})
	assert.Equal(t, "committed", gjson.Get(out, "status").String())

	assert.Equal(t, models.RequestAccepted, h.Backend.requestStatus("R1"))

	require.Eventually(t, func() bool {
		friends := callJSON(t, session, "social_friends", nil)
		return gjson.Get(friends, `friends.#(id=="u3")`).Exists()
	}, 5*time.Second, 20*time.Millisecond)

	pending := callJSON(t, session, "social_pending_requests", nil)
	assert.Empty(t, gjson.Get(pending, "incoming").Array())
}

func TestMCP_DeclineResolvedElsewhere(t *testing.T) {
	h := newHarness(t)
	session := h.mcpSession(t, h.Key)

	// Another device already accepted the request.
	h.Backend.mu.Lock()
	h.Backend.requests["R1"].Status = models.RequestAccepted
	h.Backend.mu.Unlock()

	// The server's 404 means the request is already settled, so the
	// decline still commits locally.
	out := callJSON(t, session, "social_decline_request", map[string]any{"request_id": "R1"})
	assert.Equal(t, "committed", gjson.Get(out, "status").String())
	assert.True(t, gjson.Get(out, "conflict").Bool())
}

func TestMCP_SendRequestAndStartChat(t *testing.T) {
	h := newHarness(t)
	session := h.mcpSession(t, h.Key)

	sent := callJSON(t, session, "social_send_request", map[string]any{"user_id": dave.ID, "username": dave.Username})
	assert.Equal(t, "committed", gjson.Get(sent, "status").String())
	assert.Equal(t, "R11", gjson.Get(sent, "request.id").String(), "optimistic id replaced by server id")

	chat := callJSON(t, session, "social_start_chat", map[string]any{"user_id": carol.ID, "username": carol.Username})
	assert.Equal(t, "committed", gjson.Get(chat, "status").String())

	require.Eventually(t, func() bool {
		return len(h.Service.Chats()) == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestMCP_MarkNotificationsRead(t *testing.T) {
	h := newHarness(t)
	session := h.mcpSession(t, h.Key)

	out := callJSON(t, session, "social_mark_notifications_read", nil)
	assert.Equal(t, "committed", gjson.Get(out, "status").String())

	notes := callJSON(t, session, "social_notifications", nil)
	assert.Equal(t, int64(0), gjson.Get(notes, "unread").Int())
	assert.Equal(t, 0, h.Service.Badges().UnreadNotifications)
}

func TestPush_FriendRequestReceived(t *testing.T) {
	h := newHarness(t)

	h.Backend.send(t, "friendRequestReceived", models.FriendRequest{
		ID:        "R7",
		Sender:    dave,
		Recipient: me,
		Status:    models.RequestPending,
		CreatedAt: seedTime,
	})

	require.Eventually(t, func() bool {
		return h.Service.Badges().PendingRequests == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPush_MalformedFrameDropped(t *testing.T) {
	h := newHarness(t)

	// No timestamp, so the frame is dropped and bob stays online.
	h.Backend.send(t, "presenceChanged", map[string]any{"userId": bob.ID, "online": false})
	h.Backend.send(t, "newMessage", map[string]any{
		"chatId": "C1",
		"message": models.Message{
			ID: "m11", ChatID: "C1", SenderID: bob.ID, Body: "after", CreatedAt: seedTime.Add(time.Minute),
		},
	})

	require.Eventually(t, func() bool {
		msgs, err := h.Service.Messages("C1")
		return err == nil && len(msgs) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, h.Service.Badges().OnlineFriends)

	h.Backend.send(t, "presenceChanged", map[string]any{
		"userId": bob.ID, "online": false, "timestamp": time.Now().UnixMilli() + 1000,
	})

	require.Eventually(t, func() bool {
		return h.Service.Badges().OnlineFriends == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestBackendRejectsToken_EndsSession(t *testing.T) {
	api := httptest.NewServer(newBackend().handler())
	t.Cleanup(api.Close)

	svc := newService(api.URL, "stale-token", slog.New(slog.DiscardHandler))
	svc.Start(t.Context())

	select {
	case <-svc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}

	assert.True(t, apperrors.IsAuthExpired(svc.Stop()))
}

// --- MCP authentication ---

func TestUnauthenticated_Returns401(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, h.URL+"/mcp", nil)
	require.NoError(t, err)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")
}

func TestInvalidKey_Returns401(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, h.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer ss_"+"0000000000000000000000000000000000000000000000000000000000000000")

	resp, err := h.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, h.URL+"/healthz", nil)
	require.NoError(t, err)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
