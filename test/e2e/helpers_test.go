package e2e_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/social-sync/internal/auth"
	"github.com/alexjbarnes/social-sync/internal/mcpserver"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/alexjbarnes/social-sync/internal/server"
	"github.com/alexjbarnes/social-sync/internal/social"
	"github.com/alexjbarnes/social-sync/internal/transport"
	"github.com/coder/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

const (
	userToken = "user-session-token"
	keyName   = "e2e"
)

var (
	me    = models.User{ID: "u1", Username: "me"}
	bob   = models.User{ID: "u2", Username: "bob"}
	carol = models.User{ID: "u3", Username: "carol"}
	dave  = models.User{ID: "u4", Username: "dave"}

	seedTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

// backend is a small in-memory social API with a websocket push
// endpoint. It answers for a single signed-in user.
type backend struct {
	mu sync.Mutex

	chats         []models.Chat
	friends       []models.User
	online        map[string]bool
	requests      map[string]*models.FriendRequest
	notifications []models.Notification

	conns  []*websocket.Conn
	nextID int
}

func newBackend() *backend {
	return &backend{
		chats: []models.Chat{{
			ID:           "C1",
			Participants: []models.User{me, bob},
			LastMessage:  &models.LastMessage{Body: "hey", CreatedAt: seedTime},
			UpdatedAt:    seedTime,
			UnreadCount:  2,
		}},
		friends: []models.User{bob},
		online:  map[string]bool{bob.ID: true},
		requests: map[string]*models.FriendRequest{
			"R1": {ID: "R1", Sender: carol, Recipient: me, Status: models.RequestPending, CreatedAt: seedTime},
		},
		notifications: []models.Notification{
			{ID: "N1", Type: models.NotificationFriendRequest, SubjectID: "R1", CreatedAt: seedTime},
		},
		nextID: 10,
	}
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/chats", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeData(w, http.StatusOK, map[string]any{"chats": b.chats})
	})

	mux.HandleFunc("GET /api/friends", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeData(w, http.StatusOK, b.friends)
	})

	mux.HandleFunc("GET /api/users/online-friends", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		online := lo.Filter(b.friends, func(u models.User, _ int) bool { return b.online[u.ID] })
		writeData(w, http.StatusOK, map[string]any{"onlineFriends": online})
	})

	mux.HandleFunc("GET /api/friends/requests", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		pending := lo.Filter(lo.Values(b.requests), func(r *models.FriendRequest, _ int) bool {
			return r.Recipient.ID == me.ID && r.Status == models.RequestPending
		})
		writeData(w, http.StatusOK, lo.Map(pending, func(r *models.FriendRequest, _ int) models.FriendRequest { return *r }))
	})

	mux.HandleFunc("GET /api/notifications", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeData(w, http.StatusOK, b.notifications)
	})

	mux.HandleFunc("PUT /api/friends/requests/{id}/accept", func(w http.ResponseWriter, r *http.Request) {
		b.resolve(w, r.PathValue("id"), models.RequestAccepted)
	})

	mux.HandleFunc("DELETE /api/friends/requests/{id}/decline", func(w http.ResponseWriter, r *http.Request) {
		b.resolve(w, r.PathValue("id"), models.RequestDeclined)
	})

	mux.HandleFunc("POST /api/friends/request", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RecipientID string `json:"recipientId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad body")
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		req := &models.FriendRequest{
			ID:        b.id("R"),
			Sender:    me,
			Recipient: models.User{ID: body.RecipientID},
			Status:    models.RequestPending,
			CreatedAt: time.Now(),
		}
		b.requests[req.ID] = req

		writeData(w, http.StatusCreated, map[string]any{"request": req})
	})

	mux.HandleFunc("GET /api/chats/with/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		peer := r.PathValue("id")

		chat, ok := lo.Find(b.chats, func(c models.Chat) bool {
			return lo.ContainsBy(c.Participants, func(u models.User) bool { return u.ID == peer })
		})
		if !ok {
			chat = models.Chat{ID: b.id("C"), Participants: []models.User{me, {ID: peer}}, UpdatedAt: time.Now()}
			b.chats = append(b.chats, chat)
		}

		writeData(w, http.StatusOK, map[string]any{"chat": chat})
	})

	mux.HandleFunc("POST /api/match/find", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		chat := models.Chat{ID: b.id("M"), Participants: []models.User{me, dave}, UpdatedAt: time.Now()}
		b.chats = append(b.chats, chat)

		writeData(w, http.StatusOK, map[string]any{"chat": chat})
	})

	mux.HandleFunc("PUT /api/notifications/read", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i := range b.notifications {
			b.notifications[i].IsRead = true
		}

		writeData(w, http.StatusOK, map[string]any{})
	})

	mux.HandleFunc("GET /push", b.push)

	return requireToken(mux)
}

func (b *backend) id(prefix string) string {
	b.nextID++
	return fmt.Sprintf("%s%d", prefix, b.nextID)
}

func (b *backend) resolve(w http.ResponseWriter, id string, status models.RequestStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.requests[id]
	if !ok || r.Status != models.RequestPending {
		writeError(w, http.StatusNotFound, "friend request not found")
		return
	}

	r.Status = status
	if status == models.RequestAccepted {
		b.friends = append(b.friends, r.Sender)
	}

	writeData(w, http.StatusOK, map[string]any{})
}

// push upgrades to a websocket and answers pings until the client goes
// away. Events are written by send.
func (b *backend) push(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		if strings.Contains(string(data), `"ping"`) {
			_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"event":"pong"}`))
		}
	}
}

// send writes one push frame to every connected client.
func (b *backend) send(t *testing.T, event string, data any) {
	t.Helper()

	frame, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)

	b.mu.Lock()
	conns := append([]*websocket.Conn(nil), b.conns...)
	b.mu.Unlock()

	require.NotEmpty(t, conns, "no push client connected")

	for _, c := range conns {
		require.NoError(t, c.Write(t.Context(), websocket.MessageText, frame))
	}
}

func (b *backend) requestStatus(id string) models.RequestStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.requests[id]; ok {
		return r.Status
	}

	return ""
}

func requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+userToken {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

// harness holds the full e2e stack: the fake social backend, a social
// service talking to it over HTTP and websocket, and the MCP server in
// front of that service.
type harness struct {
	Backend *backend
	Service *social.Service
	URL     string
	Key     string
	Client  *http.Client
}

// newHarness starts the backend, the service with its push channel, and
// the authenticated MCP endpoint.
func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	be := newBackend()
	api := httptest.NewServer(be.handler())
	t.Cleanup(api.Close)

	svc := newService(api.URL, userToken, logger)

	svc.Start(context.WithoutCancel(t.Context()))
	t.Cleanup(func() { _ = svc.Stop() })

	require.Eventually(t, func() bool {
		b := svc.Badges()

		return svc.ChannelState() == transport.StateConnected &&
			len(svc.Chats()) == 1 &&
			b.PendingRequests == 1 &&
			b.UnreadNotifications == 1 &&
			b.OnlineFriends == 1
	}, 5*time.Second, 10*time.Millisecond, "service never synced")

	key := auth.GenerateAPIKey()
	hash, err := auth.HashAPIKey(key)
	require.NoError(t, err)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "social-sync-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, svc, logger)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	ts := httptest.NewServer(server.NewMux(server.MuxConfig{
		Keys:       auth.NewKeyStore([]auth.KeyEntry{{Name: keyName, Hash: hash}}),
		MCPHandler: mcpHandler,
		Logger:     logger,
		Health:     func() any { return svc.Badges() },
	}))
	t.Cleanup(ts.Close)

	return &harness{
		Backend: be,
		Service: svc,
		URL:     ts.URL,
		Key:     key,
		Client:  ts.Client(),
	}
}

func newService(apiURL, token string, logger *slog.Logger) *social.Service {
	client := transport.NewClient(transport.ClientConfig{
		BaseURL:   apiURL,
		Token:     token,
		RateLimit: 1000,
		Burst:     1000,
	})

	return social.New(social.Config{
		Self: me,
		Push: transport.ChannelConfig{
			URL:          "ws" + strings.TrimPrefix(apiURL, "http") + "/push",
			Token:        token,
			PingInterval: time.Second,
			IdleTimeout:  5 * time.Second,
			ReconnectMin: 10 * time.Millisecond,
			ReconnectMax: 50 * time.Millisecond,
		},
	}, client, logger)
}

// mcpSession creates an MCP client session authenticated with the given
// API key. Uses the MCP SDK's StreamableClientTransport with a custom
// HTTP RoundTripper that injects the Authorization header.
func (h *harness) mcpSession(t *testing.T, key string) *mcp.ClientSession {
	t.Helper()

	clientTransport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: key,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// callJSON calls a tool and returns its JSON text result.
func callJSON(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)

	text := extractTextContent(t, result)
	require.False(t, result.IsError, "tool %s failed: %s", name, text)

	return text
}

// extractTextContent pulls the text from the first TextContent in a
// CallToolResult. MCP tools return JSON-serialized results as TextContent.
func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content, "tool result has no content")

	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}

	t.Fatal("no TextContent found in tool result")

	return ""
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}
