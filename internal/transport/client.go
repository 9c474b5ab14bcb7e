package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/social-sync/internal/errors"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. Snapshots are JSON
	// collections, larger than single-object responses but still bounded.
	maxAPIResponseBytes = 8 * 1024 * 1024

	// defaultRateLimit and defaultBurst bound outgoing API requests when
	// the caller does not configure a limiter.
	defaultRateLimit = 10
	defaultBurst     = 20

	// breakerTimeout is how long the breaker stays open before letting a
	// probe request through.
	breakerTimeout = 30 * time.Second

	// breakerTripAfter is the number of consecutive network failures that
	// opens the breaker.
	breakerTripAfter = 5
)

// ClientConfig holds the parameters for the REST client.
type ClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	RateLimit  float64
	Burst      int
}

// Client talks to the social REST API. It throttles requests with a
// token bucket and short-circuits with a breaker while the API is down.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	now        func() time.Time
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host so the bearer token never leaks.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client. A nil HTTPClient gets a 30-second
// timeout and the same-host redirect policy.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "social-api",
			Timeout: breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerTripAfter
			},
			// Only transport failures count against the breaker. Domain
			// rejections mean the API is up and answering.
			IsSuccessful: func(err error) bool {
				return err == nil || !apperrors.IsNetwork(err)
			},
		}),
		now: time.Now,
	}
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends one request through the limiter and breaker and returns the
// raw "data" member of the response envelope.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &apperrors.NetworkError{Op: op, Err: err}
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, op, method, endpoint, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &apperrors.NetworkError{Op: op, Err: err}
	}

	if err != nil {
		return nil, err
	}

	raw, _ := out.(json.RawMessage)

	return raw, nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, endpoint string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.NetworkError{Op: op, Err: fmt.Errorf("sending request to %s: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, &apperrors.NetworkError{Op: op, Err: fmt.Errorf("reading response from %s: %w", endpoint, err)}
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}

		if decodeErr != nil || msg == "" {
			msg = sanitizeResponseBody(respBody)
		}

		return nil, classifyStatus(op, resp.StatusCode, msg)
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, apperrors.ErrSnapshotDecode, decodeErr)
	}

	return env.Data, nil
}

// classifyStatus maps an HTTP error status onto the error taxonomy.
func classifyStatus(op string, code int, msg string) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &apperrors.AuthExpiredError{Op: op, Status: code}
	case code == http.StatusNotFound || code == http.StatusConflict || code == http.StatusGone:
		return &apperrors.ConflictError{Op: op, Status: code, Msg: msg}
	case isTransientStatus(code):
		return &apperrors.NetworkError{Op: op, Err: fmt.Errorf("status %d: %s", code, msg)}
	default:
		return &apperrors.ValidationError{Op: op, Status: code, Msg: msg}
	}
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// ListChats fetches the chat list snapshot.
func (c *Client) ListChats(ctx context.Context) (models.Snapshot[models.Chat], error) {
	requested := c.now()

	raw, err := c.do(ctx, "list chats", http.MethodGet, "/api/chats", nil)
	if err != nil {
		return models.Snapshot[models.Chat]{}, err
	}

	var data struct {
		Chats []models.Chat `json:"chats"`
	}
	if err := decodeData(raw, &data); err != nil {
		return models.Snapshot[models.Chat]{}, fmt.Errorf("list chats: %w", err)
	}

	chats, err := validateBatch(data.Chats, normalizeChat)
	if err != nil {
		return models.Snapshot[models.Chat]{}, fmt.Errorf("list chats: %w", err)
	}

	return models.Snapshot[models.Chat]{Items: chats, RequestedAt: requested}, nil
}

// ListFriends fetches the friend set snapshot.
func (c *Client) ListFriends(ctx context.Context) (models.Snapshot[models.User], error) {
	return c.listUsers(ctx, "list friends", "/api/friends", "")
}

// ListOnlineFriends fetches the friends currently online.
func (c *Client) ListOnlineFriends(ctx context.Context) (models.Snapshot[models.User], error) {
	return c.listUsers(ctx, "list online friends", "/api/users/online-friends", "onlineFriends")
}

func (c *Client) listUsers(ctx context.Context, op, endpoint, field string) (models.Snapshot[models.User], error) {
	requested := c.now()

	raw, err := c.do(ctx, op, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Snapshot[models.User]{}, err
	}

	var users []models.User

	if field == "" {
		err = decodeData(raw, &users)
	} else {
		wrapped := map[string]*[]models.User{field: &users}
		err = decodeData(raw, &wrapped)
	}

	if err != nil {
		return models.Snapshot[models.User]{}, fmt.Errorf("%s: %w", op, err)
	}

	users, err = validateBatch(users, normalizeUser)
	if err != nil {
		return models.Snapshot[models.User]{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.Snapshot[models.User]{Items: users, RequestedAt: requested}, nil
}

// ListFriendRequests fetches the pending incoming friend requests.
func (c *Client) ListFriendRequests(ctx context.Context) (models.Snapshot[models.FriendRequest], error) {
	requested := c.now()

	raw, err := c.do(ctx, "list friend requests", http.MethodGet, "/api/friends/requests", nil)
	if err != nil {
		return models.Snapshot[models.FriendRequest]{}, err
	}

	var reqs []models.FriendRequest
	if err := decodeData(raw, &reqs); err != nil {
		return models.Snapshot[models.FriendRequest]{}, fmt.Errorf("list friend requests: %w", err)
	}

	reqs, err = validateBatch(reqs, normalizeRequest)
	if err != nil {
		return models.Snapshot[models.FriendRequest]{}, fmt.Errorf("list friend requests: %w", err)
	}

	return models.Snapshot[models.FriendRequest]{Items: reqs, RequestedAt: requested}, nil
}

// ListNotifications fetches the notification snapshot.
func (c *Client) ListNotifications(ctx context.Context) (models.Snapshot[models.Notification], error) {
	requested := c.now()

	raw, err := c.do(ctx, "list notifications", http.MethodGet, "/api/notifications", nil)
	if err != nil {
		return models.Snapshot[models.Notification]{}, err
	}

	var notes []models.Notification
	if err := decodeData(raw, &notes); err != nil {
		return models.Snapshot[models.Notification]{}, fmt.Errorf("list notifications: %w", err)
	}

	notes, err = validateBatch(notes, nil)
	if err != nil {
		return models.Snapshot[models.Notification]{}, fmt.Errorf("list notifications: %w", err)
	}

	return models.Snapshot[models.Notification]{Items: notes, RequestedAt: requested}, nil
}

// AcceptFriendRequest confirms acceptance of request id.
func (c *Client) AcceptFriendRequest(ctx context.Context, id string) error {
	_, err := c.do(ctx, "accept friend request", http.MethodPut, "/api/friends/requests/"+url.PathEscape(id)+"/accept", struct{}{})
	return err
}

// DeclineFriendRequest confirms declining request id.
func (c *Client) DeclineFriendRequest(ctx context.Context, id string) error {
	_, err := c.do(ctx, "decline friend request", http.MethodDelete, "/api/friends/requests/"+url.PathEscape(id)+"/decline", nil)
	return err
}

// SendFriendRequest sends a friend request to recipientID and returns the
// server copy with its assigned id.
func (c *Client) SendFriendRequest(ctx context.Context, recipientID string) (models.FriendRequest, error) {
	body := map[string]string{"recipientId": recipientID}

	raw, err := c.do(ctx, "send friend request", http.MethodPost, "/api/friends/request", body)
	if err != nil {
		return models.FriendRequest{}, err
	}

	var data struct {
		Request models.FriendRequest `json:"request"`
	}
	if err := decodeData(raw, &data); err != nil {
		return models.FriendRequest{}, fmt.Errorf("send friend request: %w", err)
	}

	if data.Request.Recipient.ID == "" {
		data.Request.Recipient.ID = recipientID
	}

	reqs, err := validateBatch([]models.FriendRequest{data.Request}, normalizeOutgoing)
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("send friend request: %w", err)
	}

	return reqs[0], nil
}

// ChatWith gets or creates the chat with userID.
func (c *Client) ChatWith(ctx context.Context, userID string) (models.Chat, error) {
	return c.chatResult(ctx, "get chat with user", http.MethodGet, "/api/chats/with/"+url.PathEscape(userID), nil)
}

// FindMatch asks the server for a random match and returns the new chat.
func (c *Client) FindMatch(ctx context.Context) (models.Chat, error) {
	return c.chatResult(ctx, "find match", http.MethodPost, "/api/match/find", struct{}{})
}

func (c *Client) chatResult(ctx context.Context, op, method, endpoint string, body interface{}) (models.Chat, error) {
	raw, err := c.do(ctx, op, method, endpoint, body)
	if err != nil {
		return models.Chat{}, err
	}

	var data struct {
		Chat models.Chat `json:"chat"`
	}
	if err := decodeData(raw, &data); err != nil {
		return models.Chat{}, fmt.Errorf("%s: %w", op, err)
	}

	chats, err := validateBatch([]models.Chat{data.Chat}, normalizeChat)
	if err != nil {
		return models.Chat{}, fmt.Errorf("%s: %w", op, err)
	}

	return chats[0], nil
}

// MarkNotificationsRead confirms marking all notifications read.
func (c *Client) MarkNotificationsRead(ctx context.Context) error {
	_, err := c.do(ctx, "mark notifications read", http.MethodPut, "/api/notifications/read", struct{}{})
	return err
}

func decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: missing data", apperrors.ErrSnapshotDecode)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrSnapshotDecode, err)
	}

	return nil
}
