package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/alexjbarnes/social-sync/internal/errors"
	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultIdleTimeout  = 60 * time.Second
	defaultReconnectMin = 5 * time.Second
	defaultReconnectMax = 5 * time.Minute

	// pushReadLimit caps a single push frame. Events carry one entity.
	pushReadLimit = 1024 * 1024

	// inboundChanSize is the buffer size for the channel carrying
	// frames from the reader goroutine to the event loop.
	inboundChanSize = 64

	// jitterDivisor controls the range of random jitter added to
	// reconnect backoff: jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2

	// reconnectBackoffMultiplier is the exponential growth factor
	// applied to the reconnect backoff after each consecutive failure.
	reconnectBackoffMultiplier = 2

	// heartbeatDivisor sets how often the loop checks for silence,
	// relative to the ping interval.
	heartbeatDivisor = 2
)

var errIdleTimeout = errors.New("push channel idle timeout")

// State is the lifecycle state of the push channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateResyncing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateResyncing:
		return "resyncing"
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// Sink receives decoded events and resync requests from the channel.
// HandleEvent must not block for long; Resync only requests a resync and
// returns before the fetches complete.
type Sink interface {
	HandleEvent(ctx context.Context, ev Event) error
	Resync(ctx context.Context, reason string) error
}

// wsConn abstracts the WebSocket connection so Channel can be tested
// without a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

type dialFunc func(ctx context.Context, url, token string) (wsConn, error)

// inboundMsg wraps a frame read by the reader goroutine.
type inboundMsg struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// ChannelConfig holds the push channel parameters. Zero durations take
// the defaults.
type ChannelConfig struct {
	URL          string
	Token        string
	PingInterval time.Duration
	IdleTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// OnStateChange, when set, is called on every state transition from
	// the channel goroutine.
	OnStateChange func(from, to State)
}

// Channel is the persistent push connection. A reader goroutine feeds
// inbound frames to a single loop that decodes events, forwards them to
// the sink, and sends heartbeats. The server does not replay missed
// events, so every reconnect after the first asks the sink to resync.
type Channel struct {
	cfg    ChannelConfig
	sink   Sink
	logger *slog.Logger
	dial   dialFunc

	stateMu sync.RWMutex
	state   State

	lastMsgMu   sync.Mutex
	lastMessage time.Time

	everConnected bool
	rejected      atomic.Int64
	delivered     atomic.Int64
}

// NewChannel creates a push channel that delivers to sink.
func NewChannel(cfg ChannelConfig, sink Sink, logger *slog.Logger) *Channel {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}

	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}

	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = defaultReconnectMin
	}

	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = max(defaultReconnectMax, cfg.ReconnectMin)
	}

	return &Channel{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		dial:   dialWebsocket,
	}
}

// dialWebsocket opens the push connection. A 401 or 403 handshake
// response means the session token is no longer valid.
func dialWebsocket(ctx context.Context, url, token string) (wsConn, error) {
	opts := &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	}

	conn, resp, err := websocket.Dial(ctx, url, opts) //nolint:bodyclose // coder/websocket closes the handshake body
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &apperrors.AuthExpiredError{Op: "dial push channel", Status: resp.StatusCode}
		}

		return nil, &apperrors.NetworkError{Op: "dial push channel", Err: err}
	}

	return conn, nil
}

// State returns the current channel state.
func (c *Channel) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	return c.state
}

// Rejected returns how many frames failed to decode and were dropped.
func (c *Channel) Rejected() int64 {
	return c.rejected.Load()
}

// Delivered returns how many events were handed to the sink.
func (c *Channel) Delivered() int64 {
	return c.delivered.Load()
}

func (c *Channel) setState(to State) {
	c.stateMu.Lock()
	from := c.state
	c.state = to
	c.stateMu.Unlock()

	if from == to {
		return
	}

	c.logger.Debug("push channel state", slog.String("from", from.String()), slog.String("to", to.String()))

	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(from, to)
	}
}

func (c *Channel) touchLastMessage() {
	c.lastMsgMu.Lock()
	c.lastMessage = time.Now()
	c.lastMsgMu.Unlock()
}

func (c *Channel) sinceLastMessage() time.Duration {
	c.lastMsgMu.Lock()
	defer c.lastMsgMu.Unlock()

	return time.Since(c.lastMessage)
}

// Run keeps the channel connected until ctx is cancelled or a permanent
// error occurs. Connection loss is retried with exponential backoff and
// jitter. An expired session or a stopped sink is permanent.
func (c *Channel) Run(ctx context.Context) error {
	backoff := c.cfg.ReconnectMin

	for {
		conn, err := c.connect(ctx)
		if err == nil {
			backoff = c.cfg.ReconnectMin
			err = c.serve(ctx, conn)
		}

		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if isPermanent(err) {
			return fmt.Errorf("push channel: %w", err)
		}

		c.logger.Warn("push channel lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int64N(int64(backoff)/jitterDivisor + 1)) //nolint:gosec // G404: math/rand is fine for reconnect jitter, no security impact

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*reconnectBackoffMultiplier, c.cfg.ReconnectMax)
	}
}

func isPermanent(err error) bool {
	return apperrors.IsAuthExpired(err) || errors.Is(err, apperrors.ErrEngineStopped)
}

// connect dials and, on every connection after the first, requests a
// resync before events flow. Events received after this point are
// applied on top of whatever the resync later loads.
func (c *Channel) connect(ctx context.Context) (wsConn, error) {
	c.setState(StateConnecting)

	conn, err := c.dial(ctx, c.cfg.URL, c.cfg.Token)
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(pushReadLimit)
	c.touchLastMessage()

	if c.everConnected {
		c.setState(StateResyncing)

		if err := c.sink.Resync(ctx, "reconnect"); err != nil {
			conn.Close(websocket.StatusNormalClosure, "resync failed")
			return nil, fmt.Errorf("requesting resync: %w", err)
		}

		c.logger.Info("push channel reconnected")
	}

	c.everConnected = true
	c.setState(StateConnected)

	return conn, nil
}

// startReader launches a goroutine that reads from conn until connCtx is
// cancelled or a read fails. The error is delivered as the final message.
func startReader(connCtx context.Context, conn wsConn) <-chan inboundMsg {
	ch := make(chan inboundMsg, inboundChanSize)

	go func() {
		for {
			typ, data, err := conn.Read(connCtx)
			select {
			case ch <- inboundMsg{typ: typ, data: data, err: err}:
			case <-connCtx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()

	return ch
}

// serve is the event loop for one connection. It returns on read error,
// idle timeout, a permanent sink error, or cancellation.
func (c *Channel) serve(ctx context.Context, conn wsConn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := startReader(connCtx, conn)

	ticker := time.NewTicker(max(c.cfg.PingInterval/heartbeatDivisor, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case msg := <-inbound:
			if msg.err != nil {
				return fmt.Errorf("reading frame: %w", msg.err)
			}

			c.touchLastMessage()

			if msg.typ == websocket.MessageBinary {
				c.logger.Debug("unexpected binary frame", slog.Int("bytes", len(msg.data)))
				continue
			}

			if err := c.handleFrame(ctx, msg.data); err != nil {
				conn.Close(websocket.StatusNormalClosure, "sink stopped")
				return err
			}

		case <-ticker.C:
			elapsed := c.sinceLastMessage()

			if elapsed > c.cfg.IdleTimeout {
				c.logger.Warn("push channel idle, closing", slog.Duration("silence", elapsed))
				conn.Close(websocket.StatusGoingAway, "idle timeout")

				return errIdleTimeout
			}

			if elapsed > c.cfg.PingInterval {
				if err := writeJSON(ctx, conn, map[string]EventName{"event": eventPing}); err != nil {
					return fmt.Errorf("sending ping: %w", err)
				}
			}

		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "bye")
			return ctx.Err()
		}
	}
}

// handleFrame decodes one text frame and forwards it. Malformed and
// unknown frames are counted and dropped; only a sink failure is
// returned.
func (c *Channel) handleFrame(ctx context.Context, data []byte) error {
	if EventName(gjson.GetBytes(data, "event").Str) == eventPong {
		return nil
	}

	ev, err := DecodeEvent(data)
	if err != nil {
		c.rejected.Add(1)
		c.logger.Warn("dropping push frame",
			slog.String("error", err.Error()),
			slog.Int("bytes", len(data)),
		)

		return nil
	}

	if err := c.sink.HandleEvent(ctx, ev); err != nil {
		return fmt.Errorf("delivering %s: %w", ev.Name(), err)
	}

	c.delivered.Add(1)

	return nil
}

func writeJSON(ctx context.Context, conn wsConn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling frame: %w", err)
	}

	return conn.Write(ctx, websocket.MessageText, data)
}
