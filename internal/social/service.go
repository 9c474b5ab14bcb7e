// Package social hosts the sync layer for one signed-in user. A Service
// is created on session start and stopped on logout; it owns the
// engine, the push channel and the mutation manager for that session.
package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/social-sync/internal/aggregate"
	apperrors "github.com/alexjbarnes/social-sync/internal/errors"
	"github.com/alexjbarnes/social-sync/internal/logging"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/alexjbarnes/social-sync/internal/mutation"
	"github.com/alexjbarnes/social-sync/internal/reconcile"
	"github.com/alexjbarnes/social-sync/internal/store"
	"github.com/alexjbarnes/social-sync/internal/transport"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// stopTimeout bounds how long Stop waits for dispatched mutations.
const stopTimeout = 10 * time.Second

// Config holds the per-session settings.
type Config struct {
	Self models.User

	// Push configures the push channel. An empty URL disables it and the
	// service then relies on snapshots alone.
	Push      transport.ChannelConfig
	Mutations mutation.Config
}

// Service wires transport, engine, stores and mutations together.
type Service struct {
	cfg    Config
	api    API
	logger *slog.Logger
	now    func() time.Time

	engine    *reconcile.Engine
	mutations *mutation.Manager
	agg       *aggregate.Aggregator
	channel   *transport.Channel

	fatal chan error

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	started bool
}

// New creates a service for cfg.Self backed by api.
func New(cfg Config, api API, logger *slog.Logger) *Service {
	s := &Service{
		cfg:    cfg,
		api:    api,
		logger: logger,
		now:    time.Now,
		fatal:  make(chan error, 1),
	}

	s.engine = reconcile.New(store.NewSet(cfg.Self.ID), api, logging.Component(logger, "engine"))
	s.agg = aggregate.New(s.engine)

	mcfg := cfg.Mutations
	onAuth := mcfg.OnAuthExpired
	mcfg.OnAuthExpired = func(err error) {
		if onAuth != nil {
			onAuth(err)
		}

		s.reportFatal(err)
	}

	s.mutations = mutation.NewManager(s.engine, mcfg, logging.Component(logger, "mutation"))

	if cfg.Push.URL != "" {
		s.channel = transport.NewChannel(cfg.Push, s.engine, logging.Component(logger, "push"))
	}

	return s
}

func (s *Service) reportFatal(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

// Run drives the session until ctx is cancelled or a session-fatal error
// occurs. It returns nil on cancellation and the AuthExpired error when
// the session is no longer valid.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.engine.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	})

	g.Go(func() error {
		err := s.engine.LoadAll(gctx)

		switch {
		case err == nil:
			s.logger.Info("initial snapshots loaded")
		case apperrors.IsAuthExpired(err):
			return err
		case errors.Is(err, context.Canceled):
		default:
			// Network failures are retried by the engine; anything else
			// waits for the next resync.
			s.logger.Warn("initial load incomplete", slog.String("error", err.Error()))
		}

		return nil
	})

	if s.channel != nil {
		g.Go(func() error {
			err := s.channel.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	g.Go(func() error {
		select {
		case err := <-s.engine.Fatal():
			return err
		case err := <-s.fatal:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	err := g.Wait()
	if err != nil {
		s.logger.Error("session ended", slog.String("error", err.Error()))
	}

	return err
}

// Start runs the service in the background.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go func() {
		err := s.Run(ctx)

		s.mu.Lock()
		s.runErr = err
		s.mu.Unlock()

		close(s.done)
	}()
}

// Done is closed once a started service has stopped.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.done
}

// Stop waits briefly for dispatched mutations, then stops the service
// and returns the error Run ended with.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}

	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), stopTimeout)
	if err := s.mutations.Wait(waitCtx); err != nil {
		s.logger.Warn("stopping with mutations in flight", slog.Int("pending", len(s.mutations.Pending())))
	}
	waitCancel()

	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runErr
}

// --- Reads ---

// Self returns the session user.
func (s *Service) Self() models.User {
	return s.cfg.Self
}

// Badges returns the current derived counts.
func (s *Service) Badges() aggregate.Badges {
	return s.agg.Badges()
}

// Chats returns chats, most recently updated first.
func (s *Service) Chats() []models.Chat {
	return s.engine.Stores().Chats.List()
}

// Messages returns the known messages of a chat in createdAt order.
func (s *Service) Messages(chatID string) ([]models.Message, error) {
	chats := s.engine.Stores().Chats
	if _, ok := chats.Get(chatID); !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownChat, chatID)
	}

	return chats.Messages(chatID), nil
}

// ChatOpen reports whether a chat is being viewed.
func (s *Service) ChatOpen(chatID string) bool {
	return s.engine.Stores().Chats.IsOpen(chatID)
}

// Friends returns the friend set with presence.
func (s *Service) Friends() []Friend {
	var out []Friend

	s.engine.View(func(st *store.Set) {
		for _, u := range st.Friends.Friends() {
			out = append(out, Friend{ID: u.ID, Username: u.Username, Online: st.Presence.Online(u.ID)})
		}
	})

	return out
}

// Friend is a friend with current presence.
type Friend struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// PendingRequests returns incoming requests awaiting a decision.
func (s *Service) PendingRequests() []models.FriendRequest {
	return s.engine.Stores().Friends.Pending()
}

// OutgoingRequests returns requests the session user sent.
func (s *Service) OutgoingRequests() []models.FriendRequest {
	return s.engine.Stores().Friends.Outgoing()
}

// Request returns one request with its client-side phase.
func (s *Service) Request(id string) (store.RequestView, bool) {
	return s.engine.Stores().Friends.Request(id)
}

// Notifications returns notifications, newest first.
func (s *Service) Notifications() []models.Notification {
	return s.engine.Stores().Notifications.List()
}

// ChannelState reports the push channel state. Without a channel the
// service is always disconnected.
func (s *Service) ChannelState() transport.State {
	if s.channel == nil {
		return transport.StateDisconnected
	}

	return s.channel.State()
}

// SyncHealth reports snapshot fetches that are failing and being retried.
func (s *Service) SyncHealth() reconcile.Health {
	return s.engine.Health()
}

// Pending lists mutations still waiting for the server.
func (s *Service) Pending() []*mutation.Handle {
	return s.mutations.Pending()
}

// Changes signals after store changes until ctx ends.
func (s *Service) Changes(ctx context.Context) <-chan struct{} {
	return s.engine.Subscribe(ctx)
}

// Resync reloads every resource in the background.
func (s *Service) Resync(ctx context.Context) error {
	return s.engine.Resync(ctx, "requested")
}

// Engine exposes the engine for event injection in replays and tests.
func (s *Service) Engine() *reconcile.Engine {
	return s.engine
}

// --- Signals ---

// OpenChat marks a chat as being viewed. Its unread count drops to zero
// and stays there while open.
func (s *Service) OpenChat(ctx context.Context, chatID string) error {
	return s.engine.Do(ctx, "open "+chatID, func(st *store.Set) error {
		if _, ok := st.Chats.Get(chatID); !ok {
			return fmt.Errorf("%w: %s", apperrors.ErrUnknownChat, chatID)
		}

		st.Chats.SetOpen(chatID, true, s.now())

		return nil
	})
}

// CloseChat ends the viewing of a chat.
func (s *Service) CloseChat(ctx context.Context, chatID string) error {
	return s.engine.Do(ctx, "close "+chatID, func(st *store.Set) error {
		st.Chats.SetOpen(chatID, false, s.now())
		return nil
	})
}

// --- Commands ---

// AcceptRequest accepts an incoming friend request. While an accept or
// decline for the same request is in flight its handle is returned.
func (s *Service) AcceptRequest(ctx context.Context, id string) *mutation.Handle {
	return s.resolve(ctx, id, models.RequestAccepted)
}

// DeclineRequest declines an incoming friend request.
func (s *Service) DeclineRequest(ctx context.Context, id string) *mutation.Handle {
	return s.resolve(ctx, id, models.RequestDeclined)
}

func (s *Service) resolve(ctx context.Context, id string, status models.RequestStatus) *mutation.Handle {
	return s.mutations.Execute(ctx, &resolveCommand{
		api:     s.api,
		refresh: s.engine,
		now:     s.now,
		id:      id,
		status:  status,
	})
}

// SendFriendRequest sends a request to recipient. The request shows as
// outgoing under a temporary id until the server assigns one.
func (s *Service) SendFriendRequest(ctx context.Context, recipient models.User) *mutation.Handle {
	return s.mutations.Execute(ctx, &sendRequestCommand{
		api:       s.api,
		refresh:   s.engine,
		now:       s.now,
		tempID:    "tmp-" + uuid.NewString(),
		self:      s.cfg.Self,
		recipient: recipient,
	})
}

// StartChat opens a chat with peer. An existing chat is returned
// directly; otherwise a placeholder is shown until the server answers.
func (s *Service) StartChat(ctx context.Context, peer models.User) (models.Chat, *mutation.Handle) {
	if c, ok := s.engine.Stores().Chats.FindWith(peer.ID); ok {
		return c, nil
	}

	cmd := &startChatCommand{
		api:    s.api,
		now:    s.now,
		tempID: "tmp-" + uuid.NewString(),
		self:   s.cfg.Self,
		peer:   peer,
	}

	h := s.mutations.Execute(ctx, cmd)
	c, _ := s.engine.Stores().Chats.FindWith(peer.ID)

	return c, h
}

// MarkAllRead marks every known notification read. Notifications that
// arrive before the server confirms stay unread.
//
// While a mark is already in flight a second call marks the newer
// notifications read locally and returns the in-flight handle. The server
// learns about them on the next mark after that one settles; read flags
// never revert on a snapshot, so they stay read in the meantime.
func (s *Service) MarkAllRead(ctx context.Context) *mutation.Handle {
	if h, ok := s.mutations.InFlight(markReadKey); ok {
		err := s.engine.Do(ctx, "mark read again", func(st *store.Set) error {
			st.Notifications.MarkAllRead()
			return nil
		})
		if err != nil {
			s.logger.Debug("local re-mark skipped", slog.String("error", err.Error()))
		}

		return h
	}

	return s.mutations.Execute(ctx, &markReadCommand{api: s.api})
}

// FindMatch asks the server for a random match and adds the new chat.
// The chat id only exists once the server has picked the match, so
// nothing is shown before the answer.
func (s *Service) FindMatch(ctx context.Context) (models.Chat, error) {
	chat, err := s.api.FindMatch(ctx)
	if err != nil {
		if apperrors.IsAuthExpired(err) {
			s.reportFatal(err)
		}

		return models.Chat{}, fmt.Errorf("finding match: %w", err)
	}

	err = s.engine.Do(ctx, "match "+chat.ID, func(st *store.Set) error {
		st.Chats.Insert(chat)
		return nil
	})
	if err != nil {
		return models.Chat{}, err
	}

	return chat, nil
}
