//go:generate go run go.uber.org/mock/mockgen -source=engine.go -destination=../mocks/mock_fetcher.go -package=mocks

// Package reconcile serialises every change to the entity stores. Push
// events, snapshot results and mutation steps are queued and applied one
// at a time by a single consumer, in the order they were received.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/alexjbarnes/social-sync/internal/errors"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/alexjbarnes/social-sync/internal/store"
	"github.com/alexjbarnes/social-sync/internal/transport"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// queueSize bounds the step queue. Producers block when it is full,
// which slows the push reader rather than dropping events.
const queueSize = 256

const (
	defaultRetryMin = 5 * time.Second
	defaultRetryMax = 5 * time.Minute

	// Retry jitter is uniform in [0, backoff/retryJitterDivisor).
	retryJitterDivisor   = 2
	retryBackoffMultiple = 2
)

// Fetcher loads full snapshots for each resource. *transport.Client
// satisfies this interface.
type Fetcher interface {
	ListChats(ctx context.Context) (models.Snapshot[models.Chat], error)
	ListFriends(ctx context.Context) (models.Snapshot[models.User], error)
	ListFriendRequests(ctx context.Context) (models.Snapshot[models.FriendRequest], error)
	ListNotifications(ctx context.Context) (models.Snapshot[models.Notification], error)
	ListOnlineFriends(ctx context.Context) (models.Snapshot[models.User], error)
}

// StepFunc changes the stores. It runs on the engine goroutine with the
// apply lock held, so it must not block or enqueue further steps and wait.
type StepFunc func(s *store.Set) error

type step struct {
	name string
	fn   StepFunc
	done chan error
}

// Engine is the single serialized pipeline in front of the stores.
type Engine struct {
	stores *store.Set
	fetch  Fetcher
	logger *slog.Logger
	now    func() time.Time

	queue   chan step
	stopped chan struct{}

	// applyMu is held for writing while a step runs. View takes it for
	// reading so multi-store reads never observe half of a step.
	applyMu sync.RWMutex

	flights singleflight.Group

	// bg scopes background resyncs to the engine's lifetime.
	bg       context.Context
	cancelBg context.CancelFunc
	bgMu     sync.Mutex
	bgClosed bool
	fetches  sync.WaitGroup

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}

	// Snapshot fetches that failed with a NetworkError are retried with
	// backoff until they succeed.
	retryMin time.Duration
	retryMax time.Duration
	healthMu sync.Mutex
	failing  map[models.Resource]error
	retrying map[models.Resource]bool

	fatalOnce sync.Once
	fatal     chan error

	applied atomic.Int64
	failed  atomic.Int64
}

// New creates an engine over stores. fetch may be nil when the caller
// only feeds events and steps.
func New(stores *store.Set, fetch Fetcher, logger *slog.Logger) *Engine {
	bg, cancel := context.WithCancel(context.Background())

	return &Engine{
		stores:   stores,
		fetch:    fetch,
		logger:   logger,
		now:      time.Now,
		queue:    make(chan step, queueSize),
		stopped:  make(chan struct{}),
		bg:       bg,
		cancelBg: cancel,
		subs:     make(map[chan struct{}]struct{}),
		fatal:    make(chan error, 1),
		retryMin: defaultRetryMin,
		retryMax: defaultRetryMax,
		failing:  make(map[models.Resource]error),
		retrying: make(map[models.Resource]bool),
	}
}

// Run consumes the queue until ctx is cancelled. Steps still queued at
// that point are rejected with ErrEngineStopped. Run must be called once.
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		close(e.stopped)
		e.cancelBg()

		e.bgMu.Lock()
		e.bgClosed = true
		e.bgMu.Unlock()

		e.drain()
		e.fetches.Wait()
		e.closeSubscribers()
	}()

	for {
		select {
		case st := <-e.queue:
			e.apply(st)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) apply(st step) {
	e.applyMu.Lock()
	err := st.fn(e.stores)
	e.applyMu.Unlock()

	if err != nil {
		e.failed.Add(1)
		e.logger.Debug("step rejected", slog.String("step", st.name), slog.String("error", err.Error()))
	} else {
		e.applied.Add(1)
	}

	e.notify()

	if st.done != nil {
		st.done <- err
	}
}

func (e *Engine) drain() {
	for {
		select {
		case st := <-e.queue:
			if st.done != nil {
				st.done <- apperrors.ErrEngineStopped
			}
		default:
			return
		}
	}
}

func (e *Engine) enqueue(ctx context.Context, st step) error {
	select {
	case <-e.stopped:
		return apperrors.ErrEngineStopped
	default:
	}

	select {
	case e.queue <- st:
		return nil
	case <-e.stopped:
		return apperrors.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do queues fn and waits until it has been applied, returning its error.
// Once queued the step runs even if ctx is cancelled while waiting.
func (e *Engine) Do(ctx context.Context, name string, fn StepFunc) error {
	st := step{name: name, fn: fn, done: make(chan error, 1)}
	if err := e.enqueue(ctx, st); err != nil {
		return err
	}

	select {
	case err := <-st.done:
		return err
	case <-e.stopped:
		// The loop sends on done before it can observe cancellation, so
		// an applied step is always visible here.
		select {
		case err := <-st.done:
			return err
		default:
			return apperrors.ErrEngineStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues fn without waiting for it to be applied.
func (e *Engine) Submit(ctx context.Context, name string, fn StepFunc) error {
	return e.enqueue(ctx, step{name: name, fn: fn})
}

// View runs fn with a consistent read view across all stores.
func (e *Engine) View(fn func(s *store.Set)) {
	e.applyMu.RLock()
	defer e.applyMu.RUnlock()

	fn(e.stores)
}

// Stores returns the underlying stores for single-store reads.
func (e *Engine) Stores() *store.Set {
	return e.stores
}

// Stats returns how many steps were applied and rejected.
func (e *Engine) Stats() (applied, failed int64) {
	return e.applied.Load(), e.failed.Load()
}

// Fatal delivers the first session-fatal error seen by a background
// fetch, such as an expired token.
func (e *Engine) Fatal() <-chan error {
	return e.fatal
}

func (e *Engine) reportFatal(err error) {
	e.fatalOnce.Do(func() {
		e.fatal <- err
	})
}

// HandleEvent queues a push event. Events are applied in receipt order.
func (e *Engine) HandleEvent(ctx context.Context, ev transport.Event) error {
	return e.Submit(ctx, string(ev.Name()), func(s *store.Set) error {
		return e.applyEvent(s, ev)
	})
}

func (e *Engine) applyEvent(s *store.Set, ev transport.Event) error {
	switch ev := ev.(type) {
	case transport.NewMessage:
		_, known := s.Chats.Get(ev.ChatID)
		if s.Chats.ApplyMessage(ev.Message) && !known {
			// The stub has no participants yet.
			e.background(models.ResourceChats)
		}

	case transport.PresenceChanged:
		s.Presence.Set(ev.UserID, ev.Online, ev.Timestamp)

	case transport.FriendRequestReceived:
		s.Friends.ApplyReceived(ev.Request)

	case transport.FriendRequestResolved:
		if _, ok := s.Friends.Request(ev.RequestID); !ok {
			if ev.Status == models.RequestAccepted {
				e.background(models.ResourceFriends)
			}

			return nil
		}

		s.Friends.Resolve(ev.RequestID, ev.Status, e.now())

	case transport.NewNotification:
		s.Notifications.Insert(ev.Notification)

	default:
		return fmt.Errorf("%w: %T", apperrors.ErrUnknownEvent, ev)
	}

	return nil
}

// Resync requests a reload of every resource and returns immediately.
// In-flight mutation state is kept by the store merge rules.
func (e *Engine) Resync(_ context.Context, reason string) error {
	select {
	case <-e.stopped:
		return apperrors.ErrEngineStopped
	default:
	}

	e.logger.Info("resync requested", slog.String("reason", reason))
	e.background(models.AllResources...)

	return nil
}

// Refresh reloads resources in the background. It never blocks, so steps
// may call it.
func (e *Engine) Refresh(resources ...models.Resource) {
	e.background(resources...)
}

// background reloads resources on the engine's lifetime context.
func (e *Engine) background(resources ...models.Resource) {
	if e.fetch == nil {
		return
	}

	e.bgMu.Lock()
	defer e.bgMu.Unlock()

	if e.bgClosed {
		return
	}

	e.fetches.Add(1)

	go func() {
		defer e.fetches.Done()

		if err := e.Load(e.bg, resources...); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("background resync failed", slog.String("error", err.Error()))
		}
	}()
}

// LoadAll fetches every resource concurrently and applies each result as
// its own step.
func (e *Engine) LoadAll(ctx context.Context) error {
	return e.Load(ctx, models.AllResources...)
}

// Load fetches the given resources concurrently. Concurrent loads of the
// same resource share one request. Every resource is attempted; the first
// error is returned.
func (e *Engine) Load(ctx context.Context, resources ...models.Resource) error {
	if e.fetch == nil {
		return errors.New("engine has no fetcher")
	}

	var g errgroup.Group

	for _, res := range resources {
		g.Go(func() error {
			_, err, _ := e.flights.Do(string(res), func() (interface{}, error) {
				return nil, e.loadOne(ctx, res)
			})

			if e.track(res, err) {
				e.scheduleRetry(res)
			}

			return err
		})
	}

	err := g.Wait()
	if apperrors.IsAuthExpired(err) {
		e.reportFatal(err)
	}

	return err
}

// Health describes snapshot fetches that are failing on network errors.
// The stores keep serving the last good data meanwhile.
type Health struct {
	Degraded  bool
	Failing   []models.Resource
	LastError string
}

// Health reports which resources are waiting for a retry.
func (e *Engine) Health() Health {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()

	h := Health{Failing: []models.Resource{}}

	for _, res := range models.AllResources {
		if err, ok := e.failing[res]; ok {
			h.Degraded = true
			h.Failing = append(h.Failing, res)
			h.LastError = err.Error()
		}
	}

	return h
}

// track records the outcome of a fetch and reports whether it failed on
// the network.
func (e *Engine) track(res models.Resource, err error) bool {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()

	switch {
	case err == nil:
		delete(e.failing, res)
	case apperrors.IsNetwork(err):
		e.failing[res] = err
		return true
	}

	return false
}

// scheduleRetry starts a retry loop for res unless one is running.
func (e *Engine) scheduleRetry(res models.Resource) {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()

	if e.bgClosed {
		return
	}

	e.healthMu.Lock()
	if e.retrying[res] {
		e.healthMu.Unlock()
		return
	}

	e.retrying[res] = true
	e.healthMu.Unlock()

	e.fetches.Add(1)

	go func() {
		defer e.fetches.Done()

		e.retry(res)

		e.healthMu.Lock()
		delete(e.retrying, res)
		e.healthMu.Unlock()
	}()
}

// retry reloads res with exponential backoff and jitter until it loads,
// fails for a reason other than the network, or the engine stops.
func (e *Engine) retry(res models.Resource) {
	backoff := e.retryMin

	for attempt := 1; ; attempt++ {
		jitter := time.Duration(rand.Int64N(int64(backoff)/retryJitterDivisor + 1)) //nolint:gosec // G404: jitter only

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-e.bg.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		_, err, _ := e.flights.Do(string(res), func() (interface{}, error) {
			return nil, e.loadOne(e.bg, res)
		})
		e.track(res, err)

		switch {
		case err == nil:
			e.logger.Info("snapshot recovered", slog.String("resource", string(res)), slog.Int("attempts", attempt))
			return
		case apperrors.IsAuthExpired(err):
			e.reportFatal(err)
			return
		case !apperrors.IsNetwork(err):
			if !errors.Is(err, context.Canceled) && !errors.Is(err, apperrors.ErrEngineStopped) {
				e.logger.Warn("snapshot retry failed", slog.String("resource", string(res)), slog.String("error", err.Error()))
			}

			return
		}

		e.logger.Warn("snapshot fetch failing, retrying",
			slog.String("resource", string(res)),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		backoff = min(backoff*retryBackoffMultiple, e.retryMax)
	}
}

func (e *Engine) loadOne(ctx context.Context, res models.Resource) error {
	var (
		fn  StepFunc
		n   int
		err error
	)

	switch res {
	case models.ResourceChats:
		var snap models.Snapshot[models.Chat]
		if snap, err = e.fetch.ListChats(ctx); err == nil {
			n = len(snap.Items)
			fn = func(s *store.Set) error { s.Chats.LoadSnapshot(snap); return nil }
		}

	case models.ResourceFriends:
		var snap models.Snapshot[models.User]
		if snap, err = e.fetch.ListFriends(ctx); err == nil {
			n = len(snap.Items)
			fn = func(s *store.Set) error { s.Friends.LoadFriends(snap); return nil }
		}

	case models.ResourceRequests:
		var snap models.Snapshot[models.FriendRequest]
		if snap, err = e.fetch.ListFriendRequests(ctx); err == nil {
			n = len(snap.Items)
			fn = func(s *store.Set) error { s.Friends.LoadRequests(snap); return nil }
		}

	case models.ResourceNotifications:
		var snap models.Snapshot[models.Notification]
		if snap, err = e.fetch.ListNotifications(ctx); err == nil {
			n = len(snap.Items)
			fn = func(s *store.Set) error { s.Notifications.LoadSnapshot(snap); return nil }
		}

	case models.ResourcePresence:
		var snap models.Snapshot[models.User]
		if snap, err = e.fetch.ListOnlineFriends(ctx); err == nil {
			n = len(snap.Items)
			fn = func(s *store.Set) error {
				known := lo.Map(s.Friends.Friends(), func(u models.User, _ int) string { return u.ID })
				s.Presence.LoadOnline(snap, known)

				return nil
			}
		}

	default:
		return fmt.Errorf("unknown resource %q", res)
	}

	if err != nil {
		return fmt.Errorf("fetching %s: %w", res, err)
	}

	if err := e.Do(ctx, "snapshot "+string(res), fn); err != nil {
		return fmt.Errorf("applying %s: %w", res, err)
	}

	e.logger.Debug("snapshot applied", slog.String("resource", string(res)), slog.Int("items", n))

	return nil
}

// Subscribe returns a channel that receives a signal after state changes.
// Signals coalesce: a slow reader sees one pending signal, never a
// backlog. The channel is closed when ctx is cancelled or the engine
// stops. Unsubscribing never affects queued steps or in-flight mutations.
func (e *Engine) Subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	e.subsMu.Lock()
	select {
	case <-e.stopped:
		e.subsMu.Unlock()
		close(ch)

		return ch
	default:
	}

	e.subs[ch] = struct{}{}
	e.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-e.stopped:
		}

		e.subsMu.Lock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
		e.subsMu.Unlock()
	}()

	return ch
}

func (e *Engine) notify() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	for ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) closeSubscribers() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	for ch := range e.subs {
		delete(e.subs, ch)
		close(ch)
	}
}
