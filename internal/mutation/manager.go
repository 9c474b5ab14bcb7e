// Package mutation applies user actions optimistically. A command changes
// the stores first, then talks to the server, then either reconciles the
// server's answer or undoes its local change.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/social-sync/internal/errors"
	"github.com/alexjbarnes/social-sync/internal/reconcile"
	"github.com/alexjbarnes/social-sync/internal/store"
	"github.com/google/uuid"
)

// defaultSendTimeout bounds one network round trip for a command.
const defaultSendTimeout = 30 * time.Second

// Command is one optimistic user action.
//
// Apply, Commit and Rollback run as engine steps and must only touch the
// stores. Apply must either change nothing and return an error, or
// succeed completely. Send runs off the engine goroutine.
type Command interface {
	// Key identifies the entity the command acts on. Only one command
	// per key is in flight at a time.
	Key() string
	Apply(s *store.Set) error
	Send(ctx context.Context) (any, error)
	Commit(s *store.Set, result any) error
	Rollback(s *store.Set, err error)
}

// Stepper runs store steps in order. *reconcile.Engine satisfies it.
type Stepper interface {
	Do(ctx context.Context, name string, fn reconcile.StepFunc) error
}

// Status is the outcome of a handle.
type Status int

const (
	StatusPending Status = iota
	StatusCommitted
	StatusRolledBack
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled_back"
	case StatusRejected:
		return "rejected"
	}

	return fmt.Sprintf("status(%d)", int(s))
}

// Handle tracks one dispatched command until the server answers.
type Handle struct {
	ID      string
	Key     string
	Started time.Time

	done chan struct{}

	mu       sync.Mutex
	status   Status
	result   any
	err      error
	conflict bool
}

// Done is closed once the command has committed or rolled back.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle completes or ctx ends. Cancelling ctx
// stops the wait only; the command still runs to completion.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.Result(), h.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the current outcome.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.status
}

// Result returns what Send produced, or nil.
func (h *Handle) Result() any {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.result
}

// Err returns the typed error for a rolled back or rejected command.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.err
}

// Conflict reports whether the server said the action was already done.
func (h *Handle) Conflict() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.conflict
}

// Config holds Manager options.
type Config struct {
	SendTimeout time.Duration

	// OnAuthExpired is called when a command's request fails because
	// the session is no longer valid.
	OnAuthExpired func(err error)
}

// Manager dispatches commands and keeps the pending table.
type Manager struct {
	engine Stepper
	logger *slog.Logger
	cfg    Config

	mu    sync.Mutex
	byKey map[string]*Handle
	byID  map[string]*Handle

	wg sync.WaitGroup
}

// NewManager creates a manager that applies steps through engine.
func NewManager(engine Stepper, cfg Config, logger *slog.Logger) *Manager {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	return &Manager{
		engine: engine,
		logger: logger,
		cfg:    cfg,
		byKey:  make(map[string]*Handle),
		byID:   make(map[string]*Handle),
	}
}

// Execute applies cmd locally and dispatches it. When a command with the
// same key is already in flight its handle is returned and cmd is
// dropped without any network call.
func (m *Manager) Execute(ctx context.Context, cmd Command) *Handle {
	key := cmd.Key()

	m.mu.Lock()
	if h, ok := m.byKey[key]; ok {
		m.mu.Unlock()
		m.logger.Debug("mutation already in flight", slog.String("key", key), slog.String("id", h.ID))

		return h
	}

	h := &Handle{
		ID:      uuid.NewString(),
		Key:     key,
		Started: time.Now(),
		done:    make(chan struct{}),
	}
	m.byKey[key] = h
	m.byID[h.ID] = h
	m.mu.Unlock()

	// Once registered the command is dispatched; the caller's
	// cancellation only ends its own wait on the handle.
	detached := context.WithoutCancel(ctx)

	if err := m.engine.Do(detached, "apply "+key, cmd.Apply); err != nil {
		m.finish(h, StatusRejected, nil, err, false)
		return h
	}

	m.wg.Add(1)

	go m.dispatch(detached, cmd, h)

	return h
}

func (m *Manager) dispatch(ctx context.Context, cmd Command, h *Handle) {
	defer m.wg.Done()

	logger := m.logger.With(slog.String("key", h.Key), slog.String("id", h.ID))

	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	result, sendErr := cmd.Send(sendCtx)
	cancel()

	if sendErr == nil || apperrors.IsConflict(sendErr) {
		conflict := sendErr != nil
		if conflict {
			logger.Info("mutation already applied by server", slog.String("error", sendErr.Error()))
			result = nil
		}

		err := m.engine.Do(ctx, "commit "+h.Key, func(s *store.Set) error {
			return cmd.Commit(s, result)
		})
		if err == nil {
			m.finish(h, StatusCommitted, result, nil, conflict)
			return
		}

		sendErr = fmt.Errorf("committing %s: %w", h.Key, err)
	}

	logger.Warn("mutation failed, rolling back", slog.String("error", sendErr.Error()))

	if apperrors.IsAuthExpired(sendErr) && m.cfg.OnAuthExpired != nil {
		m.cfg.OnAuthExpired(sendErr)
	}

	err := m.engine.Do(ctx, "rollback "+h.Key, func(s *store.Set) error {
		cmd.Rollback(s, sendErr)
		return nil
	})
	if err != nil {
		sendErr = errors.Join(sendErr, err)
	}

	m.finish(h, StatusRolledBack, nil, sendErr, false)
}

func (m *Manager) finish(h *Handle, status Status, result any, err error, conflict bool) {
	m.mu.Lock()
	if m.byKey[h.Key] == h {
		delete(m.byKey, h.Key)
	}

	delete(m.byID, h.ID)
	m.mu.Unlock()

	h.mu.Lock()
	h.status = status
	h.result = result
	h.err = err
	h.conflict = conflict
	h.mu.Unlock()

	close(h.done)
}

// Lookup returns the in-flight handle with correlation id.
func (m *Manager) Lookup(id string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.byID[id]

	return h, ok
}

// InFlight returns the in-flight handle for key.
func (m *Manager) InFlight(key string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.byKey[key]

	return h, ok
}

// Pending lists in-flight handles, oldest first.
func (m *Manager) Pending() []*Handle {
	m.mu.Lock()
	out := make([]*Handle, 0, len(m.byID))

	for _, h := range m.byID {
		out = append(out, h)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.Before(out[j].Started)
		}

		return out[i].ID < out[j].ID
	})

	return out
}

// Wait blocks until every dispatched command has finished or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
