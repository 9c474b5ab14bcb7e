// Package session owns the signed-in identity. Start resolves it from
// explicit credentials or the cache, End (logout) forgets it. Everything
// built for a session lives only between the two.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/alexjbarnes/social-sync/internal/errors"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/alexjbarnes/social-sync/internal/state"
)

// Store persists the session. *state.State satisfies it.
type Store interface {
	Session() (*state.Session, error)
	SaveSession(sess state.Session) error
	ClearSession() error
}

// Identity is an authenticated user and the token that proves it.
type Identity struct {
	Token string
	User  models.User
}

// Manager runs the start and end of a session.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a manager backed by store.
func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger, now: time.Now}
}

// Start resolves the identity. Explicit credentials win and are cached;
// otherwise the cached session is used. ErrNoSession is returned when
// neither exists.
func (m *Manager) Start(explicit Identity) (Identity, error) {
	if explicit.Token != "" && explicit.User.ID != "" {
		err := m.store.SaveSession(state.Session{
			Token:    explicit.Token,
			UserID:   explicit.User.ID,
			Username: explicit.User.Username,
			SavedAt:  m.now(),
		})
		if err != nil {
			m.logger.Warn("failed to cache session", slog.String("error", err.Error()))
		}

		m.logger.Info("session started", slog.String("user_id", explicit.User.ID), slog.String("source", "config"))

		return explicit, nil
	}

	cached, err := m.store.Session()
	if err != nil {
		return Identity{}, err
	}

	if cached == nil || cached.Token == "" || cached.UserID == "" {
		return Identity{}, apperrors.ErrNoSession
	}

	m.logger.Info("session started", slog.String("user_id", cached.UserID), slog.String("source", "cache"))

	return Identity{
		Token: cached.Token,
		User:  models.User{ID: cached.UserID, Username: cached.Username},
	}, nil
}

// End forgets the cached session.
func (m *Manager) End() error {
	if err := m.store.ClearSession(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}

	m.logger.Info("session ended")

	return nil
}

// Run starts a session, calls run with it, and ends the session when run
// reports that the token has expired. Any other outcome keeps the cache
// so the next start can reuse it.
func (m *Manager) Run(ctx context.Context, explicit Identity, run func(context.Context, Identity) error) error {
	id, err := m.Start(explicit)
	if err != nil {
		return err
	}

	err = run(ctx, id)
	if apperrors.IsAuthExpired(err) {
		if endErr := m.End(); endErr != nil {
			m.logger.Warn("failed to end expired session", slog.String("error", endErr.Error()))
		}
	}

	return err
}
