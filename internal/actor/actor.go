// Package actor persists the identity of the currently authenticated user
// so every local write can be audit-stamped without a server round trip.
package actor

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/models"
	"github.com/fieldops/fieldsync/internal/store"
)

// ContextStore holds at most one active actor context per device session,
// as a singleton row in the local store's database.
type ContextStore struct {
	db *sql.DB
}

// NewContextStore creates a ContextStore over the local store.
func NewContextStore(s *store.Store) *ContextStore {
	return &ContextStore{db: s.DB()}
}

// Set writes the actor context, replacing any previous one.
func (c *ContextStore) Set(ctx context.Context, userID, name, email, role string) error {
	if userID == "" {
		return apperrors.New(apperrors.ErrInvalid, "user id is required")
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO actor_context (id, user_id, name, email, role, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			updated_at = excluded.updated_at
	`, userID, name, email, role, time.Now().Unix())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "set actor context", err)
	}
	return nil
}

// Get returns the current actor context, or nil when none is set.
func (c *ContextStore) Get(ctx context.Context) (*models.ActorContext, error) {
	var actor models.ActorContext
	err := c.db.QueryRowContext(ctx, `
		SELECT user_id, name, email, role, updated_at FROM actor_context WHERE id = 1
	`).Scan(&actor.UserID, &actor.Name, &actor.Email, &actor.Role, &actor.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "get actor context", err)
	}
	return &actor, nil
}

// Require returns the current actor context or an ACTOR_CONTEXT_REQUIRED
// error. Audit integrity depends on rejecting writes with no known author.
func (c *ContextStore) Require(ctx context.Context) (*models.ActorContext, error) {
	actor, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, apperrors.New(apperrors.ErrActorRequired, "no actor context set; log in before writing")
	}
	return actor, nil
}

// Clear removes the actor context. Called on logout.
func (c *ContextStore) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM actor_context WHERE id = 1`); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "clear actor context", err)
	}
	return nil
}
