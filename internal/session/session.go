// Package session persists intake sessions: the dialogue position, the
// application collected so far and the outcome of the one pipeline run a
// session is allowed.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/loanflow/internal/application"
	"github.com/dusk-indust/loanflow/internal/conversation"
	"github.com/dusk-indust/loanflow/internal/decision"
)

var (
	// ErrNotFound is returned when no session has the requested id.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("session already exists")
)

// Session is one applicant's intake conversation.
type Session struct {
	ID        string             `json:"id"`
	State     conversation.State `json:"state"`
	Data      application.Data   `json:"data"`
	Processed bool               `json:"processed"`
	Decision  *decision.Decision `json:"decision,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// New returns a fresh session at the greeting with a random id.
func New() Session {
	now := time.Now().UTC()
	return Session{
		ID:        uuid.NewString(),
		State:     conversation.StateGreeting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	out.Data = s.Data.Clone()
	if s.Decision != nil {
		d := *s.Decision
		d.Conditions = slices.Clone(s.Decision.Conditions)
		d.NextSteps = slices.Clone(s.Decision.NextSteps)
		out.Decision = &d
	}
	return out
}

// Store is the persistence contract for sessions. Every value handed out is
// a copy; mutations go through Update.
type Store interface {
	io.Closer

	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)

	// Update loads the session, applies fn and saves the result atomically.
	// If fn returns an error nothing is written and the error is returned.
	Update(ctx context.Context, id string, fn func(*Session) error) (Session, error)

	Delete(ctx context.Context, id string) error

	// List returns every session, oldest first.
	List(ctx context.Context) ([]Session, error)

	// Cleanup deletes sessions not updated within maxAge and reports how
	// many were removed.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// stamp fills missing timestamps and normalizes them to UTC.
func stamp(s *Session) {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
}

// Open returns the Store for driver: "memory" or "sqlite". path is only used
// by the sqlite driver.
func Open(ctx context.Context, driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemStore(), nil
	case "sqlite":
		return OpenSQLite(ctx, path)
	}
	return nil, fmt.Errorf("session: unknown store driver %q", driver)
}
