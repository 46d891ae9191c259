package store

import (
	"context"

	"github.com/mhutchinson/wd/internal/models"
)

// SessionFilter specifies filters for listing sessions.
type SessionFilter struct {
	Repo       string
	Mode       models.SessionMode
	ActiveOnly bool // exited_at IS NULL
	Limit      int
}

// Store is the durable session ledger. The supervisor reads and writes
// sessions through it but does not own its schema.
type Store interface {
	// UpsertSession inserts the session (assigning an id when empty) or
	// updates the existing row with the same id.
	UpsertSession(ctx context.Context, session *models.AgentSession) error
	GetSession(ctx context.Context, id string) (*models.AgentSession, error)
	// FindSessions returns all sessions for one (repo, issue) pair in
	// creation order.
	FindSessions(ctx context.Context, repo string, issueNumber int) ([]*models.AgentSession, error)
	// FindActiveSession returns the most recent session for the pair that
	// has not exited, or nil when none is active.
	FindActiveSession(ctx context.Context, repo string, issueNumber int) (*models.AgentSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*models.AgentSession, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
