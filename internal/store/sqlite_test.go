package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhutchinson/wd/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "wd.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertSession_AssignsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &models.AgentSession{
		Repo:        "owner/app",
		IssueNumber: 7,
		Phase:       models.PhaseImplement,
		Mode:        models.ModeBackground,
		PID:         1234,
	}
	require.NoError(t, s.UpsertSession(ctx, sess))
	assert.NotEmpty(t, sess.ID, "upsert assigns an id on first write")
	assert.False(t, sess.StartedAt.IsZero())

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner/app", got.Repo)
	assert.Equal(t, 1234, got.PID)
	assert.True(t, got.Active())
}

func TestUpsertSession_UpdatesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &models.AgentSession{Repo: "owner/app", IssueNumber: 1, Phase: models.PhasePlan}
	require.NoError(t, s.UpsertSession(ctx, sess))

	now := time.Now().UTC()
	code := 0
	sess.ExitedAt = &now
	sess.ExitCode = &code
	sess.ClaudeSessionID = "abc123def456"
	sess.ResultFile = "/results/owner-app-1-plan.json"
	require.NoError(t, s.UpsertSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.Active())
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.Equal(t, "abc123def456", got.ClaudeSessionID)
	assert.Equal(t, "/results/owner-app-1-plan.json", got.ResultFile)

	// Still only one row.
	all, err := s.FindSessions(ctx, "owner/app", 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFindActiveSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active, err := s.FindActiveSession(ctx, "owner/app", 9)
	require.NoError(t, err)
	assert.Nil(t, active, "no sessions means no active session, not an error")

	done := time.Now().UTC()
	code := 1
	require.NoError(t, s.UpsertSession(ctx, &models.AgentSession{
		Repo: "owner/app", IssueNumber: 9, Phase: models.PhasePlan,
		StartedAt: done.Add(-time.Hour), ExitedAt: &done, ExitCode: &code,
	}))
	require.NoError(t, s.UpsertSession(ctx, &models.AgentSession{
		Repo: "owner/app", IssueNumber: 9, Phase: models.PhaseImplement,
		StartedAt: done.Add(-time.Minute),
	}))

	active, err = s.FindActiveSession(ctx, "owner/app", 9)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.PhaseImplement, active.Phase)
}

func TestListSessions_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exited := time.Now().UTC()
	require.NoError(t, s.UpsertSession(ctx, &models.AgentSession{
		Repo: "a/one", IssueNumber: 1, Phase: models.PhasePlan,
		Mode: models.ModeBackground, PID: 100,
	}))
	require.NoError(t, s.UpsertSession(ctx, &models.AgentSession{
		Repo: "a/one", IssueNumber: 2, Phase: models.PhasePlan,
		Mode: models.ModeInteractive,
	}))
	require.NoError(t, s.UpsertSession(ctx, &models.AgentSession{
		Repo: "b/two", IssueNumber: 3, Phase: models.PhasePlan,
		Mode: models.ModeBackground, ExitedAt: &exited,
	}))

	background, err := s.ListSessions(ctx, SessionFilter{Mode: models.ModeBackground})
	require.NoError(t, err)
	assert.Len(t, background, 2)

	activeBackground, err := s.ListSessions(ctx, SessionFilter{Mode: models.ModeBackground, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, activeBackground, 1)
	assert.Equal(t, "a/one", activeBackground[0].Repo)
	assert.Equal(t, 100, activeBackground[0].PID)

	byRepo, err := s.ListSessions(ctx, SessionFilter{Repo: "b/two"})
	require.NoError(t, err)
	assert.Len(t, byRepo, 1)

	limited, err := s.ListSessions(ctx, SessionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestFindSessions_CreationOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for i, phase := range []string{models.PhasePlan, models.PhaseImplement, models.PhaseReview} {
		require.NoError(t, s.UpsertSession(ctx, &models.AgentSession{
			Repo: "owner/app", IssueNumber: 5, Phase: phase,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	sessions, err := s.FindSessions(ctx, "owner/app", 5)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, models.PhasePlan, sessions[0].Phase)
	assert.Equal(t, models.PhaseReview, sessions[2].Phase)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}
