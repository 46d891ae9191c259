package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhutchinson/wd/internal/models"
)

func sessionAt(phase string, start time.Time) *models.AgentSession {
	return &models.AgentSession{
		Repo:        "owner/app",
		IssueNumber: 1,
		Phase:       phase,
		Mode:        models.ModeBackground,
		StartedAt:   start,
	}
}

func exited(s *models.AgentSession, code int) *models.AgentSession {
	at := s.StartedAt.Add(time.Minute)
	s.ExitedAt = &at
	s.ExitCode = &code
	return s
}

func TestDerive(t *testing.T) {
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	t.Run("no sessions means pending", func(t *testing.T) {
		st := Derive(models.PhasePlan, nil)
		assert.Equal(t, models.PhasePending, st.State)
		assert.Nil(t, st.Session)
	})

	t.Run("other phases are ignored", func(t *testing.T) {
		sessions := []*models.AgentSession{
			sessionAt(models.PhaseImplement, base),
		}
		st := Derive(models.PhasePlan, sessions)
		assert.Equal(t, models.PhasePending, st.State)
		assert.Nil(t, st.Session)
	})

	t.Run("running session wins over everything", func(t *testing.T) {
		running := sessionAt(models.PhasePlan, base.Add(time.Hour))
		sessions := []*models.AgentSession{
			exited(sessionAt(models.PhasePlan, base), 0),
			exited(sessionAt(models.PhasePlan, base.Add(30*time.Minute)), 1),
			running,
		}
		st := Derive(models.PhasePlan, sessions)
		assert.Equal(t, models.PhaseActive, st.State)
		assert.Same(t, running, st.Session)
	})

	t.Run("successful exit completes the phase despite later failures", func(t *testing.T) {
		ok := exited(sessionAt(models.PhasePlan, base), 0)
		sessions := []*models.AgentSession{
			ok,
			exited(sessionAt(models.PhasePlan, base.Add(time.Hour)), 2),
		}
		st := Derive(models.PhasePlan, sessions)
		assert.Equal(t, models.PhaseCompleted, st.State)
		assert.Same(t, ok, st.Session)
	})

	t.Run("only failures stays pending with the latest attempt", func(t *testing.T) {
		older := exited(sessionAt(models.PhasePlan, base), 1)
		newer := exited(sessionAt(models.PhasePlan, base.Add(time.Hour)), 2)
		st := Derive(models.PhasePlan, []*models.AgentSession{older, newer})
		assert.Equal(t, models.PhasePending, st.State)
		assert.Same(t, newer, st.Session)
	})

	t.Run("exit without a code counts as failure", func(t *testing.T) {
		s := sessionAt(models.PhasePlan, base)
		at := base.Add(time.Minute)
		s.ExitedAt = &at
		st := Derive(models.PhasePlan, []*models.AgentSession{s})
		assert.Equal(t, models.PhasePending, st.State)
		assert.Same(t, s, st.Session)
	})
}

func TestDeriveAll(t *testing.T) {
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	sessions := []*models.AgentSession{
		exited(sessionAt(models.PhasePlan, base), 0),
		sessionAt(models.PhaseImplement, base.Add(time.Hour)),
	}

	all := DeriveAll(sessions)
	require.Len(t, all, 3)
	assert.Equal(t, models.PhasePlan, all[0].Name)
	assert.Equal(t, models.PhaseCompleted, all[0].State)
	assert.Equal(t, models.PhaseImplement, all[1].Name)
	assert.Equal(t, models.PhaseActive, all[1].State)
	assert.Equal(t, models.PhaseReview, all[2].Name)
	assert.Equal(t, models.PhasePending, all[2].State)
	assert.Nil(t, all[2].Session)
}
