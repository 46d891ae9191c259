// Package phase derives per-phase workflow status for an issue from its
// recorded agent sessions. Derivation is pure: the ledger rows are the
// only input, and nothing here mutates them.
package phase

import (
	"github.com/mhutchinson/wd/internal/models"
)

// Derive computes the status of one named phase from the sessions of a
// single issue. Sessions for other phases are ignored.
//
// Precedence: a running session makes the phase active; otherwise any
// successful exit makes it completed; otherwise the phase is pending,
// carrying the most recently started failed attempt (if any) so callers
// can surface why it has not completed.
func Derive(name string, sessions []*models.AgentSession) models.PhaseStatus {
	var active, succeeded, failed *models.AgentSession

	for _, s := range sessions {
		if s.Phase != name {
			continue
		}
		switch {
		case s.Active():
			if active == nil {
				active = s
			}
		case s.ExitCode != nil && *s.ExitCode == 0:
			if succeeded == nil {
				succeeded = s
			}
		default:
			if failed == nil || s.StartedAt.After(failed.StartedAt) {
				failed = s
			}
		}
	}

	switch {
	case active != nil:
		return models.PhaseStatus{Name: name, State: models.PhaseActive, Session: active}
	case succeeded != nil:
		return models.PhaseStatus{Name: name, State: models.PhaseCompleted, Session: succeeded}
	default:
		return models.PhaseStatus{Name: name, State: models.PhasePending, Session: failed}
	}
}

// DeriveAll derives every standard phase in workflow order.
func DeriveAll(sessions []*models.AgentSession) []models.PhaseStatus {
	names := models.Phases()
	out := make([]models.PhaseStatus, 0, len(names))
	for _, name := range names {
		out = append(out, Derive(name, sessions))
	}
	return out
}
