package models

// Workflow phases an issue moves through.
const (
	PhasePlan      = "plan"
	PhaseImplement = "implement"
	PhaseReview    = "review"
)

// Phases lists the workflow phases in order.
func Phases() []string {
	return []string{PhasePlan, PhaseImplement, PhaseReview}
}

// PhaseState is the derived state of one phase for one issue.
type PhaseState string

const (
	PhasePending   PhaseState = "pending"
	PhaseActive    PhaseState = "active"
	PhaseCompleted PhaseState = "completed"
)

// PhaseStatus is the derived status of a phase, with the session that best
// represents it (nil when no attempt has been made).
type PhaseStatus struct {
	Name    string
	State   PhaseState
	Session *AgentSession
}
