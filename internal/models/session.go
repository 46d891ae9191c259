package models

import (
	"fmt"
	"time"
)

// SessionMode distinguishes how an agent was run.
type SessionMode string

const (
	ModeBackground  SessionMode = "background"
	ModeInteractive SessionMode = "interactive"
)

// AgentSession is one launch-to-exit lifecycle record for an agent working
// on a (repo, issue, phase) unit of work. Persisted in the session ledger.
type AgentSession struct {
	ID              string
	Repo            string // "owner/name"
	IssueNumber     int
	Phase           string
	Mode            SessionMode
	PID             int // 0 = no process recorded
	ClaudeSessionID string
	StartedAt       time.Time
	ExitedAt        *time.Time
	ExitCode        *int
	ResultFile      string
}

// Active reports whether the session is still running: no exit recorded.
func (s *AgentSession) Active() bool {
	return s.ExitedAt == nil
}

// IssueRef renders the session's issue as "owner/repo#number".
func (s *AgentSession) IssueRef() string {
	return fmt.Sprintf("%s#%d", s.Repo, s.IssueNumber)
}
