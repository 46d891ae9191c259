// Package results persists crash-safe JSON outcome records for agent
// invocations. Records survive supervisor restarts and are reconciled back
// into the session ledger on startup.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mhutchinson/wd/internal/models"
)

// Record is the on-disk outcome of one agent invocation.
type Record struct {
	SessionID   string    `json:"sessionId"` // agent-reported id, may be empty
	Phase       string    `json:"phase"`
	IssueRef    string    `json:"issueRef"` // "owner/repo#number"
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	ExitCode    int       `json:"exitCode"`
	Artifacts   []string  `json:"artifacts"`
	Summary     string    `json:"summary,omitempty"`
}

// Store reads and writes result records in a fixed directory.
type Store struct {
	dir string
}

// NewStore creates a result store rooted at dir. The directory is created
// lazily on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the results directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the deterministic record path for a (repo, issue, phase)
// triple. Re-running a phase overwrites the prior record; only the latest
// run per phase is retained.
func (s *Store) Path(repo string, issueNumber int, phase string) string {
	slug := strings.ReplaceAll(repo, "/", "-")
	name := fmt.Sprintf("%s-%d-%s.json", slug, issueNumber, sanitizePhase(phase))
	return filepath.Join(s.dir, name)
}

// sanitizePhase strips anything outside [A-Za-z0-9_-].
func sanitizePhase(phase string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return -1
		}
	}, phase)
}

// Write serializes the record as pretty JSON with owner-only permissions.
func (s *Store) Write(path string, rec *Record) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}
	if rec.Artifacts == nil {
		rec.Artifacts = []string{}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write result record: %w", err)
	}
	return nil
}

// Read parses and validates a record. Any I/O or validation failure yields
// ok=false; a bad file must never abort reconciliation of the rest.
func (s *Store) Read(path string) (*Record, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	if rec.Phase == "" || rec.CompletedAt.IsZero() {
		return nil, false
	}
	if _, _, ok := ParseIssueRef(rec.IssueRef); !ok {
		return nil, false
	}
	return &rec, true
}

// FindUnprocessed lists record files in the results directory that are not
// in knownPaths. A missing directory means no orphans, not an error.
func (s *Store) FindUnprocessed(knownPaths map[string]bool) []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var orphans []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if !knownPaths[path] {
			orphans = append(orphans, path)
		}
	}
	return orphans
}

// SessionPatch converts a result record into the ledger session it implies:
// an exited background session whose outcome was recovered from disk.
func SessionPatch(rec *Record, path string) (*models.AgentSession, bool) {
	repo, number, ok := ParseIssueRef(rec.IssueRef)
	if !ok {
		return nil, false
	}
	completed := rec.CompletedAt
	exitCode := rec.ExitCode
	return &models.AgentSession{
		Repo:            repo,
		IssueNumber:     number,
		Phase:           rec.Phase,
		Mode:            models.ModeBackground,
		ClaudeSessionID: rec.SessionID,
		StartedAt:       rec.StartedAt,
		ExitedAt:        &completed,
		ExitCode:        &exitCode,
		ResultFile:      path,
	}, true
}

// ParseIssueRef splits "owner/repo#number" on the last '#'.
func ParseIssueRef(ref string) (repo string, number int, ok bool) {
	idx := strings.LastIndex(ref, "#")
	if idx <= 0 || idx == len(ref)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(ref[idx+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return ref[:idx], n, true
}
