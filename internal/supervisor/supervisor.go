// Package supervisor launches and tracks background coding agents working
// on issues. It owns admission control, the wiring from a live process's
// output stream to the session ledger, crash-safe result persistence, and
// recovery of outcomes left behind by a previous supervisor run.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mhutchinson/wd/internal/models"
	"github.com/mhutchinson/wd/internal/notify"
	"github.com/mhutchinson/wd/internal/results"
	"github.com/mhutchinson/wd/internal/store"
	"github.com/mhutchinson/wd/internal/stream"
)

// DefaultMaxConcurrent bounds simultaneously running agents when the
// config does not say otherwise.
const DefaultMaxConcurrent = 3

// DefaultPollInterval is how often orphaned sessions are probed for
// liveness.
const DefaultPollInterval = 5 * time.Second

// Config wires the supervisor's collaborators.
type Config struct {
	Store         store.Store
	Results       *results.Store
	Launcher      ProcessLauncher
	Notifier      notify.Notifier
	MaxConcurrent int
	PollInterval  time.Duration
	// OnEvent, when set, observes every parsed stream event of every
	// agent launched by this supervisor. Used by display glue.
	OnEvent func(sessionID string, ev stream.Event)
}

// trackedAgent is the in-memory record of an agent launched by this run.
// It is never reconstructed from persisted state: a restarted supervisor
// has no tracked entry for sessions it did not itself launch.
type trackedAgent struct {
	sessionID   string
	repo        string
	issueNumber int
	phase       string
	pid         int
	startedAt   time.Time
	monitor     *stream.Monitor
	done        chan struct{}
}

// Supervisor orchestrates background agents under a concurrency limit.
type Supervisor struct {
	store         store.Store
	results       *results.Store
	launcher      ProcessLauncher
	notifier      notify.Notifier
	maxConcurrent int
	pollInterval  time.Duration
	onEvent       func(string, stream.Event)

	mu      sync.Mutex
	tracked []*trackedAgent
	// pending counts launches admitted but not yet tracked, so a slow
	// preflight cannot let a concurrent launch oversubscribe the limit.
	pending int

	// Injection points for tests.
	alive func(pid int) bool
	now   func() time.Time
}

// New builds a supervisor and immediately reconciles result files left on
// disk by agents whose supervising process died before their exit handler
// ran.
func New(ctx context.Context, cfg Config) (*Supervisor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("supervisor requires a session store")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("supervisor requires a result store")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	s := &Supervisor{
		store:         cfg.Store,
		results:       cfg.Results,
		launcher:      cfg.Launcher,
		notifier:      cfg.Notifier,
		maxConcurrent: cfg.MaxConcurrent,
		pollInterval:  cfg.PollInterval,
		onEvent:       cfg.OnEvent,
		alive:         processAlive,
		now:           time.Now,
	}

	if _, err := s.Reconcile(ctx); err != nil {
		return nil, fmt.Errorf("startup reconciliation: %w", err)
	}
	return s, nil
}

// LaunchAgent launches a background agent for one (repo, issue, phase)
// unit of work and returns its ledger session id. Launch failures come
// back as a *LaunchError; admission is checked before anything is spawned
// or written. The lock is not held across the launcher call (preflight
// can take seconds), so an admitted launch reserves a slot instead.
func (s *Supervisor) LaunchAgent(ctx context.Context, opts LaunchOptions) (string, error) {
	s.mu.Lock()
	inUse := s.runningCountLocked() + s.pending
	if inUse >= s.maxConcurrent {
		s.mu.Unlock()
		return "", launchErrorf(ErrAdmissionRejected,
			"%d of %d agent slots in use; retry after one exits",
			inUse, s.maxConcurrent)
	}
	s.pending++
	s.mu.Unlock()

	releaseSlot := func() {
		s.mu.Lock()
		s.pending--
		s.mu.Unlock()
	}

	proc, lerr := s.launcher.Launch(ctx, opts)
	if lerr != nil {
		releaseSlot()
		return "", lerr
	}

	session := &models.AgentSession{
		Repo:        opts.Repo,
		IssueNumber: opts.IssueNumber,
		Phase:       opts.Phase,
		Mode:        models.ModeBackground,
		PID:         proc.PID,
		StartedAt:   s.now().UTC(),
	}
	if err := s.store.UpsertSession(ctx, session); err != nil {
		releaseSlot()
		return "", fmt.Errorf("record session: %w", err)
	}

	tracked := &trackedAgent{
		sessionID:   session.ID,
		repo:        opts.Repo,
		issueNumber: opts.IssueNumber,
		phase:       opts.Phase,
		pid:         proc.PID,
		startedAt:   session.StartedAt,
		done:        make(chan struct{}),
	}

	var onEvent func(stream.Event)
	if s.onEvent != nil {
		id := session.ID
		onEvent = func(ev stream.Event) { s.onEvent(id, ev) }
	}

	// Attach under the lock so the exit handler cannot try to remove the
	// tracked entry before it is appended.
	s.mu.Lock()
	tracked.monitor = stream.Attach(proc.Stdout, proc.Stderr, proc.Wait,
		onEvent, s.exitHandler(tracked, proc.ResultPath))
	s.pending--
	s.tracked = append(s.tracked, tracked)
	s.mu.Unlock()
	return session.ID, nil
}

// exitHandler builds the onExit callback for one tracked agent: persist
// the outcome record, mark the ledger session exited, drop the tracked
// entry, and notify.
func (s *Supervisor) exitHandler(t *trackedAgent, resultPath string) func(int, *stream.Monitor) {
	return func(code int, m *stream.Monitor) {
		defer close(t.done)
		ctx := context.Background()
		completed := s.now().UTC()
		snap := m.Snapshot()

		rec := &results.Record{
			SessionID:   snap.SessionID,
			Phase:       t.phase,
			IssueRef:    fmt.Sprintf("%s#%d", t.repo, t.issueNumber),
			StartedAt:   t.startedAt,
			CompletedAt: completed,
			ExitCode:    code,
			Summary:     snap.LastText,
		}
		// Result write failures are non-fatal: the ledger update below
		// still records the exit.
		_ = s.results.Write(resultPath, rec)

		session, err := s.store.GetSession(ctx, t.sessionID)
		if err != nil {
			// Ledger lost the row; rebuild it from what we know.
			session = &models.AgentSession{
				ID:          t.sessionID,
				Repo:        t.repo,
				IssueNumber: t.issueNumber,
				Phase:       t.phase,
				Mode:        models.ModeBackground,
				PID:         t.pid,
				StartedAt:   t.startedAt,
			}
		}
		session.ExitedAt = &completed
		session.ExitCode = &code
		session.ResultFile = resultPath
		if snap.SessionID != "" {
			session.ClaudeSessionID = snap.SessionID
		}
		_ = s.store.UpsertSession(ctx, session)

		s.mu.Lock()
		for i, other := range s.tracked {
			if other == t {
				s.tracked = append(s.tracked[:i], s.tracked[i+1:]...)
				break
			}
		}
		s.mu.Unlock()

		ref := fmt.Sprintf("%s#%d %s", t.repo, t.issueNumber, t.phase)
		if code == 0 {
			s.notifier.Notify(notify.Notification{
				Title: "Agent completed",
				Body:  ref,
			})
		} else {
			s.notifier.Notify(notify.Notification{
				Title: "Agent failed",
				Body:  fmt.Sprintf("%s (exit %d)", ref, code),
			})
		}
	}
}

// RunningCount reports how many tracked agents are still running. It is
// computed from the live monitors rather than a separate counter, so a
// missed exit cannot leave the count drifted.
func (s *Supervisor) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningCountLocked()
}

func (s *Supervisor) runningCountLocked() int {
	count := 0
	for _, t := range s.tracked {
		if t.monitor.IsRunning() {
			count++
		}
	}
	return count
}

// isTracked reports whether this run launched (and still tracks) the
// session. Tracked sessions are excluded from liveness polling: their exit
// is observed by the stream monitor, and probing them too would race it.
func (s *Supervisor) isTracked(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracked {
		if t.sessionID == sessionID {
			return true
		}
	}
	return false
}

// Wait blocks until the tracked session exits or ctx is done. Waiting on
// an untracked session returns immediately.
func (s *Supervisor) Wait(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	var done chan struct{}
	for _, t := range s.tracked {
		if t.sessionID == sessionID {
			done = t.done
			break
		}
	}
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconcile upserts ledger sessions for result files on disk that no
// ledger session references yet. Unreadable or invalid files are skipped;
// one bad file must not block recovery of the rest. Returns the number of
// sessions recovered.
func (s *Supervisor) Reconcile(ctx context.Context) (int, error) {
	sessions, err := s.store.ListSessions(ctx, store.SessionFilter{})
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	known := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		if sess.ResultFile != "" {
			known[sess.ResultFile] = true
		}
	}

	recovered := 0
	for _, path := range s.results.FindUnprocessed(known) {
		rec, ok := s.results.Read(path)
		if !ok {
			continue
		}
		patch, ok := results.SessionPatch(rec, path)
		if !ok {
			continue
		}
		if err := s.store.UpsertSession(ctx, patch); err != nil {
			continue
		}
		recovered++
	}
	return recovered, nil
}

// PollOnce probes liveness of orphaned background sessions: active in the
// ledger, with a recorded pid, and not launched by this run. A session
// whose process is gone is marked exited with a failure code and reported
// once.
func (s *Supervisor) PollOnce(ctx context.Context) int {
	sessions, err := s.store.ListSessions(ctx, store.SessionFilter{
		Mode:       models.ModeBackground,
		ActiveOnly: true,
	})
	if err != nil {
		return 0
	}

	marked := 0
	for _, sess := range sessions {
		if sess.PID == 0 || s.isTracked(sess.ID) {
			continue
		}
		if s.alive(sess.PID) {
			continue
		}

		exited := s.now().UTC()
		code := 1 // silent death counts as failure
		sess.ExitedAt = &exited
		sess.ExitCode = &code
		if err := s.store.UpsertSession(ctx, sess); err != nil {
			continue
		}
		marked++
		s.notifier.Notify(notify.Notification{
			Title: "Agent exited",
			Body:  fmt.Sprintf("%s %s (pid %d no longer running)", sess.IssueRef(), sess.Phase, sess.PID),
		})
	}
	return marked
}

// Run polls orphaned sessions on the configured interval until ctx is
// cancelled. Launch and monitor paths are never blocked by it.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.PollOnce(ctx)
		}
	}
}
