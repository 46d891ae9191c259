package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mhutchinson/wd/internal/models"
	"github.com/mhutchinson/wd/internal/results"
)

// defaultPrompts are the per-phase prompt templates used when the caller
// does not supply one. Placeholders: {number}, {title}, {url}.
var defaultPrompts = map[string]string{
	models.PhasePlan:      "Read issue #{number} ({title}, {url}) and write a concrete implementation plan for it. Do not change any code yet.",
	models.PhaseImplement: "Implement issue #{number}: {title}. See {url} for full context. Commit your work as you go.",
	models.PhaseReview:    "Review the changes made for issue #{number} ({title}, {url}). Fix any problems you find and summarize the state of the work.",
}

// LaunchOptions describes one unit of work to hand to an agent.
type LaunchOptions struct {
	Repo        string // "owner/name"
	IssueNumber int
	IssueTitle  string
	IssueURL    string
	Phase       string
	Dir         string // working directory for the agent
	Prompt      string // template override; default is per-phase
	ExtraArgs   []string
}

// Process is a live handle to a launched agent.
type Process struct {
	PID        int
	ResultPath string
	Stdout     io.ReadCloser
	Stderr     io.ReadCloser
	// Wait blocks until the process exits and returns the exit code, or a
	// negative value when the platform did not report one.
	Wait func() int
}

// ProcessLauncher starts agent processes. Split out as an interface so the
// supervisor can be exercised without spawning anything.
type ProcessLauncher interface {
	Launch(ctx context.Context, opts LaunchOptions) (*Process, *LaunchError)
}

// ExecLauncher launches the configured agent binary as a child process.
type ExecLauncher struct {
	Binary  string // agent executable, e.g. "claude"
	Results *results.Store
}

// probeTimeout bounds the preflight --version invocation.
const probeTimeout = 10 * time.Second

// Launch performs preflight checks, builds the prompt, and starts the
// agent with stdout/stderr as pipes and stdin closed. It does not wire the
// streams to anything; that is the stream monitor's job.
func (l *ExecLauncher) Launch(ctx context.Context, opts LaunchOptions) (*Process, *LaunchError) {
	if _, err := os.Stat(opts.Dir); err != nil {
		return nil, launchErrorf(ErrDirectoryNotFound, "working directory %s: %w", opts.Dir, err)
	}

	// Cheap probe, independent of the real run, to catch a missing or
	// broken agent binary before creating any state.
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := exec.CommandContext(probeCtx, l.Binary, "--version").Run(); err != nil {
		return nil, launchErrorf(ErrAgentNotFound, "agent binary %s: %w", l.Binary, err)
	}

	prompt := buildPrompt(opts)

	args := append([]string{}, opts.ExtraArgs...)
	args = append(args, "-p", prompt, "--output-format", "stream-json")

	cmd := exec.Command(l.Binary, args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(),
		"WD_REPO="+opts.Repo,
		"WD_ISSUE="+strconv.Itoa(opts.IssueNumber),
	)
	// Stdin stays nil: the agent runs unattended and must not block on input.

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, launchErrorf(ErrSpawnFailed, "stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, launchErrorf(ErrSpawnFailed, "stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, launchErrorf(ErrSpawnFailed, "start agent: %w", err)
	}
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		return nil, launchErrorf(ErrSpawnFailed, "agent started without a pid")
	}

	return &Process{
		PID:        cmd.Process.Pid,
		ResultPath: l.Results.Path(opts.Repo, opts.IssueNumber, opts.Phase),
		Stdout:     stdout,
		Stderr:     stderr,
		Wait: func() int {
			if err := cmd.Wait(); err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					return exitErr.ExitCode()
				}
				return -1
			}
			return 0
		},
	}, nil
}

// buildPrompt substitutes {number}, {title}, and {url} into the template.
// Substitution is purely textual; the agent binary is responsible for
// treating the prompt as untrusted natural text.
func buildPrompt(opts LaunchOptions) string {
	tmpl := opts.Prompt
	if tmpl == "" {
		tmpl = defaultPrompts[opts.Phase]
	}
	if tmpl == "" {
		tmpl = fmt.Sprintf("Work on issue #{number}: {title} ({url}), phase %s.", opts.Phase)
	}

	r := strings.NewReplacer(
		"{number}", strconv.Itoa(opts.IssueNumber),
		"{title}", opts.IssueTitle,
		"{url}", opts.IssueURL,
	)
	return r.Replace(tmpl)
}
