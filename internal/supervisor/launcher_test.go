package supervisor

import (
	"context"
	"io"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhutchinson/wd/internal/models"
	"github.com/mhutchinson/wd/internal/results"
)

func TestExecLauncher_DirectoryNotFound(t *testing.T) {
	l := &ExecLauncher{Binary: "true", Results: results.NewStore(t.TempDir())}

	_, lerr := l.Launch(context.Background(), LaunchOptions{
		Repo:        "owner/app",
		IssueNumber: 1,
		Phase:       models.PhasePlan,
		Dir:         filepath.Join(t.TempDir(), "does-not-exist"),
	})
	require.NotNil(t, lerr)
	assert.Equal(t, ErrDirectoryNotFound, lerr.Code)
}

func TestExecLauncher_AgentNotFound(t *testing.T) {
	l := &ExecLauncher{
		Binary:  filepath.Join(t.TempDir(), "no-such-agent"),
		Results: results.NewStore(t.TempDir()),
	}

	_, lerr := l.Launch(context.Background(), LaunchOptions{
		Repo:        "owner/app",
		IssueNumber: 1,
		Phase:       models.PhasePlan,
		Dir:         t.TempDir(),
	})
	require.NotNil(t, lerr)
	assert.Equal(t, ErrAgentNotFound, lerr.Code)
}

func TestExecLauncher_LaunchesRealProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on a unix echo binary")
	}
	// echo happily accepts --version during preflight and exits 0 after
	// printing the launch args, which is all this test needs.
	rs := results.NewStore(t.TempDir())
	l := &ExecLauncher{Binary: "echo", Results: rs}

	proc, lerr := l.Launch(context.Background(), LaunchOptions{
		Repo:        "owner/app",
		IssueNumber: 12,
		IssueTitle:  "broken login",
		Phase:       models.PhaseImplement,
		Dir:         t.TempDir(),
	})
	require.Nil(t, lerr)
	assert.Greater(t, proc.PID, 0)
	assert.Equal(t, rs.Path("owner/app", 12, models.PhaseImplement), proc.ResultPath)

	out, err := io.ReadAll(proc.Stdout)
	require.NoError(t, err)
	assert.Contains(t, string(out), "broken login")
	assert.Contains(t, string(out), "--output-format stream-json")
	_, _ = io.ReadAll(proc.Stderr)
	assert.Equal(t, 0, proc.Wait())
}

func TestBuildPrompt(t *testing.T) {
	opts := LaunchOptions{
		Repo:        "owner/app",
		IssueNumber: 42,
		IssueTitle:  "flaky sync",
		IssueURL:    "https://github.com/owner/app/issues/42",
		Phase:       models.PhaseImplement,
	}

	t.Run("default template per phase", func(t *testing.T) {
		got := buildPrompt(opts)
		assert.Contains(t, got, "issue #42")
		assert.Contains(t, got, "flaky sync")
		assert.Contains(t, got, "https://github.com/owner/app/issues/42")
		assert.NotContains(t, got, "{number}")
	})

	t.Run("custom template with repeated placeholders", func(t *testing.T) {
		custom := opts
		custom.Prompt = "Issue {number}, again {number}: {title} / {title} at {url}"
		got := buildPrompt(custom)
		assert.Equal(t, "Issue 42, again 42: flaky sync / flaky sync at https://github.com/owner/app/issues/42", got)
	})

	t.Run("unknown phase falls back to generic template", func(t *testing.T) {
		odd := opts
		odd.Phase = "triage"
		got := buildPrompt(odd)
		assert.Contains(t, got, "issue #42")
		assert.Contains(t, got, "triage")
	})

	t.Run("placeholder-free template passes through", func(t *testing.T) {
		custom := opts
		custom.Prompt = "Just do the work."
		assert.Equal(t, "Just do the work.", buildPrompt(custom))
	})
}
