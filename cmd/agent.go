package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mhutchinson/wd/internal/llm"
	"github.com/mhutchinson/wd/internal/models"
	"github.com/mhutchinson/wd/internal/output"
	"github.com/mhutchinson/wd/internal/phase"
	"github.com/mhutchinson/wd/internal/results"
	"github.com/mhutchinson/wd/internal/store"
	"github.com/mhutchinson/wd/internal/stream"
	"github.com/mhutchinson/wd/internal/supervisor"
	"github.com/mhutchinson/wd/internal/tracker"
)

var (
	agentPhase  string
	agentDir    string
	agentWait   bool
	agentLimit  int
	agentRepo   string
	agentActive bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage background coding agent sessions",
	Long:  "Launch coding agents against GitHub issues and track their sessions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentListRun()
	},
}

var agentLaunchCmd = &cobra.Command{
	Use:   "launch <owner/repo#number>",
	Short: "Launch a background agent for one issue phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentLaunchRun(args[0])
	},
}

var agentListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List running agent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentListRun()
	},
}

var agentHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show agent session history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentHistoryRun()
	},
}

var agentStatusCmd = &cobra.Command{
	Use:   "status <owner/repo#number>",
	Short: "Show derived per-phase status for one issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentStatusRun(args[0])
	},
}

var agentWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll orphaned sessions and watch for new result files",
	Long: `Run the supervisor's maintenance loop in the foreground: probe
liveness of background sessions left over from previous runs and
reconcile result files as they appear. Stops on Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentWatchRun()
	},
}

var agentSummaryCmd = &cobra.Command{
	Use:   "summary <owner/repo#number> <phase>",
	Short: "Summarize the latest run of an issue phase with the Anthropic API",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentSummaryRun(args[0], args[1])
	},
}

func init() {
	agentLaunchCmd.Flags().StringVar(&agentPhase, "phase", models.PhaseImplement, "Workflow phase: plan, implement, or review")
	agentLaunchCmd.Flags().StringVar(&agentDir, "dir", "", "Working directory for the agent (default derived from workspace_root)")
	agentLaunchCmd.Flags().BoolVar(&agentWait, "wait", false, "Block until the agent exits and report its outcome")

	agentHistoryCmd.Flags().IntVar(&agentLimit, "limit", 20, "Max sessions to show")
	agentHistoryCmd.Flags().StringVar(&agentRepo, "repo", "", "Filter by repository (owner/name)")
	agentHistoryCmd.Flags().BoolVar(&agentActive, "active", false, "Only sessions still running")

	agentCmd.AddCommand(agentLaunchCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentHistoryCmd)
	agentCmd.AddCommand(agentStatusCmd)
	agentCmd.AddCommand(agentWatchCmd)
	agentCmd.AddCommand(agentSummaryCmd)
	rootCmd.AddCommand(agentCmd)
}

func agentLaunchRun(issueArg string) error {
	repo, number, err := parseIssueArg(issueArg)
	if err != nil {
		return err
	}
	if !validPhase(agentPhase) {
		return fmt.Errorf("unknown phase %q (want plan, implement, or review)", agentPhase)
	}

	tc := tracker.NewGitHubClient()
	issue, err := tc.Issue(repo, number)
	if err != nil {
		return fmt.Errorf("fetch issue: %w", err)
	}

	dir := agentDir
	if dir == "" {
		dir = workDirFor(repo)
	}

	if dryRun {
		ui.DryRunMsg("Would launch %s agent for %s#%d (%s) in %s",
			agentPhase, repo, number, issue.Title, dir)
		return nil
	}

	ctx := context.Background()
	s, err := getSupervisor(ctx)
	if err != nil {
		return err
	}

	// Duplicate launches for the same issue clobber each other's result
	// file, so warn before piling on.
	if st, err := getStore(); err == nil {
		if existing, err := st.FindActiveSession(ctx, repo, number); err == nil && existing != nil {
			ui.Warning("Session %s is already active for %s#%d (%s phase)",
				shortID(existing.ID), repo, number, existing.Phase)
		}
	}

	opts := supervisor.LaunchOptions{
		Repo:        repo,
		IssueNumber: number,
		IssueTitle:  issue.Title,
		IssueURL:    issue.URL,
		Phase:       agentPhase,
		Dir:         dir,
		Prompt:      promptFor(agentPhase),
		ExtraArgs:   viper.GetStringSlice("agent.args"),
	}

	id, err := s.LaunchAgent(ctx, opts)
	if err != nil {
		return err
	}
	ui.Success("Agent launched for %s#%d %s (session %s)",
		repo, number, agentPhase, output.Cyan(shortID(id)))

	if !agentWait {
		return nil
	}

	ui.Info("Waiting for agent to exit (Ctrl-C detaches without stopping it)")
	waitCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := s.Wait(waitCtx, id); err != nil {
		ui.Warning("Detached; agent keeps running in the background")
		return nil
	}

	st, err := getStore()
	if err != nil {
		return err
	}
	sess, err := st.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.ExitCode != nil && *sess.ExitCode != 0 {
		return fmt.Errorf("agent exited with code %d", *sess.ExitCode)
	}
	ui.Success("Agent completed")
	return nil
}

func agentListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sessions, err := s.ListSessions(context.Background(), store.SessionFilter{
		Mode:       models.ModeBackground,
		ActiveOnly: true,
	})
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		ui.Info("No running agent sessions.")
		return nil
	}

	table := ui.Table([]string{"ID", "Issue", "Phase", "PID", "Started"})
	for _, sess := range sessions {
		table.Append([]string{
			shortID(sess.ID),
			sess.IssueRef(),
			sess.Phase,
			fmt.Sprintf("%d", sess.PID),
			timeAgo(sess.StartedAt),
		})
	}
	table.Render()
	return nil
}

func agentHistoryRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sessions, err := s.ListSessions(context.Background(), store.SessionFilter{
		Repo:       agentRepo,
		ActiveOnly: agentActive,
		Limit:      agentLimit,
	})
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		ui.Info("No agent session history.")
		return nil
	}

	table := ui.Table([]string{"ID", "Issue", "Phase", "Status", "Duration"})
	for _, sess := range sessions {
		duration := "running"
		if sess.ExitedAt != nil {
			duration = formatDuration(sess.ExitedAt.Sub(sess.StartedAt))
		}
		table.Append([]string{
			shortID(sess.ID),
			sess.IssueRef(),
			sess.Phase,
			output.SessionColor(sess),
			duration,
		})
	}
	table.Render()
	return nil
}

func agentStatusRun(issueArg string) error {
	repo, number, err := parseIssueArg(issueArg)
	if err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	sessions, err := s.FindSessions(context.Background(), repo, number)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"Phase", "State", "Session", "Detail"})
	for _, st := range phase.DeriveAll(sessions) {
		id, detail := "", ""
		if st.Session != nil {
			id = shortID(st.Session.ID)
			detail = output.SessionColor(st.Session)
		}
		table.Append([]string{st.Name, output.PhaseColor(st.State), id, detail})
	}
	table.Render()
	return nil
}

func agentWatchRun() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := getSupervisor(ctx)
	if err != nil {
		return err
	}

	resultStore := results.NewStore(viper.GetString("results_dir"))
	go func() {
		err := resultStore.Watch(ctx, func(path string) {
			if n, err := s.Reconcile(ctx); err == nil && n > 0 {
				ui.Info("Reconciled %d result file(s)", n)
			}
		})
		if err != nil && ctx.Err() == nil {
			ui.VerboseLog("result watcher unavailable: %v", err)
		}
	}()

	ui.Info("Watching agent sessions (Ctrl-C to stop)")
	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func agentSummaryRun(issueArg, phaseName string) error {
	repo, number, err := parseIssueArg(issueArg)
	if err != nil {
		return err
	}
	if !validPhase(phaseName) {
		return fmt.Errorf("unknown phase %q (want plan, implement, or review)", phaseName)
	}

	resultStore := results.NewStore(viper.GetString("results_dir"))
	path := resultStore.Path(repo, number, phaseName)
	rec, ok := resultStore.Read(path)
	if !ok {
		return fmt.Errorf("no result recorded for %s#%d %s", repo, number, phaseName)
	}

	client := llm.NewClient(viper.GetString("anthropic.api_key"), viper.GetString("anthropic.model"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	digest, err := client.SummarizeRun(ctx, rec)
	if err != nil {
		return err
	}

	ui.Success("%s", digest.Headline)
	if digest.Details != "" {
		fmt.Fprintln(ui.Out, digest.Details)
	}
	if digest.NextStep != "" {
		ui.Info("Next: %s", digest.NextStep)
	}
	for _, risk := range digest.Risks {
		ui.Warning("Review: %s", risk)
	}
	return nil
}

// streamEventLine renders one parsed agent event for verbose display.
func streamEventLine(ev stream.Event) string {
	switch ev.Kind {
	case stream.EventToolUse:
		return fmt.Sprintf("tool: %s", ev.Tool)
	case stream.EventText:
		return ev.Text
	case stream.EventError:
		return fmt.Sprintf("error: %s", ev.Message)
	case stream.EventSystem:
		return fmt.Sprintf("session %s", ev.SessionID)
	default:
		return ""
	}
}
