package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mhutchinson/wd/internal/models"
	"github.com/mhutchinson/wd/internal/notify"
	"github.com/mhutchinson/wd/internal/output"
	"github.com/mhutchinson/wd/internal/results"
	"github.com/mhutchinson/wd/internal/store"
	"github.com/mhutchinson/wd/internal/stream"
	"github.com/mhutchinson/wd/internal/supervisor"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	sup       *supervisor.Supervisor

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "wd",
	Short: "Work dashboard - track issues and background coding agents",
	Long: `wd is a personal work dashboard for running coding agents against
GitHub issues. It launches agents as background processes, follows
their output streams, records every run in a local SQLite ledger,
and derives per-issue workflow status from the recorded sessions.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/wd/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "wd")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("WD")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "wd")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "wd.db"))
	viper.SetDefault("results_dir", filepath.Join(defaultConfigDir, "results"))
	viper.SetDefault("workspace_root", filepath.Join(home, "src"))
	viper.SetDefault("agent.binary", "claude")
	viper.SetDefault("agent.args", []string{})
	viper.SetDefault("agent.max_concurrent", supervisor.DefaultMaxConcurrent)
	viper.SetDefault("agent.poll_interval", supervisor.DefaultPollInterval.String())
	viper.SetDefault("agent.prompts.plan", "")
	viper.SetDefault("agent.prompts.implement", "")
	viper.SetDefault("agent.prompts.review", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Store and supervisor are initialized lazily so config/version
	// commands run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getSupervisor returns the shared supervisor, initializing it (and the
// store) on first call. Construction reconciles orphaned result files.
func getSupervisor(ctx context.Context) (*supervisor.Supervisor, error) {
	if sup != nil {
		return sup, nil
	}

	s, err := getStore()
	if err != nil {
		return nil, err
	}

	resultStore := results.NewStore(viper.GetString("results_dir"))
	launcher := &supervisor.ExecLauncher{
		Binary:  viper.GetString("agent.binary"),
		Results: resultStore,
	}

	pollInterval, err := time.ParseDuration(viper.GetString("agent.poll_interval"))
	if err != nil {
		pollInterval = supervisor.DefaultPollInterval
	}

	sup, err = supervisor.New(ctx, supervisor.Config{
		Store:         s,
		Results:       resultStore,
		Launcher:      launcher,
		Notifier:      &notify.UINotifier{UI: ui},
		MaxConcurrent: viper.GetInt("agent.max_concurrent"),
		PollInterval:  pollInterval,
		OnEvent: func(sessionID string, ev stream.Event) {
			if line := streamEventLine(ev); line != "" {
				ui.VerboseLog("[%s] %s", shortID(sessionID), line)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return sup, nil
}

// workDirFor maps an "owner/name" repo to its local checkout under the
// configured workspace root. A per-repo override wins when present.
func workDirFor(repo string) string {
	if dir := viper.GetString("repos." + repo + ".dir"); dir != "" {
		return dir
	}
	name := repo
	if idx := strings.LastIndex(repo, "/"); idx >= 0 {
		name = repo[idx+1:]
	}
	return filepath.Join(viper.GetString("workspace_root"), name)
}

// promptFor returns the configured prompt template for a phase, empty
// when the built-in default should be used.
func promptFor(phase string) string {
	return viper.GetString("agent.prompts." + phase)
}

// parseIssueArg splits "owner/name#123" into repo and issue number.
func parseIssueArg(arg string) (string, int, error) {
	repo, number, ok := results.ParseIssueRef(arg)
	if !ok {
		return "", 0, fmt.Errorf("expected owner/name#number, got %q", arg)
	}
	return repo, number, nil
}

// validPhase reports whether name is one of the workflow phases.
func validPhase(name string) bool {
	for _, p := range models.Phases() {
		if p == name {
			return true
		}
	}
	return false
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
