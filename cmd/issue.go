package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mhutchinson/wd/internal/output"
	"github.com/mhutchinson/wd/internal/phase"
	"github.com/mhutchinson/wd/internal/tracker"
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Inspect tracker issues",
}

var issueViewCmd = &cobra.Command{
	Use:   "view <owner/repo#number>",
	Short: "Show an issue with its derived workflow status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueViewRun(args[0])
	},
}

var issueListCmd = &cobra.Command{
	Use:   "list <owner/repo>",
	Short: "List open issues for a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun(args[0])
	},
}

func init() {
	issueCmd.AddCommand(issueViewCmd)
	issueCmd.AddCommand(issueListCmd)
	rootCmd.AddCommand(issueCmd)
}

func issueViewRun(issueArg string) error {
	repo, number, err := parseIssueArg(issueArg)
	if err != nil {
		return err
	}

	tc := tracker.NewGitHubClient()
	issue, err := tc.Issue(repo, number)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan(fmt.Sprintf("%s#%d", repo, number)), issue.Title)
	fmt.Fprintf(ui.Out, "%s  %s\n", output.StatusColor(issue.State), issue.URL)
	if len(issue.Labels) > 0 {
		fmt.Fprintf(ui.Out, "labels: %s\n", strings.Join(issue.Labels, ", "))
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	sessions, err := s.FindSessions(context.Background(), repo, number)
	if err != nil {
		return err
	}

	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"Phase", "State"})
	for _, st := range phase.DeriveAll(sessions) {
		table.Append([]string{st.Name, output.PhaseColor(st.State)})
	}
	table.Render()
	return nil
}

func issueListRun(repo string) error {
	tc := tracker.NewGitHubClient()
	issues, err := tc.OpenIssues(repo)
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No open issues in %s.", repo)
		return nil
	}

	table := ui.Table([]string{"Issue", "Title", "Labels"})
	for _, issue := range issues {
		table.Append([]string{
			fmt.Sprintf("#%d", issue.Number),
			issue.Title,
			strings.Join(issue.Labels, ", "),
		})
	}
	table.Render()
	return nil
}
