// Package tracker fetches issue metadata from GitHub via the gh CLI. The
// supervisor needs only an issue's title and URL to build agent prompts,
// so the surface here is deliberately small.
package tracker

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Issue is the metadata an agent prompt is built from.
type Issue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	State  string   `json:"state"`
	URL    string   `json:"url"`
	Body   string   `json:"body"`
	Labels []string `json:"-"`
}

// Client looks up issues on a tracker.
type Client interface {
	Issue(repo string, number int) (*Issue, error)
	OpenIssues(repo string) ([]Issue, error)
}

// GitHubClient implements Client using the gh CLI, which carries its own
// auth. No tokens are handled here.
type GitHubClient struct{}

// NewGitHubClient returns a new GitHubClient.
func NewGitHubClient() *GitHubClient {
	return &GitHubClient{}
}

func ghCmd(args ...string) (string, error) {
	out, err := exec.Command("gh", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

type issueRaw struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	URL    string `json:"url"`
	Body   string `json:"body"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (r issueRaw) issue() Issue {
	labels := make([]string, 0, len(r.Labels))
	for _, l := range r.Labels {
		labels = append(labels, l.Name)
	}
	return Issue{
		Number: r.Number,
		Title:  r.Title,
		State:  r.State,
		URL:    r.URL,
		Body:   r.Body,
		Labels: labels,
	}
}

func (c *GitHubClient) Issue(repo string, number int) (*Issue, error) {
	out, err := ghCmd("issue", "view", strconv.Itoa(number),
		"--repo", repo,
		"--json", "number,title,state,url,body,labels",
	)
	if err != nil {
		return nil, err
	}

	var raw issueRaw
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parse issue: %w", err)
	}
	issue := raw.issue()
	return &issue, nil
}

func (c *GitHubClient) OpenIssues(repo string) ([]Issue, error) {
	out, err := ghCmd("issue", "list",
		"--repo", repo,
		"--state", "open",
		"--json", "number,title,state,url,labels",
	)
	if err != nil {
		return nil, err
	}

	var raws []issueRaw
	if err := json.Unmarshal([]byte(out), &raws); err != nil {
		return nil, fmt.Errorf("parse issues: %w", err)
	}
	issues := make([]Issue, 0, len(raws))
	for _, r := range raws {
		issues = append(issues, r.issue())
	}
	return issues, nil
}
