// Package mcp exposes the agent supervisor over the Model Context
// Protocol, so an interactive assistant can launch background agents and
// inspect their sessions through the same data layer the CLI uses.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mhutchinson/wd/internal/models"
	"github.com/mhutchinson/wd/internal/phase"
	"github.com/mhutchinson/wd/internal/store"
	"github.com/mhutchinson/wd/internal/supervisor"
	"github.com/mhutchinson/wd/internal/tracker"
)

// Server wraps the wd data layer and supervisor as MCP tools.
type Server struct {
	store      store.Store
	supervisor *supervisor.Supervisor
	tracker    tracker.Client
	workDir    func(repo string) string
}

// NewServer creates the MCP server wrapper. workDir maps an "owner/name"
// repo to the local checkout an agent should run in.
func NewServer(st store.Store, sup *supervisor.Supervisor, tc tracker.Client, workDir func(repo string) string) *Server {
	return &Server{
		store:      st,
		supervisor: sup,
		tracker:    tc,
		workDir:    workDir,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("wd", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.launchAgentTool())
	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.phaseStatusTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// wd_launch_agent
func (s *Server) launchAgentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wd_launch_agent",
		mcp.WithDescription("Launch a background coding agent for one issue phase. Returns the session id. Fails when the concurrency limit is reached."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository in owner/name form")),
		mcp.WithNumber("issue", mcp.Required(), mcp.Description("Issue number")),
		mcp.WithString("phase", mcp.Description("Workflow phase: plan, implement, or review (default implement)")),
	)
	return tool, s.handleLaunchAgent
}

func (s *Server) handleLaunchAgent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, err := request.RequireString("repo")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo"), nil
	}
	number, err := request.RequireInt("issue")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue"), nil
	}
	phaseName := request.GetString("phase", models.PhaseImplement)

	issue, err := s.tracker.Issue(repo, number)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fetch issue %s#%d: %v", repo, number, err)), nil
	}

	id, err := s.supervisor.LaunchAgent(ctx, supervisor.LaunchOptions{
		Repo:        repo,
		IssueNumber: number,
		IssueTitle:  issue.Title,
		IssueURL:    issue.URL,
		Phase:       phaseName,
		Dir:         s.workDir(repo),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("launch agent: %v", err)), nil
	}

	out := map[string]string{"session_id": id}
	data, _ := json.Marshal(out)
	return mcp.NewToolResultText(string(data)), nil
}

// wd_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wd_list_sessions",
		mcp.WithDescription("List agent sessions. Returns a JSON array with repo, issue, phase, pid, status, and timestamps."),
		mcp.WithString("repo", mcp.Description("Filter by repository (owner/name)")),
		mcp.WithBoolean("active_only", mcp.Description("Only sessions still running")),
	)
	return tool, s.handleListSessions
}

type sessionOut struct {
	ID        string `json:"id"`
	Repo      string `json:"repo"`
	Issue     int    `json:"issue"`
	Phase     string `json:"phase"`
	Mode      string `json:"mode"`
	PID       int    `json:"pid,omitempty"`
	Status    string `json:"status"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	StartedAt string `json:"started_at"`
	ExitedAt  string `json:"exited_at,omitempty"`
}

func sessionToOut(sess *models.AgentSession) sessionOut {
	out := sessionOut{
		ID:        sess.ID,
		Repo:      sess.Repo,
		Issue:     sess.IssueNumber,
		Phase:     sess.Phase,
		Mode:      string(sess.Mode),
		PID:       sess.PID,
		Status:    "running",
		ExitCode:  sess.ExitCode,
		StartedAt: sess.StartedAt.Format(time.RFC3339),
	}
	if sess.ExitedAt != nil {
		out.Status = "exited"
		out.ExitedAt = sess.ExitedAt.Format(time.RFC3339)
	}
	return out
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.store.ListSessions(ctx, store.SessionFilter{
		Repo:       request.GetString("repo", ""),
		ActiveOnly: request.GetBool("active_only", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sessions: %v", err)), nil
	}

	out := make([]sessionOut, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionToOut(sess)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// wd_phase_status
func (s *Server) phaseStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wd_phase_status",
		mcp.WithDescription("Derive per-phase status (pending, active, completed) for one issue from its recorded agent sessions."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository in owner/name form")),
		mcp.WithNumber("issue", mcp.Required(), mcp.Description("Issue number")),
	)
	return tool, s.handlePhaseStatus
}

func (s *Server) handlePhaseStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, err := request.RequireString("repo")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo"), nil
	}
	number, err := request.RequireInt("issue")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue"), nil
	}

	sessions, err := s.store.FindSessions(ctx, repo, number)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("find sessions: %v", err)), nil
	}

	type phaseOut struct {
		Phase   string      `json:"phase"`
		State   string      `json:"state"`
		Session *sessionOut `json:"session,omitempty"`
	}

	statuses := phase.DeriveAll(sessions)
	out := make([]phaseOut, len(statuses))
	for i, st := range statuses {
		out[i] = phaseOut{Phase: st.Name, State: string(st.State)}
		if st.Session != nil {
			so := sessionToOut(st.Session)
			out[i].Session = &so
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal statuses: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
