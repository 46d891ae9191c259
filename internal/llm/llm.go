// Package llm wraps the Anthropic API for summarizing completed agent
// runs into a short, human-readable digest.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mhutchinson/wd/internal/results"
)

// RunDigest is the LLM-generated summary of one completed agent run.
type RunDigest struct {
	Headline string   `json:"headline"`
	Details  string   `json:"details"`
	NextStep string   `json:"next_step"`
	Risks    []string `json:"risks"`
}

// Client wraps the Anthropic API.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildDigestPrompt constructs the system and user prompts for a run digest.
func buildDigestPrompt(rec *results.Record) (system string, user string) {
	system = `You summarize the outcome of an autonomous coding agent run for a developer's dashboard. Return ONLY a JSON object with these fields:
- "headline": one sentence stating what happened (did the work succeed, partially succeed, or fail)
- "details": 1-3 sentences of supporting detail drawn from the run output
- "next_step": the single most useful action for the developer to take now
- "risks": a JSON array of short strings naming anything in the output that needs human review (empty array if nothing stands out)

Rules:
- A non-zero exit code means the run failed; the headline must say so
- Do not invent work the output does not mention
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Issue: %s\nPhase: %s\nExit code: %d\n", rec.IssueRef, rec.Phase, rec.ExitCode)
	if !rec.StartedAt.IsZero() {
		fmt.Fprintf(&sb, "Duration: %s\n", rec.CompletedAt.Sub(rec.StartedAt).Round(time.Second))
	}
	if rec.Summary != "" {
		sb.WriteString("\nFinal agent output:\n")
		sb.WriteString(rec.Summary)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// SummarizeRun sends a completed run's record to the LLM and returns a
// structured digest.
func (c *Client) SummarizeRun(ctx context.Context, rec *results.Record) (*RunDigest, error) {
	systemPrompt, userPrompt := buildDigestPrompt(rec)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	// Strip markdown fencing if present
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var digest RunDigest
	if err := json.Unmarshal([]byte(text), &digest); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	return &digest, nil
}
