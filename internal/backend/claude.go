package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// ClaudeAdapter implements the Backend interface for the claude CLI.
// Each Send is a fresh print-mode invocation.
type ClaudeAdapter struct {
	command string
	extra   []string
	workDir string
	model   string
	procMgr *ProcessManager
}

// claudeResponse represents the JSON structure returned by claude CLI.
// Current releases emit {"result": "text", "is_error": false}; older ones
// nested content blocks under result.
type claudeResponse struct {
	IsError bool            `json:"is_error"`
	Result  json.RawMessage `json:"result"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewClaudeAdapter creates a new Claude Code backend adapter.
// The ProcessManager is optional - if nil, subprocesses won't be tracked.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) (*ClaudeAdapter, error) {
	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &ClaudeAdapter{
		command: cfg.command(),
		extra:   cfg.Args,
		workDir: workDir,
		model:   cfg.Model,
		procMgr: procMgr,
	}, nil
}

// Name returns "claude".
func (a *ClaudeAdapter) Name() string { return "claude" }

// Send runs the claude CLI once and returns its answer.
func (a *ClaudeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, a.command, a.buildArgs(msg)...)
	cmd.Dir = a.workDir

	var stdin string
	if longPrompt(msg.Content) {
		stdin = msg.Content
	}

	stdout, stderr, err := runCommand(ctx, cmd, a.procMgr, stdin)
	if err != nil {
		return Response{}, fmt.Errorf("claude command failed: %w", err)
	}

	content, err := parseClaudeResponse(stdout)
	if err != nil {
		return Response{}, fmt.Errorf("failed to parse claude response: %w (stderr: %s)", err, stderrTail(stderr))
	}

	return Response{Content: content, Model: a.model}, nil
}

// buildArgs constructs the command-line arguments for the claude CLI.
// Print mode reads the prompt from stdin when it is not given as an argument.
func (a *ClaudeAdapter) buildArgs(msg Message) []string {
	args := []string{"-p", msg.Content, "--output-format", "json"}
	if longPrompt(msg.Content) {
		args = []string{"-p", "--output-format", "json"}
	}

	if a.model != "" {
		args = append(args, "--model", a.model)
	}

	if msg.System != "" {
		args = append(args, "--system-prompt", msg.System)
	}

	return append(args, a.extra...)
}

// parseClaudeResponse extracts the text answer from claude CLI JSON output.
func parseClaudeResponse(data []byte) (string, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	if len(cr.Result) == 0 {
		return "", fmt.Errorf("response has no result field")
	}

	var text string
	if err := json.Unmarshal(cr.Result, &text); err != nil {
		var nested claudeContent
		if err := json.Unmarshal(cr.Result, &nested); err != nil {
			return "", fmt.Errorf("unexpected result shape: %w", err)
		}
		for _, item := range nested.Content {
			if item.Type == "text" {
				text += item.Text
			}
		}
	}

	if cr.IsError {
		return "", fmt.Errorf("claude reported an error: %s", text)
	}

	return text, nil
}
