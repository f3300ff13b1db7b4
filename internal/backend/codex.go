package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CodexAdapter is the Codex CLI backend adapter.
// It uses `codex exec` in JSON event mode, one invocation per message.
type CodexAdapter struct {
	command string
	extra   []string
	workDir string
	model   string
	procMgr *ProcessManager
}

// codexEvent covers the event shapes we read from the stream.
// Legacy streams emit {"type":"TurnCompleted","content":"..."}; current ones
// emit {"type":"item.completed","item":{"type":"agent_message","text":"..."}}.
type codexEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Item    *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
}

// NewCodexAdapter creates a new Codex backend adapter.
func NewCodexAdapter(cfg Config, procMgr *ProcessManager) (*CodexAdapter, error) {
	return &CodexAdapter{
		command: cfg.command(),
		extra:   cfg.Args,
		workDir: cfg.WorkDir,
		model:   cfg.Model,
		procMgr: procMgr,
	}, nil
}

// Name returns "codex".
func (c *CodexAdapter) Name() string { return "codex" }

// Send sends a message to the Codex CLI and returns the final agent message.
func (c *CodexAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, c.command, c.buildArgs(msg)...)
	cmd.Dir = c.workDir

	var stdin string
	if prompt := c.prompt(msg); longPrompt(prompt) {
		stdin = prompt
	}

	stdout, _, err := runCommand(ctx, cmd, c.procMgr, stdin)
	if err != nil {
		return Response{}, fmt.Errorf("codex command failed: %w", err)
	}

	content, err := parseCodexEvents(stdout)
	if err != nil {
		return Response{}, fmt.Errorf("failed to parse codex events: %w", err)
	}

	return Response{Content: content, Model: c.model}, nil
}

// prompt returns the full prompt text. Codex has no system prompt flag, so
// the system text leads the prompt.
func (c *CodexAdapter) prompt(msg Message) string {
	if msg.System != "" {
		return msg.System + "\n\n" + msg.Content
	}
	return msg.Content
}

// buildArgs constructs the command arguments for codex CLI. A "-" prompt
// makes codex read it from stdin.
func (c *CodexAdapter) buildArgs(msg Message) []string {
	prompt := c.prompt(msg)
	if longPrompt(prompt) {
		prompt = "-"
	}

	args := []string{"exec", prompt, "--json"}

	if c.model != "" {
		args = append(args, "--model", c.model)
	}

	return append(args, c.extra...)
}

// parseCodexEvents parses newline-delimited JSON events from Codex CLI output.
// The last completed agent message wins.
func parseCodexEvents(data []byte) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var content string
	found := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var evt codexEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return "", fmt.Errorf("failed to parse event: %w", err)
		}

		switch evt.Type {
		case "TurnCompleted":
			content, found = evt.Content, true
		case "item.completed":
			if evt.Item != nil && evt.Item.Type == "agent_message" {
				content, found = evt.Item.Text, true
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("error reading events: %w", err)
	}
	if !found {
		return "", fmt.Errorf("no agent message in event stream")
	}

	return content, nil
}
