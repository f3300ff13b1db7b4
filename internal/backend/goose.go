package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GooseAdapter is a Backend implementation for the Goose CLI.
// Goose supports local LLM providers (Ollama, LM Studio, llama.cpp) via --provider and --model flags.
type GooseAdapter struct {
	command  string
	extra    []string
	workDir  string
	model    string
	provider string
	procMgr  *ProcessManager
}

// gooseResponse represents the JSON response structure from Goose CLI.
// Goose's JSON output format is less documented, so this struct is flexible.
type gooseResponse struct {
	Content string `json:"content"`
}

// NewGooseAdapter creates a new Goose adapter.
func NewGooseAdapter(cfg Config, procMgr *ProcessManager) (*GooseAdapter, error) {
	return &GooseAdapter{
		command:  cfg.command(),
		extra:    cfg.Args,
		workDir:  cfg.WorkDir,
		model:    cfg.Model,
		provider: cfg.Provider,
		procMgr:  procMgr,
	}, nil
}

// Name returns "goose".
func (g *GooseAdapter) Name() string { return "goose" }

// Send runs goose once without a persisted session.
func (g *GooseAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, g.command, g.buildArgs(msg)...)
	cmd.Dir = g.workDir

	var stdin string
	if longPrompt(msg.Content) {
		stdin = msg.Content
	}

	stdout, _, err := runCommand(ctx, cmd, g.procMgr, stdin)
	if err != nil {
		return Response{}, fmt.Errorf("goose command failed: %w", err)
	}

	content, parseErr := parseGooseResponse(stdout)
	if parseErr != nil {
		// Older goose builds ignore --output-format and print plain text
		content = strings.TrimSpace(string(stdout))
	}

	return Response{Content: content, Model: g.model}, nil
}

// buildArgs constructs the command-line arguments for the Goose CLI.
// Long prompts are read from stdin via "--instructions -".
func (g *GooseAdapter) buildArgs(msg Message) []string {
	input := []string{"--text", msg.Content}
	if longPrompt(msg.Content) {
		input = []string{"--instructions", "-"}
	}
	args := append([]string{"run"}, input...)
	args = append(args, "--no-session", "--output-format", "json")

	if g.provider != "" {
		args = append(args, "--provider", g.provider)
	}
	if g.model != "" {
		args = append(args, "--model", g.model)
	}

	if msg.System != "" {
		args = append(args, "--system", msg.System)
	}

	return append(args, g.extra...)
}

// parseGooseResponse parses the JSON response from Goose CLI.
// Tries parsing as a single JSON object first.
// If that fails, tries newline-delimited JSON (stream-json format).
func parseGooseResponse(data []byte) (string, error) {
	var gooseResp gooseResponse
	if err := json.Unmarshal(data, &gooseResp); err == nil {
		return gooseResp.Content, nil
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var contents []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var lineResp gooseResponse
		if err := json.Unmarshal([]byte(line), &lineResp); err == nil {
			if lineResp.Content != "" {
				contents = append(contents, lineResp.Content)
			}
		}
	}

	if len(contents) > 0 {
		return strings.Join(contents, "\n"), nil
	}

	return "", fmt.Errorf("failed to parse Goose JSON response")
}
