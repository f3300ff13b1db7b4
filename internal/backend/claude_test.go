package backend

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestClaudeAdapter_BuildArgs(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		msg     Message
		want    []string
		notWant []string
	}{
		{
			name:    "prompt only",
			cfg:     Config{Type: "claude", WorkDir: "/tmp"},
			msg:     Message{Content: "Hello"},
			want:    []string{"-p", "Hello", "--output-format", "json"},
			notWant: []string{"--model", "--system-prompt", "--resume"},
		},
		{
			name: "model and system prompt",
			cfg:  Config{Type: "claude", WorkDir: "/tmp", Model: "claude-opus-4-1"},
			msg:  Message{Content: "Hello", System: "You are an AI Judge."},
			want: []string{"-p", "Hello", "--output-format", "json", "--model", "claude-opus-4-1", "--system-prompt", "You are an AI Judge."},
		},
		{
			name: "extra args appended last",
			cfg:  Config{Type: "claude", WorkDir: "/tmp", Args: []string{"--max-turns", "1"}},
			msg:  Message{Content: "Hi"},
			want: []string{"-p", "Hi", "--output-format", "json", "--max-turns", "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewClaudeAdapter(tt.cfg, nil)
			if err != nil {
				t.Fatalf("NewClaudeAdapter failed: %v", err)
			}

			args := adapter.buildArgs(tt.msg)
			if !slices.Equal(args, tt.want) {
				t.Errorf("args = %q, want %q", args, tt.want)
			}
			for _, flag := range tt.notWant {
				if slices.Contains(args, flag) {
					t.Errorf("args should not contain %s: %q", flag, args)
				}
			}
		})
	}
}

func TestClaudeAdapter_DefaultsWorkDir(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{Type: "claude"}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}
	cwd, _ := os.Getwd()
	if adapter.workDir != cwd {
		t.Errorf("workDir = %q, want %q", adapter.workDir, cwd)
	}
}

func TestClaudeAdapter_ParsesJSONResponse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantContent string
		wantError   bool
	}{
		{
			name:        "string result",
			input:       `{"type": "result", "is_error": false, "result": "Hello world", "session_id": "abc"}`,
			wantContent: "Hello world",
		},
		{
			name:        "nested content blocks",
			input:       `{"session_id": "test-uuid-456", "result": {"content": [{"type": "text", "text": "Part 1"}, {"type": "text", "text": "Part 2"}]}}`,
			wantContent: "Part 1Part 2",
		},
		{
			name:        "mixed content types",
			input:       `{"result": {"content": [{"type": "text", "text": "Text"}, {"type": "image", "data": "..."}]}}`,
			wantContent: "Text",
		},
		{
			name:      "error flag set",
			input:     `{"is_error": true, "result": "rate limited"}`,
			wantError: true,
		},
		{
			name:      "invalid JSON",
			input:     `not valid json`,
			wantError: true,
		},
		{
			name:      "missing result",
			input:     `{"wrong": "structure"}`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := parseClaudeResponse([]byte(tt.input))

			if tt.wantError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if content != tt.wantContent {
				t.Errorf("Expected content %q, got %q", tt.wantContent, content)
			}
		})
	}
}

// TestClaudeAdapter_Send runs the adapter against the mock CLI end to end
func TestClaudeAdapter_Send(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	t.Setenv("MOCK_CLI_STDOUT_ALWAYS", `{"type":"result","is_error":false,"result":"{\"final_answer\": \"4\"}"}`)

	pm := NewProcessManager()
	adapter, err := NewClaudeAdapter(Config{
		Type:    "claude",
		Command: mockCLIPath(t),
		Args:    []string{"--args-file", argsFile},
	}, pm)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: "What is 2+2?", System: "Be brief."})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Content != `{"final_answer": "4"}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if pm.Count() != 0 {
		t.Errorf("Expected process to be untracked after Send, got %d tracked", pm.Count())
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("reading recorded args: %v", err)
	}
	if !strings.Contains(string(data), "What is 2+2?") || !strings.Contains(string(data), "Be brief.") {
		t.Errorf("recorded args missing prompt or system prompt:\n%s", data)
	}
}

func TestClaudeAdapter_SendPropagatesExitError(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{
		Type:    "claude",
		Command: mockCLIPath(t),
		Args:    []string{"--exit-code", "2"},
	}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	if _, err := adapter.Send(context.Background(), Message{Content: "x"}); err == nil {
		t.Fatal("Expected error from failing CLI, got nil")
	}
}

func TestClaudeAdapter_BuildArgsLongPrompt(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{Type: "claude", WorkDir: "/tmp"}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	long := strings.Repeat("a", maxArgLen+1)
	args := adapter.buildArgs(Message{Content: long})
	want := []string{"-p", "--output-format", "json"}
	if !slices.Equal(args, want) {
		t.Errorf("args = %q, want %q", args, want)
	}
}
