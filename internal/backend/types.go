package backend

// Message is a single one-shot request to a backend.
// Every oracle call is independent: no conversation state is carried between messages.
type Message struct {
	System      string   // Role system prompt; empty means the backend default
	Content     string   // User prompt
	Temperature *float64 // Sampling temperature when the backend supports it
}

// Response represents a response from the backend.
type Response struct {
	Content string
	Model   string
}

// Config defines the configuration for a backend.
type Config struct {
	Type     string   // "claude", "codex", "goose", or "anthropic"
	Command  string   // CLI binary override; defaults to Type for CLI backends
	Args     []string // Extra CLI args appended to every invocation
	WorkDir  string
	Model    string
	Provider string // For Goose local LLMs (e.g., "ollama", "lmstudio", "llama.cpp")
	APIKey   string // anthropic only
	BaseURL  string // anthropic only; empty uses the SDK default
}

func (c Config) command() string {
	if c.Command != "" {
		return c.Command
	}
	return c.Type
}
