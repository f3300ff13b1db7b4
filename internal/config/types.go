package config

// ProviderConfig defines an oracle transport (CLI binary or API).
// Providers are separate from roles -- multiple roles can share one provider.
type ProviderConfig struct {
	Type      string   `json:"type"`                  // Backend type matching backend.Config.Type: "claude", "codex", "goose", "anthropic"
	Command   string   `json:"command,omitempty"`     // CLI binary name for subprocess backends
	Args      []string `json:"args,omitempty"`        // Extra args appended to every invocation
	Model     string   `json:"model,omitempty"`       // Default model for this provider
	APIKeyEnv string   `json:"api_key_env,omitempty"` // Env var holding the API key (anthropic)
}

// RoleConfig binds a capability role to a provider.
type RoleConfig struct {
	Provider     string `json:"provider"`                // Key into Providers map
	Model        string `json:"model,omitempty"`         // Model override
	SystemPrompt string `json:"system_prompt,omitempty"` // Role-specific system prompt
}

// EngineConfig holds the orchestration policy constants.
type EngineConfig struct {
	MaxAttempts       int      `json:"max_attempts"`
	AcceptThreshold   float64  `json:"accept_threshold"`
	Judges            int      `json:"judges"`
	MatchWeight       float64  `json:"match_weight"`
	ReputationWeight  float64  `json:"reputation_weight"`
	ReputationScale   float64  `json:"reputation_scale"`
	ShortTaskWords    int      `json:"short_task_words"`
	MediumTaskWords   int      `json:"medium_task_words"`
	MaxGraphSize      int      `json:"max_graph_size"`
	MaxExpansionDepth int      `json:"max_expansion_depth"`
	ConcurrencyLimit  int      `json:"concurrency_limit"` // 0 = unbounded
	CallTimeout       Duration `json:"call_timeout"`
}

// RetryConfig configures exponential backoff around oracle calls.
type RetryConfig struct {
	InitialInterval     Duration `json:"initial_interval"`
	MaxInterval         Duration `json:"max_interval"`
	MaxElapsedTime      Duration `json:"max_elapsed_time"`
	Multiplier          float64  `json:"multiplier"`
	RandomizationFactor float64  `json:"randomization_factor"`
	MaxRetries          int      `json:"max_retries"` // Retries after the first call; 0 disables retrying
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint,omitempty"`
	Protocol    string  `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool    `json:"insecure,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
	SampleRate  float64 `json:"sample_rate,omitempty"`
}

// TelemetryConfig groups metrics and tracing settings.
type TelemetryConfig struct {
	MetricsAddr string        `json:"metrics_addr,omitempty"` // e.g. ":9090"; empty disables the endpoint
	Tracing     TracingConfig `json:"tracing"`
}

// QuorumConfig is the top-level configuration.
type QuorumConfig struct {
	Providers   map[string]ProviderConfig `json:"providers"`
	Roles       map[string]RoleConfig     `json:"roles"`
	Engine      EngineConfig              `json:"engine"`
	Retry       RetryConfig               `json:"retry"`
	WorkersFile string                    `json:"workers_file,omitempty"`
	Telemetry   TelemetryConfig           `json:"telemetry"`
}

// Role names understood by the engine.
const (
	RoleDecomposer  = "decomposer"
	RoleWorker      = "worker"
	RoleJudge       = "judge"
	RoleSynthesizer = "synthesizer"
	RoleRanker      = "ranker"
	RoleScorer      = "scorer"
	RoleAnalyst     = "analyst"
)

// AllRoles lists every role in a stable order.
var AllRoles = []string{
	RoleDecomposer,
	RoleWorker,
	RoleJudge,
	RoleSynthesizer,
	RoleRanker,
	RoleScorer,
	RoleAnalyst,
}
