package config

import "time"

// DefaultConfig returns the default configuration with built-in providers, roles and policy.
func DefaultConfig() *QuorumConfig {
	return &QuorumConfig{
		Providers: map[string]ProviderConfig{
			"claude": {
				Type:    "claude",
				Command: "claude",
			},
			"codex": {
				Type:    "codex",
				Command: "codex",
			},
			"goose": {
				Type:    "goose",
				Command: "goose",
			},
			"anthropic": {
				Type:      "anthropic",
				Model:     "claude-sonnet-4-5",
				APIKeyEnv: "ANTHROPIC_API_KEY",
			},
		},
		Roles: map[string]RoleConfig{
			RoleDecomposer: {
				Provider:     "claude",
				SystemPrompt: "You are an expert in task decomposition.",
			},
			RoleWorker: {
				Provider: "claude",
			},
			RoleJudge: {
				Provider:     "claude",
				SystemPrompt: "You are an AI Judge.",
			},
			RoleSynthesizer: {
				Provider:     "claude",
				SystemPrompt: "You are an expert synthesizer.",
			},
			RoleRanker: {
				Provider:     "claude",
				SystemPrompt: "You are an expert in AI agent task delegation.",
			},
			RoleScorer: {
				Provider:     "claude",
				SystemPrompt: "You are an expert evaluator of task-agent compatibility.",
			},
			RoleAnalyst: {
				Provider:     "claude",
				SystemPrompt: "You are an expert analyst for additional task identification.",
			},
		},
		Engine: EngineConfig{
			MaxAttempts:       3,
			AcceptThreshold:   7.0,
			Judges:            7,
			MatchWeight:       0.7,
			ReputationWeight:  0.3,
			ReputationScale:   100,
			ShortTaskWords:    20,
			MediumTaskWords:   40,
			MaxGraphSize:      64,
			MaxExpansionDepth: 3,
			ConcurrencyLimit:  0,
			CallTimeout:       Duration(120 * time.Second),
		},
		Retry: RetryConfig{
			InitialInterval:     Duration(500 * time.Millisecond),
			MaxInterval:         Duration(10 * time.Second),
			MaxElapsedTime:      Duration(1 * time.Minute),
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
			MaxRetries:          3,
		},
		WorkersFile: "workers.yaml",
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				ServiceName: "quorum",
				SampleRate:  1.0,
			},
		},
	}
}
