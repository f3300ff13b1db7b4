package oracle

import (
	"fmt"
	"os"

	"github.com/aristath/quorum/internal/backend"
	"github.com/aristath/quorum/internal/config"
)

// BuildBindings constructs one backend per configured role.
// A role's model overrides its provider's model. API keys are read from the
// environment variable named by the provider's api_key_env.
func BuildBindings(cfg *config.QuorumConfig, pm *backend.ProcessManager) (map[string]Binding, error) {
	bindings := make(map[string]Binding, len(cfg.Roles))

	for role, rc := range cfg.Roles {
		pc, ok := cfg.Providers[rc.Provider]
		if !ok {
			return nil, fmt.Errorf("role %q: unknown provider %q", role, rc.Provider)
		}

		bc := backend.Config{
			Type:    pc.Type,
			Command: pc.Command,
			Args:    pc.Args,
			Model:   pc.Model,
		}
		if rc.Model != "" {
			bc.Model = rc.Model
		}
		if pc.APIKeyEnv != "" {
			bc.APIKey = os.Getenv(pc.APIKeyEnv)
		}

		b, err := backend.New(bc, pm)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", role, err)
		}

		bindings[role] = Binding{
			Backend:  b,
			Provider: rc.Provider,
			System:   rc.SystemPrompt,
		}
	}

	return bindings, nil
}
