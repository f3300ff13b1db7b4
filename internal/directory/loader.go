package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// profileFile is the on-disk shape of a worker profile. The name/description/
// reputation_score keys are accepted as aliases so existing execution node
// lists load unchanged.
type profileFile struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	Capability      string   `json:"capability" yaml:"capability"`
	Description     string   `json:"description" yaml:"description"`
	Reputation      *float64 `json:"reputation" yaml:"reputation"`
	ReputationScore *float64 `json:"reputation_score" yaml:"reputation_score"`
}

func (p profileFile) toProfile() WorkerProfile {
	out := WorkerProfile{
		ID:             p.ID,
		CapabilityText: p.Capability,
	}
	if out.ID == "" {
		out.ID = p.Name
	}
	if out.CapabilityText == "" {
		out.CapabilityText = p.Description
	}
	switch {
	case p.Reputation != nil:
		out.Reputation = *p.Reputation
	case p.ReputationScore != nil:
		out.Reputation = *p.ReputationScore
	}
	return out
}

// Load reads a worker profile list from a YAML (.yaml/.yml) or JSON file.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	profiles, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return New(profiles)
}

// Parse decodes a profile list. ext selects the format (".json", ".yaml",
// ".yml"); anything else is tried as YAML, which also accepts JSON.
func Parse(data []byte, ext string) ([]WorkerProfile, error) {
	var raw []profileFile

	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}

	profiles := make([]WorkerProfile, 0, len(raw))
	for _, p := range raw {
		profiles = append(profiles, p.toProfile())
	}
	return profiles, nil
}
