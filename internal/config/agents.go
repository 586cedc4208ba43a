package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SubagentProfile is a named role a delegated task can run as. Profiles live
// in a YAML file next to the main config so they can be edited without
// touching provider credentials.
type SubagentProfile struct {
	Name          string   `yaml:"name"`
	SystemPrompt  string   `yaml:"systemPrompt,omitempty"`
	Provider      string   `yaml:"provider,omitempty"`
	Model         string   `yaml:"model,omitempty"`
	AllowedTools  []string `yaml:"allowedTools,omitempty"`
	DeniedTools   []string `yaml:"deniedTools,omitempty"`
	MaxIterations int      `yaml:"maxIterations,omitempty"`
}

type profilesFile struct {
	Agents []SubagentProfile `yaml:"agents"`
}

// LoadProfiles reads subagent profiles from a YAML file. A missing file is
// not an error: delegation still works with the default profile.
func LoadProfiles(path string) (map[string]SubagentProfile, error) {
	profiles := make(map[string]SubagentProfile)
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return profiles, nil
		}
		return nil, fmt.Errorf("read agent profiles %s: %w", path, err)
	}

	var pf profilesFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse agent profiles %s: %w", path, err)
	}

	for _, p := range pf.Agents {
		if p.Name == "" {
			return nil, fmt.Errorf("agent profiles %s: every agent needs a name", path)
		}
		if _, dup := profiles[p.Name]; dup {
			return nil, fmt.Errorf("agent profiles %s: duplicate agent name %q", path, p.Name)
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}
