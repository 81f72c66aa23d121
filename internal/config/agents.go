package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentDefinition describes one named agent or sub-agent loaded from YAML.
type AgentDefinition struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description,omitempty"`
	SystemPrompt string   `yaml:"systemPrompt"`
	Tools        []string `yaml:"tools,omitempty"`
}

// LoadAgents reads every .yaml/.yml file in dir into agent definitions keyed
// by name. A file without a name field takes its file stem as the name.
func LoadAgents(dir string) (map[string]AgentDefinition, error) {
	agents := make(map[string]AgentDefinition)
	if dir == "" {
		return agents, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return agents, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var def AgentDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse agent %s: %w", path, err)
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(entry.Name(), ext)
		}
		agents[def.Name] = def
	}
	return agents, nil
}
