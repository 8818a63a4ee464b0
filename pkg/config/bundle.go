package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/agentbouncr/agentbouncr/pkg/policy"
)

// PolicyBundle is the on-disk YAML shape for a policy the CLI can load with
// `policy load`, mirroring the field names of pkg/policy.Policy but in the
// snake_case a hand-written YAML file in this ecosystem actually uses.
type PolicyBundle struct {
	Name    string            `yaml:"name"`
	Version string            `yaml:"version"`
	AgentID string            `yaml:"agent_id,omitempty"`
	Rules   []PolicyBundleRule `yaml:"rules"`
}

// PolicyBundleRule is one rule entry within a PolicyBundle.
type PolicyBundleRule struct {
	Name            string         `yaml:"name,omitempty"`
	ToolPattern     string         `yaml:"tool_pattern"`
	Effect          string         `yaml:"effect"`
	Condition       policy.Condition `yaml:"condition,omitempty"`
	Reason          string         `yaml:"reason,omitempty"`
	RequireApproval bool           `yaml:"require_approval,omitempty"`
}

// ToPolicy converts the YAML bundle into the engine's runtime Policy type.
func (b *PolicyBundle) ToPolicy() *policy.Policy {
	rules := make([]policy.Rule, 0, len(b.Rules))
	for _, r := range b.Rules {
		rules = append(rules, policy.Rule{
			Name:            r.Name,
			ToolPattern:     r.ToolPattern,
			Effect:          policy.Effect(r.Effect),
			Condition:       r.Condition,
			Reason:          r.Reason,
			RequireApproval: r.RequireApproval,
		})
	}
	return &policy.Policy{
		Name:    b.Name,
		Version: b.Version,
		AgentID: b.AgentID,
		Rules:   rules,
	}
}

// LoadPolicyBundle reads and parses one policy bundle YAML file.
func LoadPolicyBundle(path string) (*policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy bundle %q: %w", path, err)
	}

	var bundle PolicyBundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse policy bundle %q: %w", path, err)
	}

	return bundle.ToPolicy(), nil
}

// AgentManifest is the on-disk YAML shape of an agent registration file,
// read by LoadAgentManifests; no CLI subcommand reads these files.
type AgentManifest struct {
	ID            string `yaml:"id"`
	TenantID      string `yaml:"tenant_id,omitempty"`
	Name          string `yaml:"name"`
	PolicyVersion string `yaml:"policy_version,omitempty"`
}

// LoadAgentManifests loads every agent_*.yaml file in a directory.
func LoadAgentManifests(dir string) ([]AgentManifest, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "agent_*.yaml"))
	if err != nil {
		return nil, err
	}

	manifests := make([]AgentManifest, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var m AgentManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
