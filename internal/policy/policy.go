// Package policy — YAML workspace policy for credential storage.
// Controls which Slack workspaces may store credentials and lets a team
// override the default credential lifetime.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TeamRule configures one workspace.
type TeamRule struct {
	ID  string        `yaml:"id"`
	TTL time.Duration `yaml:"-"` // 0 means use the default lifetime
}

// UnmarshalYAML accepts Go duration strings ("24h") for ttl.
func (r *TeamRule) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		ID  string `yaml:"id"`
		TTL string `yaml:"ttl"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	r.ID = aux.ID
	if aux.TTL != "" {
		d, err := time.ParseDuration(aux.TTL)
		if err != nil {
			return fmt.Errorf("team %s: invalid ttl %q: %w", aux.ID, aux.TTL, err)
		}
		r.TTL = d
	}
	return nil
}

// Policy is the top-level policy loaded from the policy file.
type Policy struct {
	// AllowAll admits any workspace; when false only listed teams may
	// store credentials.
	AllowAll bool `yaml:"allow_all"`

	// Teams lists per-workspace rules.
	Teams []TeamRule `yaml:"teams"`

	rules map[string]TeamRule
}

// Default returns the permissive policy used when no file is configured.
func Default() *Policy {
	return &Policy{AllowAll: true, rules: map[string]TeamRule{}}
}

// Load reads and parses the policy file.
func Load(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return Parse(raw)
}

// Parse parses policy YAML.
func Parse(raw []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}

	p.rules = make(map[string]TeamRule, len(p.Teams))
	for _, rule := range p.Teams {
		if rule.ID == "" {
			return nil, fmt.Errorf("policy team entry missing id")
		}
		if rule.TTL < 0 {
			return nil, fmt.Errorf("policy team %s: negative ttl", rule.ID)
		}
		p.rules[rule.ID] = rule
	}
	return &p, nil
}

// TeamAllowed reports whether the workspace may store credentials.
func (p *Policy) TeamAllowed(teamID string) bool {
	if p.AllowAll {
		return true
	}
	_, ok := p.rules[teamID]
	return ok
}

// TTLFor returns the credential lifetime for the workspace, falling back
// to def when no override is configured.
func (p *Policy) TTLFor(teamID string, def time.Duration) time.Duration {
	if rule, ok := p.rules[teamID]; ok && rule.TTL > 0 {
		return rule.TTL
	}
	return def
}
