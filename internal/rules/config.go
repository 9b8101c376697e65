package rules

import (
	"fmt"
	"strings"

	"github.com/BakeLens/shellgate/internal/types"
	"gopkg.in/yaml.v3"
)

// PolicyFileVersion is the only policy file schema version understood.
const PolicyFileVersion = 1

// StringOrArray handles YAML fields that accept string or []string
type StringOrArray []string

func (s *StringOrArray) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if strings.TrimSpace(node.Value) == "" {
			return fmt.Errorf("empty pattern not allowed")
		}
		*s = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		var arr []string
		if err := node.Decode(&arr); err != nil {
			return err
		}
		for i, v := range arr {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("pattern[%d]: empty pattern not allowed", i)
			}
		}
		*s = arr
		return nil
	default:
		return fmt.Errorf("must be string or array, got %v", node.Kind)
	}
}

// TierConfig lists the patterns for each tier.
type TierConfig struct {
	Allow StringOrArray `yaml:"allow,omitempty" json:"allow,omitempty"`
	Ask   StringOrArray `yaml:"ask,omitempty" json:"ask,omitempty"`
	Pin   StringOrArray `yaml:"pin,omitempty" json:"pin,omitempty"`
	Deny  StringOrArray `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// Patterns returns the patterns configured for tier.
func (c TierConfig) Patterns(tier types.Tier) []string {
	switch tier {
	case types.TierAllow:
		return c.Allow
	case types.TierAsk:
		return c.Ask
	case types.TierPin:
		return c.Pin
	case types.TierDeny:
		return c.Deny
	}
	return nil
}

// PolicyFile is the YAML structure of one file in the policy directory.
//
//	version: 1
//	agent: build            # optional; omitted applies to every agent
//	bash:
//	  allow: ["ls *", "git status *"]
//	  deny: "rm -rf /*"
//	trusted_commands: ["go test *"]
//	workspaces: ["~/src/shared"]
type PolicyFile struct {
	Version         int           `yaml:"version"`
	Agent           string        `yaml:"agent,omitempty"`
	Bash            TierConfig    `yaml:"bash"`
	TrustedCommands StringOrArray `yaml:"trusted_commands,omitempty"`
	Workspaces      StringOrArray `yaml:"workspaces,omitempty"`
}

// Validate checks a policy file for semantic errors. Every pattern is
// compiled so that a broken file is rejected as a whole.
func (f *PolicyFile) Validate() error {
	if f.Version != PolicyFileVersion {
		return fmt.Errorf("unsupported version %d (expected %d)", f.Version, PolicyFileVersion)
	}
	for _, tier := range types.Tiers {
		for i, raw := range f.Bash.Patterns(tier) {
			if _, err := CompilePattern(raw); err != nil {
				return fmt.Errorf("bash.%s[%d]: %w", tier, i, err)
			}
		}
	}
	for i, raw := range f.TrustedCommands {
		if _, err := CompilePattern(raw); err != nil {
			return fmt.Errorf("trusted_commands[%d]: %w", i, err)
		}
	}
	return nil
}

// ToRules converts the file to compiled rules, tier by tier in precedence
// order. Validate must have succeeded.
func (f *PolicyFile) ToRules(source Source, path string) []Rule {
	var rules []Rule
	for _, tier := range types.Tiers {
		for _, raw := range f.Bash.Patterns(tier) {
			p, err := CompilePattern(raw)
			if err != nil {
				continue
			}
			rules = append(rules, Rule{Tier: tier, Pattern: p, Source: source, FilePath: path})
		}
	}
	return rules
}
