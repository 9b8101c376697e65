package rules

import (
	"github.com/BakeLens/shellgate/internal/types"
)

// Source represents the origin of a policy rule.
type Source string

// Rule sources
const (
	SourceBuiltin Source = "builtin"
	SourceUser    Source = "user"
	SourceCLI     Source = "cli"
)

// Rule assigns a tier to every invocation its pattern matches.
type Rule struct {
	Tier    types.Tier `json:"tier"`
	Pattern Pattern    `json:"pattern"`

	// Runtime fields
	Source   Source `json:"source"`
	FilePath string `json:"file_path,omitempty"`
}

// Decision is the outcome of classifying one invocation.
type Decision struct {
	Invocation Invocation `json:"-"`
	Command    string     `json:"command"`
	Tier       types.Tier `json:"tier"`
	// Pattern is what an approval is requested for (ask and pin only).
	Pattern string `json:"pattern,omitempty"`
	// Rule is the raw policy pattern that produced Tier. Empty when the
	// invocation matched nothing and fell back to the default tier.
	Rule string `json:"rule,omitempty"`
}

// Classification is the read-only analysis of one command.
type Classification struct {
	Decisions     []Decision `json:"decisions"`
	ExternalPaths []string   `json:"external_paths"`
}

// Highest returns the highest-precedence tier across all decisions, or
// allow when there are none.
func (c Classification) Highest() types.Tier {
	tier := types.TierAllow
	for _, d := range c.Decisions {
		tier = tier.Max(d.Tier)
	}
	return tier
}

// merge adds other's decisions and external paths that c does not already
// have. Two decisions are the same when command text and tier agree.
func (c Classification) merge(other Classification) Classification {
	type key struct {
		command string
		tier    types.Tier
	}
	out := Classification{
		Decisions:     append([]Decision(nil), c.Decisions...),
		ExternalPaths: append([]string(nil), c.ExternalPaths...),
	}
	seen := make(map[key]bool, len(c.Decisions))
	for _, d := range c.Decisions {
		seen[key{d.Command, d.Tier}] = true
	}
	for _, d := range other.Decisions {
		if k := (key{d.Command, d.Tier}); !seen[k] {
			seen[k] = true
			out.Decisions = append(out.Decisions, d)
		}
	}
	paths := make(map[string]bool, len(c.ExternalPaths))
	for _, p := range c.ExternalPaths {
		paths[p] = true
	}
	for _, p := range other.ExternalPaths {
		if !paths[p] {
			paths[p] = true
			out.ExternalPaths = append(out.ExternalPaths, p)
		}
	}
	return out
}

// Denied returns the deny-tier decisions in source order.
func (c Classification) Denied() []Decision {
	var out []Decision
	for _, d := range c.Decisions {
		if d.Tier == types.TierDeny {
			out = append(out, d)
		}
	}
	return out
}
