package rules

import (
	"path"
	"sync/atomic"

	"github.com/BakeLens/shellgate/internal/types"
)

// DefaultTier applies to invocations no rule matches.
const DefaultTier = types.TierAsk

// Policy is the merged policy for one agent. It is immutable once built and
// shared between concurrent requests.
type Policy struct {
	Agent      string
	Rules      []Rule
	Trusted    []Pattern
	Workspaces []string

	resolver atomic.Pointer[policyResolver]
}

// policyResolver is a classifier's resolver extended with a policy's
// workspaces, built once per policy.
type policyResolver struct {
	base, merged *Resolver
}

// NewPolicy builds a policy from compiled rules.
func NewPolicy(agent string, rules []Rule) *Policy {
	return &Policy{Agent: agent, Rules: rules}
}

// Decide resolves the tier for one invocation. Every matching rule is
// considered and the highest precedence wins (deny > pin > ask > allow). The
// returned string is the raw pattern of the winning rule, empty when nothing
// matched and the default tier applied.
func (p *Policy) Decide(inv Invocation) (types.Tier, string) {
	var (
		tier    types.Tier
		matched string
	)
	if p != nil {
		base := path.Base(inv.Head)
		for _, r := range p.Rules {
			hit := r.Pattern.MatchInvocation(inv)
			// SECURITY: "/bin/rm" must not slip past "rm *", but "./ls" is
			// not the trusted ls, so base names never satisfy allow rules.
			if !hit && r.Tier != types.TierAllow && base != inv.Head {
				hit = r.Pattern.Match(base, inv.Args)
			}
			if hit && r.Tier.Rank() > tier.Rank() {
				tier = r.Tier
				matched = r.Pattern.String()
			}
		}
	}
	if tier == "" {
		tier = DefaultTier
	}
	// A program chosen at run time cannot be vouched for statically.
	if inv.Dynamic && tier == types.TierAllow {
		tier = types.TierAsk
	}
	return tier, matched
}

// IsTrusted reports whether every invocation of the tree matches a trusted
// command pattern. Trusted commands skip the sandbox wrapper.
func (p *Policy) IsTrusted(tree *Tree) bool {
	if p == nil || len(p.Trusted) == 0 || tree.Empty() {
		return false
	}
	for _, inv := range tree.Invocations {
		if inv.Dynamic {
			return false
		}
		ok := false
		for _, t := range p.Trusted {
			if t.MatchInvocation(inv) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
