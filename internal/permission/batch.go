package permission

import (
	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/types"
)

// Batch groups everything one command needs approval for. Each set is
// deduplicated; order follows first appearance.
type Batch struct {
	Ask      []string
	Pin      []string
	External []string
	// commands maps tier and pattern to the invocations that produced it.
	commands map[string][]string
}

// NewBatch collects the ask and pin patterns and the external directories of
// a classification.
func NewBatch(c rules.Classification) Batch {
	b := Batch{commands: map[string][]string{}}
	seen := map[string]bool{}
	for _, d := range c.Decisions {
		if !d.Tier.NeedsApproval() {
			continue
		}
		key := string(d.Tier) + "\x00" + d.Pattern
		b.commands[key] = appendUnique(b.commands[key], d.Command)
		if seen[key] {
			continue
		}
		seen[key] = true
		if d.Tier == types.TierPin {
			b.Pin = append(b.Pin, d.Pattern)
		} else {
			b.Ask = append(b.Ask, d.Pattern)
		}
	}
	for _, dir := range c.ExternalPaths {
		b.External = appendUnique(b.External, dir)
	}
	return b
}

// Empty reports whether nothing needs approval.
func (b Batch) Empty() bool {
	return len(b.Ask) == 0 && len(b.Pin) == 0 && len(b.External) == 0
}

// For returns the set for one request kind.
func (b Batch) For(kind types.RequestKind) []string {
	switch kind {
	case types.KindBash:
		return b.Ask
	case types.KindPin:
		return b.Pin
	case types.KindExternalDirectory:
		return b.External
	}
	return nil
}

// Commands lists the invocations behind the patterns of one tier.
func (b Batch) Commands(tier types.Tier) []string {
	var out []string
	var patterns []string
	switch tier {
	case types.TierAsk:
		patterns = b.Ask
	case types.TierPin:
		patterns = b.Pin
	}
	for _, p := range patterns {
		for _, c := range b.commands[string(tier)+"\x00"+p] {
			out = appendUnique(out, c)
		}
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
