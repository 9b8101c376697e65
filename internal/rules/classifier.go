package rules

import (
	"path"
	"strings"

	"github.com/BakeLens/shellgate/internal/types"
)

// fsMutating lists the programs whose path arguments are checked against the
// project root.
var fsMutating = map[string]bool{
	"cd":    true,
	"rm":    true,
	"cp":    true,
	"mv":    true,
	"mkdir": true,
	"touch": true,
	"chmod": true,
	"chown": true,
}

// Classifier assigns a tier to every invocation of a parsed command and
// collects the directories outside the project root it would touch.
// Classification is read-only and never executes anything.
type Classifier struct {
	resolver *Resolver
}

// NewClassifier creates a Classifier resolving paths with r.
func NewClassifier(r *Resolver) *Classifier {
	return &Classifier{resolver: r}
}

// Resolver returns the path resolver in use.
func (c *Classifier) Resolver() *Resolver {
	return c.resolver
}

// Classify walks every invocation of tree in source order. An empty tree
// yields no decisions and no external paths.
func (c *Classifier) Classify(tree *Tree, policy *Policy) Classification {
	var (
		res  Classification
		seen = map[string]bool{}
	)
	if tree.Empty() {
		return res
	}

	resolver := c.resolverFor(policy)

	for _, inv := range tree.Invocations {
		head := path.Base(inv.Head)

		if !inv.Dynamic && fsMutating[head] {
			for _, arg := range pathArgs(head, inv.Args) {
				dir, ok := resolver.External(arg)
				if !ok || seen[dir] {
					continue
				}
				seen[dir] = true
				res.ExternalPaths = append(res.ExternalPaths, dir)
				log.Debug("external path %s (from %q)", dir, arg)
			}
		}

		d := Decision{Invocation: inv, Command: inv.Text()}
		if !inv.Dynamic && head == "cd" {
			// cd changes no state outside the shell; its target was checked above.
			d.Tier = types.TierAllow
		} else {
			d.Tier, d.Rule = policy.Decide(inv)
		}
		if d.Tier.NeedsApproval() {
			d.Pattern = DerivePattern(inv)
		}
		log.Trace("classified %q as %s (rule %q)", d.Command, d.Tier, d.Rule)
		res.Decisions = append(res.Decisions, d)
	}
	return res
}

// resolverFor returns the resolver extended with policy's workspaces. The
// result is cached on the policy, which lives as long as its snapshot.
func (c *Classifier) resolverFor(policy *Policy) *Resolver {
	if policy == nil || len(policy.Workspaces) == 0 {
		return c.resolver
	}
	if pr := policy.resolver.Load(); pr != nil && pr.base == c.resolver {
		return pr.merged
	}
	merged := c.resolver.WithWorkspaces(policy.Workspaces)
	policy.resolver.Store(&policyResolver{base: c.resolver, merged: merged})
	return merged
}

// DerivePattern builds the pattern an approval is requested for: the head
// and first non-flag argument followed by " *", or "head *" when there is no
// such argument.
func DerivePattern(inv Invocation) string {
	for _, arg := range inv.Args {
		if arg == "" || strings.HasPrefix(arg, "-") {
			continue
		}
		return inv.Head + " " + arg + " *"
	}
	return inv.Head + " *"
}

// pathArgs returns the arguments of a filesystem-mutating invocation that
// name paths: flags are skipped, as are chmod "+mode" arguments. Everything
// after "--" is a path.
func pathArgs(head string, args []string) []string {
	var (
		out      []string
		endFlags bool
	)
	for _, arg := range args {
		if arg == "" {
			continue
		}
		if !endFlags {
			if arg == "--" {
				endFlags = true
				continue
			}
			if strings.HasPrefix(arg, "-") {
				continue
			}
			if head == "chmod" && strings.HasPrefix(arg, "+") {
				continue
			}
		}
		out = append(out, arg)
	}
	return out
}
