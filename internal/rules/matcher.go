package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Pattern matches an invocation by head and tail. The raw form is
// "head [tail]": the head glob is matched against the program name, the tail
// glob against the arguments joined by single spaces.
//
// A tail ending in " *" also matches when nothing precedes the star, so
// "git push *" covers both "git push" and "git push origin main". A pattern
// without a tail matches only the bare head. A lone "*" matches everything.
type Pattern struct {
	raw      string
	head     glob.Glob
	tail     glob.Glob
	tailOpt  glob.Glob // tail with its trailing " *" removed
	hasTail  bool
	matchAll bool
}

// CompilePattern parses and compiles a raw pattern.
func CompilePattern(raw string) (Pattern, error) {
	raw = strings.Join(strings.Fields(raw), " ")
	if raw == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}
	p := Pattern{raw: raw}
	if raw == "*" {
		p.matchAll = true
		return p, nil
	}

	headRaw, tailRaw, hasTail := strings.Cut(raw, " ")
	h, err := glob.Compile(headRaw)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: invalid head: %w", raw, err)
	}
	p.head = h

	if hasTail {
		p.hasTail = true
		t, err := glob.Compile(tailRaw)
		if err != nil {
			return Pattern{}, fmt.Errorf("pattern %q: invalid tail: %w", raw, err)
		}
		p.tail = t
		if prefix, ok := strings.CutSuffix(tailRaw, " *"); ok {
			o, err := glob.Compile(prefix)
			if err != nil {
				return Pattern{}, fmt.Errorf("pattern %q: invalid tail: %w", raw, err)
			}
			p.tailOpt = o
		}
	}
	return p, nil
}

// MustCompilePattern is like CompilePattern but panics on error.
// Intended for tests and package-level defaults.
func MustCompilePattern(raw string) Pattern {
	p, err := CompilePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the normalized raw pattern.
func (p Pattern) String() string {
	return p.raw
}

// MarshalJSON renders the pattern as its raw string.
func (p Pattern) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.raw)
}

// Match reports whether the invocation head and args match the pattern.
func (p Pattern) Match(head string, args []string) bool {
	if p.matchAll {
		return true
	}
	if p.head == nil {
		return false
	}
	if !p.head.Match(head) {
		return false
	}
	tail := strings.Join(args, " ")
	if !p.hasTail {
		return tail == ""
	}
	if p.tail.Match(tail) {
		return true
	}
	return p.tailOpt != nil && p.tailOpt.Match(tail)
}

// MatchInvocation is Match applied to a parsed invocation.
func (p Pattern) MatchInvocation(inv Invocation) bool {
	return p.Match(inv.Head, inv.Args)
}

// Covers reports whether every invocation matched by other is also matched by
// p, as far as can be told from the raw text. It recognizes the common shapes
// used in policies: "*", "head *", and literal prefixes ending in " *".
func (p Pattern) Covers(other Pattern) bool {
	if p.matchAll {
		return true
	}
	if other.matchAll {
		return false
	}
	if p.raw == other.raw {
		return true
	}
	prefix, ok := strings.CutSuffix(p.raw, " *")
	if !ok || strings.ContainsAny(prefix, "*?[{\\") {
		return false
	}
	return other.raw == prefix || strings.HasPrefix(other.raw, prefix+" ")
}
