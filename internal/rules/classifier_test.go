package rules

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/BakeLens/shellgate/internal/types"
)

func classify(t *testing.T, c *Classifier, p *Policy, cmd string) Classification {
	t.Helper()
	tree, err := Parse(cmd)
	if err != nil {
		t.Fatalf("Parse(%q): %v", cmd, err)
	}
	return c.Classify(tree, p)
}

func testPolicy(t *testing.T, bash TierConfig) *Policy {
	t.Helper()
	e, err := NewTestEngine(PolicyFile{Version: 1, Bash: bash})
	if err != nil {
		t.Fatalf("NewTestEngine: %v", err)
	}
	return e.Policy("build")
}

func testClassifier(t *testing.T) (*Classifier, string, string) {
	t.Helper()
	r, root, _, outside := newTestResolver(t)
	return NewClassifier(r), root, outside
}

func tiers(c Classification) []types.Tier {
	out := make([]types.Tier, len(c.Decisions))
	for i, d := range c.Decisions {
		out[i] = d.Tier
	}
	return out
}

func TestClassify_Tiers(t *testing.T) {
	c, _, _ := testClassifier(t)
	p := testPolicy(t, TierConfig{
		Allow: StringOrArray{"echo *", "ls *", "git status *", "*"},
		Ask:   StringOrArray{"rm *"},
		Pin:   StringOrArray{"git push *"},
		Deny:  StringOrArray{"rm -rf *"},
	})

	tests := []struct {
		name     string
		cmd      string
		want     []types.Tier
		patterns []string
	}{
		{"allow only", "echo hi && ls -la", []types.Tier{types.TierAllow, types.TierAllow}, []string{"", ""}},
		{"ask", "rm notes.txt", []types.Tier{types.TierAsk}, []string{"rm notes.txt *"}},
		{"deny beats ask", "rm -rf build", []types.Tier{types.TierDeny}, []string{""}},
		{"pin", "git push origin main", []types.Tier{types.TierPin}, []string{"git push *"}},
		{"wildcard allow is lowest", "make all", []types.Tier{types.TierAllow}, []string{""}},
		{"mixed chain", "git status && git push", []types.Tier{types.TierAllow, types.TierPin}, []string{"", "git push *"}},
		{"base name reaches deny", "/bin/rm -rf x", []types.Tier{types.TierDeny}, []string{""}},
		{"dynamic head never allowed", "$EDITOR file", []types.Tier{types.TierAsk}, []string{"$EDITOR file *"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := classify(t, c, p, tt.cmd)
			if got := tiers(res); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("tiers = %v, want %v", got, tt.want)
			}
			for i, d := range res.Decisions {
				if d.Pattern != tt.patterns[i] {
					t.Errorf("decision %d pattern = %q, want %q", i, d.Pattern, tt.patterns[i])
				}
			}
		})
	}
}

func TestClassify_DefaultAsk(t *testing.T) {
	c, _, _ := testClassifier(t)
	p := testPolicy(t, TierConfig{})

	res := classify(t, c, p, "ls -la")
	if len(res.Decisions) != 1 {
		t.Fatalf("got %d decisions, want 1", len(res.Decisions))
	}
	d := res.Decisions[0]
	if d.Tier != types.TierAsk {
		t.Errorf("tier = %s, want ask", d.Tier)
	}
	if d.Pattern != "ls *" {
		t.Errorf("pattern = %q, want %q", d.Pattern, "ls *")
	}
	if d.Rule != "" {
		t.Errorf("rule = %q, want empty for the default tier", d.Rule)
	}

	// A nil policy behaves like an empty one.
	if got := c.Classify(&Tree{Invocations: []Invocation{{Head: "ls"}}}, nil); got.Decisions[0].Tier != types.TierAsk {
		t.Errorf("nil policy tier = %s, want ask", got.Decisions[0].Tier)
	}
}

func TestClassify_FlagOnlyFallback(t *testing.T) {
	c, _, _ := testClassifier(t)
	res := classify(t, c, testPolicy(t, TierConfig{}), "rm -rf")
	if res.Decisions[0].Pattern != "rm *" {
		t.Errorf("pattern = %q, want %q", res.Decisions[0].Pattern, "rm *")
	}
}

func TestClassify_Empty(t *testing.T) {
	c, _, _ := testClassifier(t)
	res := classify(t, c, testPolicy(t, TierConfig{Deny: StringOrArray{"*"}}), "   ")
	if len(res.Decisions) != 0 || len(res.ExternalPaths) != 0 {
		t.Errorf("empty command produced findings: %+v", res)
	}
	if res.Highest() != types.TierAllow {
		t.Errorf("Highest() = %s, want allow", res.Highest())
	}
}

func TestClassify_CdAlwaysAllowed(t *testing.T) {
	c, _, outside := testClassifier(t)
	p := testPolicy(t, TierConfig{Deny: StringOrArray{"cd *"}})

	res := classify(t, c, p, "cd src")
	if res.Decisions[0].Tier != types.TierAllow {
		t.Errorf("cd tier = %s, want allow", res.Decisions[0].Tier)
	}
	if len(res.ExternalPaths) != 0 {
		t.Errorf("cd inside root produced external paths %v", res.ExternalPaths)
	}

	res = classify(t, c, p, "cd "+outside)
	if res.Decisions[0].Tier != types.TierAllow {
		t.Errorf("cd tier = %s, want allow", res.Decisions[0].Tier)
	}
	if !reflect.DeepEqual(res.ExternalPaths, []string{outside}) {
		t.Errorf("ExternalPaths = %v, want [%s]", res.ExternalPaths, outside)
	}
}

func TestClassify_ExternalPaths(t *testing.T) {
	c, root, outside := testClassifier(t)
	p := testPolicy(t, TierConfig{Allow: StringOrArray{"*"}})

	tests := []struct {
		name string
		cmd  string
		want []string
	}{
		{"inside root", "rm -rf build && mkdir -p out/bin", nil},
		{"outside file", "rm -rf " + filepath.Join(outside, "x"), []string{outside}},
		{"chmod mode skipped", "chmod +x " + filepath.Join(outside, "run.sh"), []string{outside}},
		{"copy target", "cp a.txt " + filepath.Join(outside, "b.txt"), []string{outside}},
		{"deduplicated", "touch " + filepath.Join(outside, "a") + " " + filepath.Join(outside, "b"), []string{outside}},
		{"relative escape", "mv x ../y", []string{filepath.Dir(root)}},
		{"after double dash", "rm -- -weird", nil},
		{"non mutating ignored", "cat " + filepath.Join(outside, "a"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := classify(t, c, p, tt.cmd)
			if !reflect.DeepEqual(res.ExternalPaths, tt.want) {
				t.Errorf("ExternalPaths = %v, want %v", res.ExternalPaths, tt.want)
			}
		})
	}
}

func TestClassify_PolicyWorkspaces(t *testing.T) {
	c, _, outside := testClassifier(t)
	e, err := NewTestEngine(PolicyFile{
		Version:    1,
		Bash:       TierConfig{Allow: StringOrArray{"*"}},
		Workspaces: StringOrArray{outside},
	})
	if err != nil {
		t.Fatal(err)
	}
	res := classify(t, c, e.Policy("build"), "rm "+filepath.Join(outside, "f"))
	if len(res.ExternalPaths) != 0 {
		t.Errorf("workspace path reported external: %v", res.ExternalPaths)
	}
}

func TestClassify_PolicyWorkspacesResolvedOnce(t *testing.T) {
	c, _, outside := testClassifier(t)
	file := PolicyFile{
		Version:    1,
		Bash:       TierConfig{Allow: StringOrArray{"*"}},
		Workspaces: StringOrArray{outside},
	}
	e, err := NewTestEngine(file, file)
	if err != nil {
		t.Fatal(err)
	}
	p := e.Policy("build")
	if len(p.Workspaces) != 1 {
		t.Errorf("Workspaces = %q, want %s once", p.Workspaces, outside)
	}

	first := c.resolverFor(p)
	if first == c.Resolver() || first != c.resolverFor(p) {
		t.Error("policy resolver is not built once and reused")
	}
	if len(first.Workspaces()) != 1 || len(c.Resolver().Workspaces()) != 0 {
		t.Errorf("merged workspaces = %q, base = %q", first.Workspaces(), c.Resolver().Workspaces())
	}
}

func TestResolver_WithWorkspacesDedups(t *testing.T) {
	shared := evalDir(t, t.TempDir())
	r, _, _, outside := newTestResolver(t, shared)
	merged := r.WithWorkspaces([]string{shared, outside, " "})
	want := []string{shared, outside}
	if !reflect.DeepEqual(merged.Workspaces(), want) {
		t.Errorf("Workspaces() = %q, want %q", merged.Workspaces(), want)
	}
	if len(r.Workspaces()) != 1 {
		t.Errorf("base resolver changed: %q", r.Workspaces())
	}
}

func TestDerivePattern(t *testing.T) {
	tests := []struct {
		inv  Invocation
		want string
	}{
		{Invocation{Head: "ls", Args: []string{"-la"}}, "ls *"},
		{Invocation{Head: "git", Args: []string{"push", "origin"}}, "git push *"},
		{Invocation{Head: "npm"}, "npm *"},
		{Invocation{Head: "rm", Args: []string{"-rf", "--", "/etc"}}, "rm /etc *"},
	}
	for _, tt := range tests {
		if got := DerivePattern(tt.inv); got != tt.want {
			t.Errorf("DerivePattern(%v) = %q, want %q", tt.inv, got, tt.want)
		}
	}
}

func TestPolicy_IsTrusted(t *testing.T) {
	e, err := NewTestEngine(PolicyFile{Version: 1, TrustedCommands: StringOrArray{"go test *", "go vet *"}})
	if err != nil {
		t.Fatal(err)
	}
	p := e.Policy("build")

	tests := []struct {
		cmd  string
		want bool
	}{
		{"go test ./...", true},
		{"go test ./... && go vet ./...", true},
		{"go test ./... && curl x", false},
		{"", false},
	}
	for _, tt := range tests {
		tree, err := Parse(tt.cmd)
		if err != nil {
			t.Fatal(err)
		}
		if got := p.IsTrusted(tree); got != tt.want {
			t.Errorf("IsTrusted(%q) = %v, want %v", tt.cmd, got, tt.want)
		}
	}
}
