package rules

import (
	"encoding/json"
	"testing"
)

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "ls *", want: "ls *"},
		{raw: "  git   push  * ", want: "git push *"},
		{raw: "*", want: "*"},
		{raw: "pwd", want: "pwd"},
		{raw: "", wantErr: true},
		{raw: "   ", wantErr: true},
		{raw: "[invalid *", wantErr: true},
		{raw: "rm [oops", wantErr: true},
	}
	for _, tt := range tests {
		p, err := CompilePattern(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("CompilePattern(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if err == nil && p.String() != tt.want {
			t.Errorf("CompilePattern(%q).String() = %q, want %q", tt.raw, p.String(), tt.want)
		}
	}
}

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		head    string
		args    []string
		want    bool
	}{
		// trailing " *" also covers an empty tail
		{"ls *", "ls", nil, true},
		{"ls *", "ls", []string{"-la"}, true},
		{"ls *", "lsof", []string{"-i"}, false},

		// no tail: bare head only
		{"pwd", "pwd", nil, true},
		{"ls", "ls", []string{"-la"}, false},

		{"git push *", "git", []string{"push"}, true},
		{"git push *", "git", []string{"push", "origin", "main"}, true},
		{"git push *", "git", []string{"pull"}, false},
		{"git push *", "git", []string{"pushx"}, false},
		{"git *", "git", []string{"status"}, true},

		{"rm -rf *", "rm", []string{"-rf", "/etc"}, true},
		{"rm -rf *", "rm", []string{"-r", "/etc"}, false},
		{"rm -rf /", "rm", []string{"-rf", "/"}, true},
		{"rm -rf /", "rm", []string{"-rf", "/tmp"}, false},

		{"*", "anything", []string{"at", "all"}, true},
		{"*", "$CMD", nil, true},

		{"mkfs.* *", "mkfs.ext4", []string{"/dev/sda1"}, true},
		{"{npm,pnpm} install *", "pnpm", []string{"install"}, true},
		{"{npm,pnpm} install *", "yarn", []string{"install"}, false},
		{"dd * of=/dev/*", "dd", []string{"if=/dev/zero", "of=/dev/sda"}, true},

		// heads are exact; base-name handling is the policy's job
		{"rm *", "/bin/rm", []string{"x"}, false},
	}
	for _, tt := range tests {
		p := MustCompilePattern(tt.pattern)
		if got := p.Match(tt.head, tt.args); got != tt.want {
			t.Errorf("%q.Match(%q, %q) = %v, want %v", tt.pattern, tt.head, tt.args, got, tt.want)
		}
	}
}

func TestPatternCovers(t *testing.T) {
	tests := []struct {
		broad, narrow string
		want          bool
	}{
		{"rm *", "rm -rf /", true},
		{"rm *", "rm", true},
		{"rm *", "rmdir x", false},
		{"*", "ls", true},
		{"ls", "*", false},
		{"git push *", "git push --force *", true},
		{"ls", "ls *", false},
		{"g?t *", "git status", false},
		{"ls *", "ls *", true},
	}
	for _, tt := range tests {
		got := MustCompilePattern(tt.broad).Covers(MustCompilePattern(tt.narrow))
		if got != tt.want {
			t.Errorf("%q.Covers(%q) = %v, want %v", tt.broad, tt.narrow, got, tt.want)
		}
	}
}

func TestPatternMarshalJSON(t *testing.T) {
	data, err := json.Marshal(MustCompilePattern("git  push *"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"git push *"` {
		t.Errorf("json = %s", data)
	}
}

func TestMustCompilePatternPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustCompilePattern should panic on an invalid pattern")
		}
	}()
	MustCompilePattern("[")
}
