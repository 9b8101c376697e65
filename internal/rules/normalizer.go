package rules

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Resolver turns path arguments into canonical absolute paths and decides
// whether they fall outside the project root.
type Resolver struct {
	root       string
	homeDir    string
	env        map[string]string
	workspaces []string
}

// NewResolver creates a Resolver for the given project root using the
// current environment. Workspaces are directories outside the root that are
// trusted implicitly.
func NewResolver(root string, workspaces []string) *Resolver {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	env := make(map[string]string)
	for _, e := range os.Environ() {
		if key, value, ok := strings.Cut(e, "="); ok {
			env[key] = value
		}
	}
	return NewResolverWithEnv(root, homeDir, workspaces, env)
}

// NewResolverWithEnv creates a Resolver with a custom home directory and
// environment. This is useful for testing.
func NewResolverWithEnv(root, homeDir string, workspaces []string, env map[string]string) *Resolver {
	r := &Resolver{homeDir: homeDir, env: env}
	if env == nil {
		r.env = map[string]string{}
	}
	if _, ok := r.env["HOME"]; !ok && homeDir != "" {
		r.env["HOME"] = homeDir
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	r.root = resolveExisting(filepath.Clean(root))
	r.addWorkspaces(workspaces)
	return r
}

// WithWorkspaces returns a copy of r that also trusts extra. Only the new
// directories are resolved; r is unchanged.
func (r *Resolver) WithWorkspaces(extra []string) *Resolver {
	out := *r
	out.workspaces = slices.Clone(r.workspaces)
	out.addWorkspaces(extra)
	return &out
}

func (r *Resolver) addWorkspaces(workspaces []string) {
	for _, ws := range workspaces {
		if ws = strings.TrimSpace(ws); ws == "" {
			continue
		}
		if ws = r.Resolve(ws); !slices.Contains(r.workspaces, ws) {
			r.workspaces = append(r.workspaces, ws)
		}
	}
}

// Root returns the resolved project root.
func (r *Resolver) Root() string {
	return r.root
}

// Workspaces returns the resolved workspace directories.
func (r *Resolver) Workspaces() []string {
	return r.workspaces
}

// Resolve returns the canonical absolute form of a path argument:
//  1. Expand ~ and environment variables
//  2. Make relative paths absolute against the project root
//  3. Clean . and .. segments
//  4. Resolve symlinks in the longest existing prefix
func (r *Resolver) Resolve(p string) string {
	p = strings.TrimSpace(p)
	// SECURITY: syscalls truncate at NUL, so "/etc\x00x" acts on /etc.
	p = strings.ReplaceAll(p, "\x00", "")
	if p == "" {
		return r.root
	}
	p = r.expandTilde(p)
	p = r.expandEnvVars(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.root, p)
	}
	return resolveExisting(filepath.Clean(p))
}

// External returns the directory to request access for when the path
// argument lies outside the project root and every workspace. The directory
// is the path itself when it is an existing directory, its parent otherwise.
func (r *Resolver) External(arg string) (string, bool) {
	resolved := r.Resolve(arg)
	if r.Contains(resolved) {
		return "", false
	}
	dir := resolved
	if fi, err := os.Stat(resolved); err != nil || !fi.IsDir() {
		dir = filepath.Dir(resolved)
	}
	return dir, true
}

// Contains reports whether an already resolved path lies within the project
// root or a workspace.
func (r *Resolver) Contains(resolved string) bool {
	if within(r.root, resolved) {
		return true
	}
	for _, ws := range r.workspaces {
		if within(ws, resolved) {
			return true
		}
	}
	return false
}

func (r *Resolver) expandTilde(p string) string {
	if r.homeDir == "" {
		return p
	}
	if p == "~" {
		return r.homeDir
	}
	if strings.HasPrefix(p, "~/") {
		return r.homeDir + p[1:]
	}
	return p
}

// expandEnvVars expands $VAR and ${VAR}. Unknown variables become empty,
// as they would in the shell.
// SECURITY: Expansion is repeated until stable so nested references cannot
// smuggle a new ${...} past a single pass.
func (r *Resolver) expandEnvVars(p string) string {
	const maxIterations = 5
	for range maxIterations {
		prev := p
		p = os.Expand(p, func(key string) string {
			return r.env[key]
		})
		if p == prev {
			break
		}
	}
	return p
}

// resolveExisting evaluates symlinks in the longest prefix of p that exists
// and re-attaches the missing remainder. This catches "ln -s /etc x; rm x/y"
// even when x/y does not exist yet.
func resolveExisting(p string) string {
	var missing []string
	cur := p
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}

// within reports whether target equals base or is below it.
func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel))
}
