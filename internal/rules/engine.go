package rules

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/BakeLens/shellgate/internal/logger"
)

var log = logger.New("rules")

// LoadedPolicy is one validated policy file with its compiled rules.
type LoadedPolicy struct {
	File     PolicyFile
	Rules    []Rule
	Trusted  []Pattern
	Source   Source
	FilePath string
}

// appliesTo reports whether the file contributes to agent's policy.
func (lp LoadedPolicy) appliesTo(agent string) bool {
	return lp.File.Agent == "" || lp.File.Agent == agent
}

// EngineConfig holds engine configuration
type EngineConfig struct {
	PolicyDir      string
	DisableBuiltin bool
}

// ReloadCallback is called after policies are reloaded
type ReloadCallback func(files []LoadedPolicy)

// snapshot is an immutable view of all loaded policy files. Per-agent
// policies are merged lazily and cached for the lifetime of the snapshot.
type snapshot struct {
	files  []LoadedPolicy
	agents sync.Map // agent name -> *Policy
}

// Engine owns the policy files and hands out per-agent policies. Readers
// never block on a reload: a reload swaps in a new snapshot atomically.
type Engine struct {
	reloadMu sync.Mutex

	builtin []LoadedPolicy
	current atomic.Pointer[snapshot]

	loader *Loader

	cbMu              sync.Mutex
	onReloadCallbacks []ReloadCallback
}

// NewEngine loads the builtin policy (unless disabled) and the policy
// directory.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	e := &Engine{
		loader: NewLoader(cfg.PolicyDir),
	}

	if !cfg.DisableBuiltin {
		builtin, err := e.loader.LoadBuiltin()
		if err != nil {
			return nil, fmt.Errorf("builtin policy: %w", err)
		}
		e.builtin = builtin
		log.Debug("Loaded %d builtin policy file(s)", len(builtin))
	} else {
		log.Warn("Builtin policy disabled")
	}

	if err := e.Reload(); err != nil {
		log.Warn("Failed to load user policies: %v", err)
		e.current.Store(&snapshot{files: e.builtin})
	}
	return e, nil
}

// NewTestEngine creates an engine from in-memory policy files with no
// builtin policy and no policy directory.
func NewTestEngine(files ...PolicyFile) (*Engine, error) {
	e := &Engine{loader: NewLoader("")}
	var loaded []LoadedPolicy
	for i := range files {
		lp, err := compilePolicyFile(files[i], SourceCLI, fmt.Sprintf("test[%d]", i))
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, lp)
	}
	e.current.Store(&snapshot{files: loaded})
	return e, nil
}

// Reload re-reads the policy directory and swaps in a new snapshot. A file
// that fails to parse is skipped with a warning; the previous snapshot stays
// in place only when the directory itself cannot be read.
func (e *Engine) Reload() error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	user, err := e.loader.LoadUser()
	if err != nil {
		return err
	}

	files := make([]LoadedPolicy, 0, len(e.builtin)+len(user))
	files = append(files, e.builtin...)
	files = append(files, user...)
	e.current.Store(&snapshot{files: files})

	log.Info("Loaded %d policy file(s) (%d user)", len(files), len(user))
	e.notifyReload(files)
	return nil
}

// Policy returns the merged policy for agent. The returned value is shared
// and must not be modified. Workspaces holds only those named by policy
// files; the operator's workspaces live in the classifier's resolver.
func (e *Engine) Policy(agent string) *Policy {
	snap := e.current.Load()
	if snap == nil {
		return NewPolicy(agent, nil)
	}
	if p, ok := snap.agents.Load(agent); ok {
		return p.(*Policy)
	}

	p := &Policy{Agent: agent}
	for _, lp := range snap.files {
		if !lp.appliesTo(agent) {
			continue
		}
		p.Rules = append(p.Rules, lp.Rules...)
		p.Trusted = append(p.Trusted, lp.Trusted...)
		for _, ws := range lp.File.Workspaces {
			if !slices.Contains(p.Workspaces, ws) {
				p.Workspaces = append(p.Workspaces, ws)
			}
		}
	}
	actual, _ := snap.agents.LoadOrStore(agent, p)
	return actual.(*Policy)
}

// Files returns every loaded policy file, builtin first.
func (e *Engine) Files() []LoadedPolicy {
	snap := e.current.Load()
	if snap == nil {
		return nil
	}
	return snap.files
}

// RuleCount returns the number of compiled rules across all files.
func (e *Engine) RuleCount() int {
	n := 0
	for _, lp := range e.Files() {
		n += len(lp.Rules)
	}
	return n
}

// GetLoader returns the policy loader
func (e *Engine) GetLoader() *Loader {
	return e.loader
}

// OnReload registers a callback invoked after every successful reload.
func (e *Engine) OnReload(callback ReloadCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onReloadCallbacks = append(e.onReloadCallbacks, callback)
}

func (e *Engine) notifyReload(files []LoadedPolicy) {
	e.cbMu.Lock()
	cbs := append([]ReloadCallback(nil), e.onReloadCallbacks...)
	e.cbMu.Unlock()
	for _, cb := range cbs {
		cb(files)
	}
}

// compilePolicyFile validates f and compiles its rules and trusted commands.
func compilePolicyFile(f PolicyFile, source Source, path string) (LoadedPolicy, error) {
	if err := f.Validate(); err != nil {
		return LoadedPolicy{}, fmt.Errorf("%s: %w", path, err)
	}
	lp := LoadedPolicy{
		File:     f,
		Rules:    f.ToRules(source, path),
		Source:   source,
		FilePath: path,
	}
	for _, raw := range f.TrustedCommands {
		lp.Trusted = append(lp.Trusted, MustCompilePattern(raw))
	}
	return lp, nil
}
