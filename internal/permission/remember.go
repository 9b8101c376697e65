package permission

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/types"
)

// Remembering wraps an Approver and records "always" answers per session.
// A later bash request whose patterns are all covered by remembered patterns,
// or an external_directory request whose paths all lie under remembered
// directories, is answered with once without reaching the inner approver.
// Pin requests always reach the inner approver.
type Remembering struct {
	inner Approver

	mu       sync.Mutex
	sessions map[string]*remembered
}

type remembered struct {
	patterns []rules.Pattern
	dirs     []string
}

// NewRemembering wraps inner.
func NewRemembering(inner Approver) *Remembering {
	return &Remembering{inner: inner, sessions: make(map[string]*remembered)}
}

// Ask implements Approver.
func (r *Remembering) Ask(ctx context.Context, req Request) (Reply, error) {
	if req.Kind != types.KindPin && r.covered(req) {
		log.Debug("session %s: %s request answered from remembered approvals", req.SessionID, req.Kind)
		return Reply{Response: types.ResponseOnce}, nil
	}
	reply, err := r.inner.Ask(ctx, req)
	if err != nil {
		return reply, err
	}
	if reply.Response == types.ResponseAlways && req.Kind != types.KindPin {
		r.remember(req)
	}
	return reply, nil
}

// Forget drops everything remembered for a session.
func (r *Remembering) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

func (r *Remembering) covered(req Request) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[req.SessionID]
	if s == nil || len(req.Patterns) == 0 {
		return false
	}
	for _, p := range req.Patterns {
		if !s.covers(req.Kind, p) {
			return false
		}
	}
	return true
}

func (s *remembered) covers(kind types.RequestKind, p string) bool {
	switch kind {
	case types.KindBash:
		want, err := rules.CompilePattern(p)
		if err != nil {
			return false
		}
		for _, have := range s.patterns {
			if have.Covers(want) {
				return true
			}
		}
	case types.KindExternalDirectory:
		for _, dir := range s.dirs {
			if underDir(dir, p) {
				return true
			}
		}
	}
	return false
}

func (r *Remembering) remember(req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[req.SessionID]
	if s == nil {
		s = &remembered{}
		r.sessions[req.SessionID] = s
	}
	for _, p := range req.Patterns {
		switch req.Kind {
		case types.KindBash:
			if compiled, err := rules.CompilePattern(p); err == nil {
				s.patterns = append(s.patterns, compiled)
			}
		case types.KindExternalDirectory:
			s.dirs = append(s.dirs, filepath.Clean(p))
		}
	}
}

func underDir(base, target string) bool {
	rel, err := filepath.Rel(base, filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
