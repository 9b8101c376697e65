package permission

import (
	"context"
	"testing"

	"github.com/BakeLens/shellgate/internal/types"
)

func TestRemembering(t *testing.T) {
	rec := &recorder{replies: map[types.RequestKind]Reply{
		types.KindBash:              {Response: types.ResponseAlways},
		types.KindExternalDirectory: {Response: types.ResponseAlways},
		types.KindPin:               {Response: types.ResponseAlways, PIN: "1"},
	}}
	r := NewRemembering(rec)
	ctx := context.Background()
	ask := func(session string, kind types.RequestKind, patterns ...string) Reply {
		t.Helper()
		reply, err := r.Ask(ctx, Request{Kind: kind, Patterns: patterns, CallContext: CallContext{SessionID: session}})
		if err != nil {
			t.Fatalf("Ask: %v", err)
		}
		return reply
	}

	ask("s1", types.KindBash, "npm *")
	ask("s1", types.KindExternalDirectory, "/opt/data")
	ask("s1", types.KindPin, "sudo *")
	if len(rec.reqs) != 3 {
		t.Fatalf("first requests reached inner %d times, want 3", len(rec.reqs))
	}

	tests := []struct {
		name      string
		session   string
		kind      types.RequestKind
		patterns  []string
		wantInner bool
	}{
		{"same pattern", "s1", types.KindBash, []string{"npm *"}, false},
		{"narrower pattern", "s1", types.KindBash, []string{"npm install *"}, false},
		{"partly new", "s1", types.KindBash, []string{"npm test *", "make *"}, true},
		{"subdirectory", "s1", types.KindExternalDirectory, []string{"/opt/data/cache"}, false},
		{"sibling directory", "s1", types.KindExternalDirectory, []string{"/opt/database"}, true},
		{"pin never cached", "s1", types.KindPin, []string{"sudo *"}, true},
		{"other session", "s2", types.KindBash, []string{"npm *"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(rec.reqs)
			reply := ask(tt.session, tt.kind, tt.patterns...)
			reached := len(rec.reqs) > before
			if reached != tt.wantInner {
				t.Errorf("reached inner = %v, want %v", reached, tt.wantInner)
			}
			if !reached && reply.Response != types.ResponseOnce {
				t.Errorf("cached reply = %s, want once", reply.Response)
			}
		})
	}

	r.Forget("s1")
	before := len(rec.reqs)
	ask("s1", types.KindBash, "npm *")
	if len(rec.reqs) == before {
		t.Error("Forget should drop remembered approvals")
	}
}

func TestRemembering_OnceNotCached(t *testing.T) {
	rec := &recorder{}
	r := NewRemembering(rec)
	req := Request{Kind: types.KindBash, Patterns: []string{"ls *"}, CallContext: CallContext{SessionID: "s"}}
	for i := 0; i < 2; i++ {
		if _, err := r.Ask(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}
	if len(rec.reqs) != 2 {
		t.Errorf("once answers were cached: inner saw %d requests", len(rec.reqs))
	}
}
