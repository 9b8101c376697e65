package permission

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/BakeLens/shellgate/internal/logger"
	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/types"
)

var log = logger.New("gate")

// CallContext identifies the tool call a command belongs to.
type CallContext struct {
	SessionID string
	MessageID string
	CallID    string
}

// Request is one approval question sent to an Approver.
type Request struct {
	Kind     types.RequestKind
	Patterns []string // bash/pin patterns or external directories
	Commands []string // invocations behind the patterns, for display
	CallContext
	Description string
}

// Reply is the answer to a Request. PIN is only read for pin requests.
type Reply struct {
	Response types.Response
	Message  string
	PIN      string
}

// Approver resolves approval requests. Implementations must return promptly
// once ctx is done.
type Approver interface {
	Ask(ctx context.Context, req Request) (Reply, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req Request) (Reply, error)

// Ask calls f.
func (f ApproverFunc) Ask(ctx context.Context, req Request) (Reply, error) {
	return f(ctx, req)
}

// Gate turns a classification into approval requests and blocks until each is
// resolved.
type Gate struct {
	approver Approver
	pin      string
}

// Option configures a Gate.
type Option func(*Gate)

// WithPIN sets the secret required for pin-tier approvals.
func WithPIN(pin string) Option {
	return func(g *Gate) { g.pin = pin }
}

// NewGate creates a gate that forwards requests to approver.
func NewGate(approver Approver, opts ...Option) *Gate {
	g := &Gate{approver: approver}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PINConfigured reports whether pin-tier requests can be approved at all.
func (g *Gate) PINConfigured() bool {
	return g.pin != ""
}

// Authorize returns nil when every finding in c has been approved. Deny
// findings fail before any request is issued. Requests are issued one kind at
// a time in the order bash, pin, external_directory.
func (g *Gate) Authorize(ctx context.Context, c rules.Classification, desc string, cc CallContext) error {
	if denied := c.Denied(); len(denied) > 0 {
		err := &DeniedError{}
		for _, d := range denied {
			err.Commands = append(err.Commands, d.Command)
			err.Rules = append(err.Rules, d.Rule)
		}
		log.Info("denied %d invocation(s) in call %s", len(denied), cc.CallID)
		return err
	}

	batch := NewBatch(c)
	if batch.Empty() {
		return nil
	}
	if len(batch.Pin) > 0 && !g.PINConfigured() {
		return ErrPinNotConfigured
	}
	if g.approver == nil {
		return errors.New("no approver configured")
	}

	for _, kind := range []types.RequestKind{types.KindBash, types.KindPin, types.KindExternalDirectory} {
		patterns := batch.For(kind)
		if len(patterns) == 0 {
			continue
		}
		req := Request{
			Kind:        kind,
			Patterns:    patterns,
			CallContext: cc,
			Description: desc,
		}
		switch kind {
		case types.KindBash:
			req.Commands = batch.Commands(types.TierAsk)
		case types.KindPin:
			req.Commands = batch.Commands(types.TierPin)
		}
		if err := g.ask(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gate) ask(ctx context.Context, req Request) error {
	log.Info("requesting %s approval for %v", req.Kind, req.Patterns)

	type result struct {
		reply Reply
		err   error
	}
	ch := make(chan result, 1)
	askCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		reply, err := g.approver.Ask(askCtx, req)
		ch <- result{reply, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return fmt.Errorf("%s approval cancelled: %w", req.Kind, ctx.Err())
	}
	if res.err != nil {
		return fmt.Errorf("%s approval: %w", req.Kind, res.err)
	}

	reply := res.reply
	if !reply.Response.Approves() {
		log.Info("%s request rejected", req.Kind)
		return &RejectedError{Kind: req.Kind, Patterns: req.Patterns, Message: reply.Message}
	}
	if req.Kind == types.KindPin && subtle.ConstantTimeCompare([]byte(reply.PIN), []byte(g.pin)) != 1 {
		log.Warn("pin request answered with a wrong PIN")
		return &RejectedError{Kind: req.Kind, Patterns: req.Patterns, Message: "incorrect PIN"}
	}
	log.Debug("%s request approved (%s)", req.Kind, reply.Response)
	return nil
}
