// Package routing defines the tagged outcomes of next-agent resolution and
// the first-match cascade both orchestration variants evaluate them with.
package routing

import (
	"context"

	"github.com/peerjakobsen/agentify-release/internal/domain/response"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
)

// Decision is the outcome of one resolution step: continue with a named
// agent, or complete the turn.
type Decision struct {
	Next string
}

// Continue routes the turn to the named agent.
func Continue(next string) Decision { return Decision{Next: next} }

// Complete ends the turn.
func Complete() Decision { return Decision{} }

// Done reports whether the decision ends the turn.
func (d Decision) Done() bool { return d.Next == "" }

// Handoff is an agent's own declaration of what runs next: a single target,
// or a parallel fan-out with an optional convergence agent.
type Handoff struct {
	Targets    []string
	ConvergeAt string
	Parallel   bool
}

// SingleHandoff hands the turn to one agent.
func SingleHandoff(target string) Handoff {
	return Handoff{Targets: []string{target}}
}

// ParallelHandoff fans the turn out to several agents, optionally converging
// on convergeAt afterwards.
func ParallelHandoff(targets []string, convergeAt string) Handoff {
	return Handoff{Targets: targets, ConvergeAt: convergeAt, Parallel: true}
}

// Target returns the single handoff target. Parallel handoffs address their
// members through Targets directly.
func (h Handoff) Target() string {
	if len(h.Targets) == 0 {
		return ""
	}
	return h.Targets[0]
}

// Strategy is one step of a resolution cascade. The bool reports whether the
// strategy produced a result; false falls through to the next strategy.
// Strategies receive the session and current agent explicitly, never through
// ambient state.
type Strategy[T any] func(ctx context.Context, sess *session.Context, current string, resp response.Response) (T, bool)

// FirstMatch evaluates strategies strictly in order and returns the first
// result. Strategies after the first match are not evaluated.
func FirstMatch[T any](ctx context.Context, sess *session.Context, current string, resp response.Response, strategies []Strategy[T]) (T, bool) {
	for _, s := range strategies {
		if out, ok := s(ctx, sess, current, resp); ok {
			return out, true
		}
	}
	var zero T
	return zero, false
}
