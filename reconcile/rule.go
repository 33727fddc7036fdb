// Package reconcile re-applies idempotent page edits whenever a live page
// may have changed.
//
// Three overlapping sources feed the scheduler: debounced DOM mutation
// signals, navigation signals (followed by a settle delay) and a fixed
// poll. Each trigger offers every registered Rule a chance to run; an
// exclusive rule that is still running from an earlier trigger is skipped,
// not queued. Rules are expected to converge on a goal state, so running
// them again after a partial failure is always safe.
package reconcile

import (
	"context"
	"errors"
	"net/url"
)

// ErrNoop may be returned by Apply when the page already matched the goal
// state. The run is recorded as skipped rather than applied.
var ErrNoop = errors.New("reconcile: nothing to do")

// Reason tags what caused a trigger.
type Reason string

const (
	ReasonMutation   Reason = "mutation"
	ReasonNavigation Reason = "navigation"
	ReasonPoll       Reason = "poll"
	ReasonManual     Reason = "manual" // status API
	ReasonStart      Reason = "start"  // first pass after the page is attached
)

// PageContext is the immutable view of the page handed to one invocation.
type PageContext struct {
	URL    string
	Path   string
	Epoch  uint64 // incremented on every detected navigation
	Reason Reason
}

func newPageContext(rawURL string, epoch uint64, reason Reason) PageContext {
	pc := PageContext{URL: rawURL, Epoch: epoch, Reason: reason}
	if u, err := url.Parse(rawURL); err == nil {
		pc.Path = u.Path
	}
	return pc
}

// Mode is the concurrency class of a rule.
type Mode int

const (
	// Exclusive rules have at most one invocation running at any instant.
	Exclusive Mode = iota
	// Reentrant rules may overlap with themselves.
	Reentrant
)

func (m Mode) String() string {
	if m == Reentrant {
		return "reentrant"
	}
	return "exclusive"
}

// Rule is an idempotent unit of page reconciliation.
//
// Applies must be cheap: it may read the page but must not do network I/O.
// Apply may fetch remote data and write to the page; invoking it again
// once the goal state is reached must have no further effect.
type Rule interface {
	ID() string
	Applies(ctx context.Context, pc PageContext) bool
	Apply(ctx context.Context, pc PageContext) error
}

// Expecter is implemented by rules that know when they ought to be
// applicable, e.g. on a given route. Expects is consulted right after
// Applies returned false, within the same invocation, so a rule may base
// it on what Applies just observed. The scheduler uses it to detect a rule
// whose required fields never show up.
type Expecter interface {
	Expects(pc PageContext) bool
}

type moder interface {
	Mode() Mode
}

func modeOf(r Rule) Mode {
	if m, ok := r.(moder); ok {
		return m.Mode()
	}
	return Exclusive
}

// Func builds a Rule from closures. A nil When always applies.
type Func struct {
	Name        string
	When        func(ctx context.Context, pc PageContext) bool
	Do          func(ctx context.Context, pc PageContext) error
	Concurrency Mode
}

func (f Func) ID() string { return f.Name }

func (f Func) Mode() Mode { return f.Concurrency }

func (f Func) Applies(ctx context.Context, pc PageContext) bool {
	if f.When == nil {
		return true
	}
	return f.When(ctx, pc)
}

func (f Func) Apply(ctx context.Context, pc PageContext) error {
	if f.Do == nil {
		return nil
	}
	return f.Do(ctx, pc)
}
