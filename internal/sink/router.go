package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/pagekeeper/event"
)

// Router fans out to all configured sinks. One sink error does not block
// the others: errors are logged and the first encountered is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink. Not safe to call once events are flowing.
func (r *Router) Add(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) Send(ctx context.Context, run event.Run) error {
	return r.each("run", func(s Sink) error { return s.Send(ctx, run) })
}

func (r *Router) SendNotice(ctx context.Context, n event.Notice) error {
	return r.each("notice", func(s Sink) error { return s.SendNotice(ctx, n) })
}

func (r *Router) Close() error {
	return r.each("close", Sink.Close)
}

// each calls fn for every sink, in order. A panicking sink counts as a
// failed one.
func (r *Router) each(op string, fn func(Sink) error) error {
	var firstErr error
	for i, s := range r.sinks {
		if err := guard(s, fn); err != nil {
			r.logger.Warn("sink: delivery failed", "op", op, "sink", i, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func guard(s Sink, fn func(Sink) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sink: panic: %v", p)
		}
	}()
	return fn(s)
}
