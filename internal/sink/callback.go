package sink

import (
	"context"

	"github.com/hazyhaar/pagekeeper/event"
)

// RunFunc is called for each run.
type RunFunc func(ctx context.Context, run event.Run) error

// NoticeFunc is called for each notice.
type NoticeFunc func(ctx context.Context, n event.Notice) error

// Callback delivers events as Go function calls, for embedding pagekeeper
// in another program.
type Callback struct {
	onRun    RunFunc
	onNotice NoticeFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onRun RunFunc, onNotice NoticeFunc) *Callback {
	return &Callback{onRun: onRun, onNotice: onNotice}
}

func (c *Callback) Send(ctx context.Context, run event.Run) error {
	if c.onRun != nil {
		return c.onRun(ctx, run)
	}
	return nil
}

func (c *Callback) SendNotice(ctx context.Context, n event.Notice) error {
	if c.onNotice != nil {
		return c.onNotice(ctx, n)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
