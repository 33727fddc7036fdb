// Package sink defines output backends for pagekeeper run reports.
package sink

import (
	"context"

	"github.com/hazyhaar/pagekeeper/event"
)

// Sink receives rule runs and operator notices. Implementations deliver
// them to stdout, a webhook, an in-process callback or the journal.
type Sink interface {
	Send(ctx context.Context, run event.Run) error
	SendNotice(ctx context.Context, n event.Notice) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
