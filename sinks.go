package pagekeeper

import (
	"io"
	"log/slog"

	"github.com/hazyhaar/pagekeeper/internal/journal"
	"github.com/hazyhaar/pagekeeper/internal/sink"
)

// Sink is the output interface for run reports and notices.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// RunFunc is called for each run.
type RunFunc = sink.RunFunc

// NoticeFunc is called for each notice.
type NoticeFunc = sink.NoticeFunc

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(onRun RunFunc, onNotice NoticeFunc) Sink {
	return sink.NewCallback(onRun, onNotice)
}

// Journal is the SQLite run history.
type Journal = journal.Journal

// OpenJournal opens (creating if needed) a run journal.
func OpenJournal(path string) (*Journal, error) {
	return journal.Open(path)
}
