// Package hook connects a live tab to the reconcile scheduler. An injected
// script reports DOM mutations and history changes through a CDP runtime
// binding; main-frame navigations are read from the Page domain.
package hook

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

//go:embed hook.js
var hookJS string

// BindingName is the window function the injected script calls.
const BindingName = "__pagekeeper_binding"

// Signals receives page change notifications. *reconcile.Scheduler
// satisfies it.
type Signals interface {
	NotifyMutation()
	NotifyNavigation(url string)
}

type payload struct {
	Op  string `json:"op"`
	URL string `json:"url"`
}

// dispatch decodes one binding call and forwards it.
func dispatch(raw string, sig Signals) error {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("hook: decode payload: %w", err)
	}
	switch p.Op {
	case "mutation":
		sig.NotifyMutation()
	case "navigate":
		if p.URL == "" {
			return fmt.Errorf("hook: navigate without url")
		}
		sig.NotifyNavigation(p.URL)
	default:
		return fmt.Errorf("hook: unknown op %q", p.Op)
	}
	return nil
}

// Hook is attached to one page until its context ends or Detach is called.
type Hook struct {
	cancel  context.CancelFunc
	done    chan struct{}
	removeS func() error
}

// Attach installs the binding and script on page and forwards signals to
// sig until ctx is cancelled. The script is registered for new documents
// too, so full reloads keep reporting.
func Attach(ctx context.Context, page *rod.Page, sig Signals, logger *slog.Logger) (*Hook, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	p := page.Context(ctx)

	if err := (proto.PageEnable{}).Call(p); err != nil {
		cancel()
		return nil, fmt.Errorf("hook: page enable: %w", err)
	}
	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(p); err != nil {
		logger.Warn("hook: addBinding failed (may already exist)", "error", err)
	}
	// Registered on the unscoped page so remove still works after ctx ends.
	remove, err := page.EvalOnNewDocument(hookJS)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("hook: register script: %w", err)
	}

	h := &Hook{cancel: cancel, done: make(chan struct{}), removeS: remove}
	wait := p.EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != BindingName {
				return
			}
			if err := dispatch(e.Payload, sig); err != nil {
				logger.Warn("hook: bad binding call", "error", err)
			}
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			logger.Debug("hook: main frame navigated", "url", e.Frame.URL)
			sig.NotifyNavigation(e.Frame.URL)
		},
	)
	go func() {
		defer close(h.done)
		wait()
	}()

	// The current document predates EvalOnNewDocument.
	if _, err := p.Eval(`() => {` + hookJS + `}`); err != nil {
		h.Detach()
		return nil, fmt.Errorf("hook: inject: %w", err)
	}
	logger.Debug("hook: attached")
	return h, nil
}

// Detach stops forwarding and unregisters the new-document script.
func (h *Hook) Detach() {
	h.cancel()
	<-h.done
	if h.removeS != nil {
		h.removeS()
	}
}
