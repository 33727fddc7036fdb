// Package pagekeeper keeps a live web application page in a desired state.
// It drives a Chrome tab, watches it for DOM mutations and client-side
// navigations, and re-runs a set of idempotent rules whenever the page may
// have changed: filling fields from a reference sheet, relabelling UI,
// badging customers, warning about credit holds.
//
// Rules never fight the operator. Each one checks the page for its goal
// state before doing anything, and per-page memos keep a value the
// operator overrode from being written back.
package pagekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/pagekeeper/dom"
	"github.com/hazyhaar/pagekeeper/event"
	"github.com/hazyhaar/pagekeeper/internal/browser"
	"github.com/hazyhaar/pagekeeper/internal/config"
	"github.com/hazyhaar/pagekeeper/internal/hook"
	"github.com/hazyhaar/pagekeeper/internal/idgen"
	"github.com/hazyhaar/pagekeeper/internal/journal"
	"github.com/hazyhaar/pagekeeper/internal/rules"
	"github.com/hazyhaar/pagekeeper/internal/sheet"
	"github.com/hazyhaar/pagekeeper/internal/sink"
	"github.com/hazyhaar/pagekeeper/internal/status"
	"github.com/hazyhaar/pagekeeper/reconcile"
)

// Keeper is the top-level orchestrator: browser, hooks, scheduler, rules,
// sinks and the status API. Create one per watched page.
type Keeper struct {
	cfg     *config.Config
	logger  *slog.Logger
	mgr     *browser.Manager
	bdoc    *browser.Document
	doc     dom.Document
	sinkR   *sink.Router
	journal *journal.Journal
	sched   *reconcile.Scheduler
	status  *status.Server

	mu     sync.Mutex
	tab    *browser.Tab
	hook   *hook.Hook
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Keeper from configuration. Extra sinks are added to the
// ones the configuration names.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) (*Keeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bdoc := browser.NewDocument(nil)
	k, err := newKeeper(cfg, logger, bdoc, sheet.New(sheet.WithLogger(logger)), sinks)
	if err != nil {
		return nil, err
	}
	k.bdoc = bdoc

	bcfg := cfg.Browser
	bcfg.Logger = logger
	k.mgr = browser.NewManager(bcfg)
	return k, nil
}

// newKeeper wires everything that does not need a browser.
func newKeeper(cfg *config.Config, logger *slog.Logger, doc dom.Document, sheets rules.Lookuper, extra []sink.Sink) (*Keeper, error) {
	k := &Keeper{cfg: cfg, logger: logger, doc: doc}

	built, j, err := buildSinks(cfg.Sinks, logger)
	if err != nil {
		return nil, err
	}
	k.journal = j
	k.sinkR = sink.NewRouter(logger, append(built, extra...)...)

	rs, err := rules.Build(cfg.Rules, rules.Deps{
		Doc:     doc,
		Sheets:  sheets,
		Sources: cfg.Sheets,
		Logger:  logger,
	})
	if err != nil {
		k.sinkR.Close()
		return nil, fmt.Errorf("pagekeeper: %w", err)
	}

	k.sched = reconcile.New(reconcile.Config{
		URL:              cfg.URL,
		DebounceWindow:   cfg.Timing.Debounce,
		DebounceMaxDelay: cfg.Timing.MaxDelay,
		SettleDelay:      cfg.Timing.Settle,
		PollInterval:     cfg.Timing.Poll,
		RuleTimeout:      cfg.Timing.RuleTimeout,
		StuckAfter:       cfg.Timing.StuckAfter,
		OnStuck:          k.onStuck,
		Reporter:         k.sinkR,
		Logger:           logger,
	})
	for _, r := range rs {
		k.sched.Register(r)
	}

	if cfg.Status.Enabled {
		var runs status.RunLister
		if j != nil {
			runs = j
		}
		k.status = status.New(status.Config{Addr: cfg.Status.Addr, Logger: logger}, k.sched, runs)
	}

	logger.Info("pagekeeper: configured", "url", cfg.URL, "rules", len(rs), "sinks", k.sinkR.Len())
	return k, nil
}

func buildSinks(cfgs []config.SinkConfig, logger *slog.Logger) ([]sink.Sink, *journal.Journal, error) {
	var (
		out []sink.Sink
		j   *journal.Journal
	)
	for _, c := range cfgs {
		switch c.Type {
		case "stdout":
			out = append(out, sink.NewStdout(nil))
		case "webhook":
			out = append(out, sink.NewWebhook(c.URL, sink.WithWebhookLogger(logger)))
		case "journal":
			jj, err := journal.Open(c.Path)
			if err != nil {
				for _, s := range out {
					s.Close()
				}
				return nil, nil, fmt.Errorf("pagekeeper: %w", err)
			}
			if j == nil {
				j = jj
			}
			out = append(out, jj)
		default:
			return nil, nil, fmt.Errorf("pagekeeper: unknown sink type %q", c.Type)
		}
	}
	return out, j, nil
}

// Scheduler exposes the scheduler, e.g. to register extra rules before
// Start.
func (k *Keeper) Scheduler() *reconcile.Scheduler { return k.sched }

// Start launches the browser, attaches to the page and starts
// reconciling. It returns once everything is running.
func (k *Keeper) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	k.mu.Lock()
	k.cancel = cancel
	k.mu.Unlock()

	if _, err := k.mgr.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("pagekeeper: start browser: %w", err)
	}
	k.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: k.detach,
		AfterRecycle: func(ctx context.Context, _ *rod.Browser) {
			if err := k.attach(ctx); err != nil {
				k.logger.Error("pagekeeper: reattach after recycle failed", "error", err)
			}
		},
	})

	if err := k.attach(ctx); err != nil {
		cancel()
		k.mgr.Close()
		return err
	}

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.sched.Run(ctx)
	}()
	k.sched.TriggerAll(ctx, reconcile.ReasonStart)

	if k.status != nil {
		k.wg.Add(1)
		go func() {
			defer k.wg.Done()
			if err := k.status.Serve(ctx); err != nil {
				k.logger.Error("pagekeeper: status server", "error", err)
			}
		}()
	}
	return nil
}

// attach opens the tab and connects it to the scheduler.
func (k *Keeper) attach(ctx context.Context) error {
	tab, err := k.mgr.OpenTab(ctx, k.cfg.URL)
	if err != nil {
		return fmt.Errorf("pagekeeper: open tab: %w", err)
	}
	h, err := hook.Attach(ctx, tab.Page, k.sched, k.logger)
	if err != nil {
		tab.Close()
		return fmt.Errorf("pagekeeper: %w", err)
	}

	k.mu.Lock()
	k.tab, k.hook = tab, h
	k.mu.Unlock()
	k.bdoc.Attach(tab.Page)

	// A fresh document is a new page as far as rules are concerned.
	if u, err := tab.CurrentURL(ctx); err == nil {
		k.sched.NotifyNavigation(u)
	}
	k.logger.Info("pagekeeper: attached", "url", k.cfg.URL)
	return nil
}

func (k *Keeper) detach() {
	k.mu.Lock()
	tab, h := k.tab, k.hook
	k.tab, k.hook = nil, nil
	k.mu.Unlock()

	if k.bdoc != nil {
		k.bdoc.Attach(nil)
	}
	if h != nil {
		h.Detach()
	}
	if tab != nil {
		tab.Close()
	}
}

// onStuck tells the operator a rule gave up on this page.
func (k *Keeper) onStuck(ctx context.Context, ruleID string, pc reconcile.PageContext) {
	n := event.Notice{
		ID:     idgen.New(),
		RuleID: ruleID,
		Title:  "pagekeeper: " + ruleID + " not applied",
		Body:   "The page never reached a state where " + ruleID + " could run. Check this order by hand.",
	}
	if _, err := k.doc.ShowNotice(ctx, "stuck:"+ruleID, n.Title, n.Body); err != nil {
		k.logger.Warn("pagekeeper: show stuck notice", "rule", ruleID, "error", err)
	}
	if err := k.sinkR.SendNotice(ctx, n); err != nil {
		k.logger.Warn("pagekeeper: report stuck notice", "rule", ruleID, "error", err)
	}
	k.logger.Warn("pagekeeper: rule stuck", "rule", ruleID, "url", pc.URL, "epoch", pc.Epoch)
}

// Stop shuts down the scheduler, the page hooks, the sinks and the browser.
func (k *Keeper) Stop() {
	k.mu.Lock()
	cancel := k.cancel
	k.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	k.wg.Wait()

	k.detach()
	k.sinkR.Close()
	if k.mgr != nil {
		k.mgr.Close()
	}
	k.logger.Info("pagekeeper: stopped")
}
