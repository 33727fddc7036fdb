package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/pagekeeper/event"
	"github.com/hazyhaar/pagekeeper/internal/idgen"
)

// Reporter receives one event per finished invocation that did something
// (applied or failed). The sink router satisfies it.
type Reporter interface {
	Send(ctx context.Context, run event.Run) error
}

// StuckFunc is called once per epoch for a rule that expected to run but
// never found the page in an applicable state.
type StuckFunc func(ctx context.Context, ruleID string, pc PageContext)

// Config controls the scheduler behaviour.
type Config struct {
	// URL is the page location before the first navigation signal.
	URL string

	// DebounceWindow coalesces a burst of mutations. Default: 300ms.
	DebounceWindow time.Duration
	// DebounceMaxDelay bounds the wait under a continuous mutation stream. Default: 2s.
	DebounceMaxDelay time.Duration
	// SettleDelay lets a new view render after navigation. Default: 800ms.
	SettleDelay time.Duration
	// PollInterval is the safety-net trigger period. Default: 3s.
	PollInterval time.Duration
	// RuleTimeout bounds a single Applies+Apply. Default: 20s.
	RuleTimeout time.Duration

	// StuckAfter is the number of consecutive misses of an Expecter rule
	// within one epoch before OnStuck fires. Default: 20.
	StuckAfter int
	OnStuck    StuckFunc

	Reporter Reporter
	IDGen    idgen.Generator
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 300 * time.Millisecond
	}
	if c.DebounceMaxDelay <= 0 {
		c.DebounceMaxDelay = 2 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 800 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.RuleTimeout <= 0 {
		c.RuleTimeout = 20 * time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 20
	}
	if c.IDGen == nil {
		c.IDGen = idgen.Default
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// entry is the scheduler's bookkeeping for one registered rule.
type entry struct {
	rule     Rule
	mode     Mode
	inflight atomic.Bool
	running  atomic.Int32

	mu          sync.Mutex
	runs        uint64
	failures    uint64
	drops       uint64
	lastOutcome event.Outcome
	lastErr     string
	lastAt      time.Time
	missEpoch   uint64
	misses      int
	stuckFired  bool
}

// Scheduler decides, each time the page may have changed, which rules run.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	rules     map[string]*entry
	epoch     uint64
	url       string
	listeners []func(PageContext)
	closed    bool
	wg        sync.WaitGroup

	mutationCh chan struct{}
	navCh      chan struct{}
}

// New creates a Scheduler. Call Run to start the trigger sources.
func New(cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg:        cfg,
		logger:     cfg.Logger,
		rules:      make(map[string]*entry),
		url:        cfg.URL,
		mutationCh: make(chan struct{}, 1),
		navCh:      make(chan struct{}, 1),
	}
}

// Register adds a rule. A rule with the same ID is replaced.
func (s *Scheduler) Register(r Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := r.ID()
	if _, ok := s.rules[id]; ok {
		s.logger.Warn("reconcile: rule already registered, replacing", "rule", id)
	}
	s.rules[id] = &entry{rule: r, mode: modeOf(r)}
}

// Unregister removes a rule. Running invocations finish normally.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	delete(s.rules, id)
	s.mu.Unlock()
}

// OnNavigate registers fn to run synchronously on every navigation, after
// the epoch has been incremented. Used to drop URL-scoped caches.
func (s *Scheduler) OnNavigate(fn func(PageContext)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Location returns the current page context.
func (s *Scheduler) Location() PageContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newPageContext(s.url, s.epoch, "")
}

// NotifyMutation signals that the DOM changed. Never blocks.
func (s *Scheduler) NotifyMutation() {
	select {
	case s.mutationCh <- struct{}{}:
	default:
		// A signal is already pending; the debouncer restarts on it anyway.
	}
}

// NotifyNavigation signals that the visible URL changed without a full
// reload (or with one). The epoch moves forward immediately; rules are
// triggered once the settle delay has passed.
func (s *Scheduler) NotifyNavigation(newURL string) {
	s.mu.Lock()
	s.epoch++
	if newURL != "" {
		s.url = newURL
	}
	pc := newPageContext(s.url, s.epoch, ReasonNavigation)
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.logger.Info("reconcile: navigation", "url", pc.URL, "epoch", pc.Epoch)
	for _, fn := range listeners {
		fn(pc)
	}

	select {
	case s.navCh <- struct{}{}:
	default:
	}
}

// TriggerAll offers every registered rule a chance to run. It returns
// once the invocations are started; use Wait to block until they settle.
func (s *Scheduler) TriggerAll(ctx context.Context, reason Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	pc := newPageContext(s.url, s.epoch, reason)
	for _, e := range s.rules {
		if e.mode == Exclusive && !e.inflight.CompareAndSwap(false, true) {
			e.mu.Lock()
			e.drops++
			e.mu.Unlock()
			s.logger.Debug("reconcile: rule in flight, trigger dropped",
				"rule", e.rule.ID(), "reason", reason)
			continue
		}
		s.wg.Add(1)
		go s.invoke(ctx, e, pc)
	}
}

// Wait blocks until every invocation started so far has settled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Run drives the mutation, navigation and poll sources. Blocks until ctx
// is cancelled, then waits for running invocations.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("reconcile: started",
		"debounce", s.cfg.DebounceWindow,
		"settle", s.cfg.SettleDelay,
		"poll", s.cfg.PollInterval)

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	deb := newDebouncer(s.cfg.DebounceWindow, s.cfg.DebounceMaxDelay)
	defer deb.stop()

	settle := time.NewTimer(s.cfg.SettleDelay)
	settle.Stop()
	defer settle.Stop()
	var settleC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			s.wg.Wait()
			s.logger.Info("reconcile: stopped")
			return

		case <-s.mutationCh:
			deb.add(time.Now())

		case <-deb.timerC():
			if deb.fire() {
				s.TriggerAll(ctx, ReasonMutation)
			}

		case <-s.navCh:
			// Latest navigation wins: restart the settle window.
			settle.Reset(s.cfg.SettleDelay)
			settleC = settle.C

		case <-settleC:
			settleC = nil
			s.TriggerAll(ctx, ReasonNavigation)

		case <-poll.C:
			s.TriggerAll(ctx, ReasonPoll)
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context, e *entry, pc PageContext) {
	defer s.wg.Done()
	if e.mode == Exclusive {
		defer e.inflight.Store(false)
	}
	e.running.Add(1)
	defer e.running.Add(-1)

	start := time.Now()
	outcome, err := s.run(ctx, e, pc)
	s.record(ctx, e, pc, outcome, err, start)
}

// run evaluates and applies one rule. Panics are converted to failures so
// nothing escapes to the caller.
func (s *Scheduler) run(ctx context.Context, e *entry, pc PageContext) (outcome event.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = event.OutcomeFailed
			err = fmt.Errorf("reconcile: rule %s panicked: %v", e.rule.ID(), r)
		}
	}()

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RuleTimeout)
	defer cancel()

	if !e.rule.Applies(rctx, pc) {
		s.noteMiss(rctx, e, pc)
		return event.OutcomeSkipped, nil
	}
	s.noteHit(e, pc)

	if err := e.rule.Apply(rctx, pc); err != nil {
		if errors.Is(err, ErrNoop) {
			return event.OutcomeSkipped, nil
		}
		return event.OutcomeFailed, err
	}
	return event.OutcomeApplied, nil
}

func (s *Scheduler) noteHit(e *entry, pc PageContext) {
	e.mu.Lock()
	if e.missEpoch == pc.Epoch {
		e.misses = 0
	}
	e.mu.Unlock()
}

func (s *Scheduler) noteMiss(ctx context.Context, e *entry, pc PageContext) {
	exp, ok := e.rule.(Expecter)
	if !ok || !exp.Expects(pc) {
		return
	}

	e.mu.Lock()
	if e.missEpoch != pc.Epoch {
		e.missEpoch = pc.Epoch
		e.misses = 0
		e.stuckFired = false
	}
	e.misses++
	fire := e.misses >= s.cfg.StuckAfter && !e.stuckFired
	if fire {
		e.stuckFired = true
	}
	misses := e.misses
	e.mu.Unlock()

	if fire {
		s.logger.Warn("reconcile: rule expected but never applicable",
			"rule", e.rule.ID(), "epoch", pc.Epoch, "misses", misses)
		if s.cfg.OnStuck != nil {
			s.cfg.OnStuck(ctx, e.rule.ID(), pc)
		}
	}
}

func (s *Scheduler) record(ctx context.Context, e *entry, pc PageContext, outcome event.Outcome, err error, start time.Time) {
	run := event.Run{
		ID:        s.cfg.IDGen(),
		RuleID:    e.rule.ID(),
		Reason:    string(pc.Reason),
		Epoch:     pc.Epoch,
		URL:       pc.URL,
		Outcome:   outcome,
		StartedAt: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		run.Error = err.Error()
	}

	e.mu.Lock()
	e.runs++
	if outcome == event.OutcomeFailed {
		e.failures++
	}
	e.lastOutcome = outcome
	e.lastErr = run.Error
	e.lastAt = start
	e.mu.Unlock()

	switch outcome {
	case event.OutcomeSkipped:
		s.logger.Debug("reconcile: rule not applicable", "rule", run.RuleID, "reason", run.Reason)
		return
	case event.OutcomeFailed:
		s.logger.Warn("reconcile: rule failed",
			"rule", run.RuleID, "reason", run.Reason, "epoch", run.Epoch, "error", err)
	default:
		s.logger.Info("reconcile: rule applied",
			"rule", run.RuleID, "reason", run.Reason, "duration", run.Duration)
	}

	if s.cfg.Reporter != nil {
		if err := s.cfg.Reporter.Send(ctx, run); err != nil {
			s.logger.Warn("reconcile: report run failed", "rule", run.RuleID, "error", err)
		}
	}
}

// RuleStatus is the externally visible state of one rule.
type RuleStatus struct {
	ID          string        `json:"id"`
	Mode        string        `json:"mode"`
	InFlight    bool          `json:"in_flight"`
	Runs        uint64        `json:"runs"`
	Failures    uint64        `json:"failures"`
	Drops       uint64        `json:"drops"`
	LastOutcome event.Outcome `json:"last_outcome,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	LastRunAt   time.Time     `json:"last_run_at,omitzero"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	URL   string       `json:"url"`
	Epoch uint64       `json:"epoch"`
	Rules []RuleStatus `json:"rules"`
}

// Snapshot returns the current status, rules sorted by ID.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	st := Status{URL: s.url, Epoch: s.epoch}
	entries := make([]*entry, 0, len(s.rules))
	for _, e := range s.rules {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		st.Rules = append(st.Rules, RuleStatus{
			ID:          e.rule.ID(),
			Mode:        e.mode.String(),
			InFlight:    e.running.Load() > 0,
			Runs:        e.runs,
			Failures:    e.failures,
			Drops:       e.drops,
			LastOutcome: e.lastOutcome,
			LastError:   e.lastErr,
			LastRunAt:   e.lastAt,
		})
		e.mu.Unlock()
	}
	sort.Slice(st.Rules, func(i, j int) bool { return st.Rules[i].ID < st.Rules[j].ID })
	return st
}
