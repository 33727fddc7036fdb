package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/pagekeeper/dom"
	"github.com/hazyhaar/pagekeeper/internal/sheet"
	"github.com/hazyhaar/pagekeeper/reconcile"
)

const salesRepID = "sales-rep"

// SalesRepConfig controls the default sales rep selection.
type SalesRepConfig struct {
	Sheet            string `yaml:"sheet"`
	CustomerSelector string `yaml:"customer_selector"`
	WidgetSelector   string `yaml:"widget_selector"`
	Column           string `yaml:"column"`
}

func (c *SalesRepConfig) defaults() {
	if c.CustomerSelector == "" {
		c.CustomerSelector = "#so_customer input[type='text']"
	}
	if c.WidgetSelector == "" {
		c.WidgetSelector = `select[aria-label="Sales rep"]`
	}
	if c.Column == "" {
		c.Column = "Sales Rep"
	}
}

// SalesRep fills an empty sales rep widget with the customer's assigned
// rep. A rep the operator already picked is never replaced.
type SalesRep struct {
	cfg    SalesRepConfig
	scope  scope
	doc    dom.Document
	sheets Lookuper
	src    sheet.Source
	logger *slog.Logger

	// done holds customers handled (or unresolvable) this epoch.
	done epochMemo[struct{}]
}

// NewSalesRep creates the rule.
func NewSalesRep(cfg SalesRepConfig, sc scope, doc dom.Document, sheets Lookuper, src sheet.Source, logger *slog.Logger) *SalesRep {
	cfg.defaults()
	return &SalesRep{cfg: cfg, scope: sc, doc: doc, sheets: sheets, src: src, logger: logger}
}

func (r *SalesRep) ID() string { return salesRepID }

func (r *SalesRep) Applies(ctx context.Context, pc reconcile.PageContext) bool {
	if !r.scope.in(pc) {
		return false
	}
	customer, err := r.doc.Value(ctx, r.cfg.CustomerSelector)
	if err != nil || strings.TrimSpace(customer) == "" {
		return false
	}
	rep, err := r.doc.Value(ctx, r.cfg.WidgetSelector)
	if err != nil || strings.TrimSpace(rep) != "" {
		return false
	}
	return !r.done.has(pc.Epoch, customer)
}

func (r *SalesRep) Apply(ctx context.Context, pc reconcile.PageContext) error {
	customer, err := r.doc.Value(ctx, r.cfg.CustomerSelector)
	if err != nil {
		return fmt.Errorf("sales-rep: read customer: %w", err)
	}
	customer = strings.TrimSpace(customer)
	if customer == "" {
		return reconcile.ErrNoop
	}

	rec, ok, err := r.sheets.Lookup(ctx, r.src, customer)
	if err != nil {
		return fmt.Errorf("sales-rep: lookup %q: %w", customer, err)
	}
	rep := ""
	if ok {
		rep = strings.TrimSpace(rec.Get(r.cfg.Column))
	}
	if rep == "" {
		r.done.put(pc.Epoch, customer, struct{}{})
		return reconcile.ErrNoop
	}

	current, err := r.doc.Value(ctx, r.cfg.CustomerSelector)
	if err != nil {
		return fmt.Errorf("sales-rep: re-read customer: %w", err)
	}
	if !sameKey(current, customer) {
		return reconcile.ErrNoop
	}
	if v, err := r.doc.Value(ctx, r.cfg.WidgetSelector); err != nil || strings.TrimSpace(v) != "" {
		return reconcile.ErrNoop
	}

	changed, err := r.doc.SelectOption(ctx, r.cfg.WidgetSelector, rep)
	if errors.Is(err, dom.ErrNotFound) {
		r.logger.Warn("rules: sales-rep: rep not offered", "customer", customer, "rep", rep)
		r.done.put(pc.Epoch, customer, struct{}{})
		return reconcile.ErrNoop
	}
	if err != nil {
		return fmt.Errorf("sales-rep: select %q: %w", rep, err)
	}
	r.done.put(pc.Epoch, customer, struct{}{})
	if !changed {
		return reconcile.ErrNoop
	}
	r.logger.Info("rules: sales-rep: selected", "customer", customer, "rep", rep)
	return nil
}
