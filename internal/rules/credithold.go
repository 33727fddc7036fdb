package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/pagekeeper/dom"
	"github.com/hazyhaar/pagekeeper/internal/sheet"
	"github.com/hazyhaar/pagekeeper/reconcile"
)

const creditHoldID = "credit-hold"

// CreditHoldConfig controls the credit hold warning.
type CreditHoldConfig struct {
	Sheet            string   `yaml:"sheet"`
	CustomerSelector string   `yaml:"customer_selector"`
	Column           string   `yaml:"column"`
	Yes              []string `yaml:"yes"`
	Title            string   `yaml:"title"`
	Body             string   `yaml:"body"` // %s receives the customer name
}

func (c *CreditHoldConfig) defaults() {
	if c.CustomerSelector == "" {
		c.CustomerSelector = "#so_customer input[type='text']"
	}
	if c.Column == "" {
		c.Column = "Credit Hold"
	}
	if len(c.Yes) == 0 {
		c.Yes = defaultYes
	}
	if c.Title == "" {
		c.Title = "Credit hold"
	}
	if c.Body == "" {
		c.Body = "%s is on credit hold. Check with accounting before confirming this order."
	}
}

// CreditHold warns once per customer per page when the customer is on
// credit hold. A dismissed warning stays dismissed until the next
// navigation.
type CreditHold struct {
	cfg    CreditHoldConfig
	scope  scope
	doc    dom.Document
	sheets Lookuper
	src    sheet.Source
	logger *slog.Logger

	checked epochMemo[bool]
}

// NewCreditHold creates the rule.
func NewCreditHold(cfg CreditHoldConfig, sc scope, doc dom.Document, sheets Lookuper, src sheet.Source, logger *slog.Logger) *CreditHold {
	cfg.defaults()
	return &CreditHold{cfg: cfg, scope: sc, doc: doc, sheets: sheets, src: src, logger: logger}
}

func (r *CreditHold) ID() string { return creditHoldID }

func noticeID(customer string) string {
	return creditHoldID + ":" + memoKey(customer)
}

func (r *CreditHold) Applies(ctx context.Context, pc reconcile.PageContext) bool {
	if !r.scope.in(pc) {
		return false
	}
	customer, err := r.doc.Value(ctx, r.cfg.CustomerSelector)
	if err != nil || strings.TrimSpace(customer) == "" {
		return false
	}
	return !r.checked.has(pc.Epoch, customer)
}

func (r *CreditHold) Apply(ctx context.Context, pc reconcile.PageContext) error {
	customer, err := r.doc.Value(ctx, r.cfg.CustomerSelector)
	if err != nil {
		return fmt.Errorf("credit-hold: read customer: %w", err)
	}
	customer = strings.TrimSpace(customer)
	if customer == "" {
		return reconcile.ErrNoop
	}

	rec, ok, err := r.sheets.Lookup(ctx, r.src, customer)
	if err != nil {
		// Not memoised: the next trigger retries.
		return fmt.Errorf("credit-hold: lookup %q: %w", customer, err)
	}
	if !ok || !truthy(rec.Get(r.cfg.Column), r.cfg.Yes) {
		r.checked.put(pc.Epoch, customer, false)
		return reconcile.ErrNoop
	}

	current, err := r.doc.Value(ctx, r.cfg.CustomerSelector)
	if err != nil {
		return fmt.Errorf("credit-hold: re-read customer: %w", err)
	}
	if !sameKey(current, customer) {
		return reconcile.ErrNoop
	}
	shown, err := r.doc.ShowNotice(ctx, noticeID(customer), r.cfg.Title, fmt.Sprintf(r.cfg.Body, customer))
	if err != nil {
		// A hold is only settled once the warning is on the page.
		return fmt.Errorf("credit-hold: notice: %w", err)
	}
	r.checked.put(pc.Epoch, customer, true)
	if !shown {
		return reconcile.ErrNoop
	}
	r.logger.Warn("rules: credit-hold: customer on hold", "customer", customer)
	return nil
}
