package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/hazyhaar/pagekeeper/dom"
	"github.com/hazyhaar/pagekeeper/internal/sheet"
	"github.com/hazyhaar/pagekeeper/reconcile"
)

const blanketPOID = "blanket-po"

// BlanketPOConfig controls the blanket purchase order insertion.
type BlanketPOConfig struct {
	Sheet            string `yaml:"sheet"`
	CustomerSelector string `yaml:"customer_selector"`
	RemarksSelector  string `yaml:"remarks_selector"`
	Column           string `yaml:"column"`
	Marker           string `yaml:"marker"` // text whose presence means "already inserted"
	Format           string `yaml:"format"` // fmt verb receives the PO number
}

func (c *BlanketPOConfig) defaults() {
	if c.CustomerSelector == "" {
		c.CustomerSelector = "#so_customer input[type='text']"
	}
	if c.RemarksSelector == "" {
		c.RemarksSelector = `textarea[name="remarks"]`
	}
	if c.Column == "" {
		c.Column = "Blanket PO"
	}
	if c.Marker == "" {
		c.Marker = "BLANKET PO#"
	}
	if c.Format == "" {
		c.Format = "(BLANKET PO#:%s)"
	}
}

// BlanketPO prepends the customer's blanket PO number to the order
// remarks, once.
type BlanketPO struct {
	cfg    BlanketPOConfig
	scope  scope
	doc    dom.Document
	sheets Lookuper
	src    sheet.Source
	logger *slog.Logger

	// noPO holds customers the sheet has no PO for, this epoch.
	noPO epochMemo[struct{}]
	// fieldsMissing is what the last Applies saw; read by Expects.
	fieldsMissing atomic.Bool
}

// NewBlanketPO creates the rule.
func NewBlanketPO(cfg BlanketPOConfig, sc scope, doc dom.Document, sheets Lookuper, src sheet.Source, logger *slog.Logger) *BlanketPO {
	cfg.defaults()
	return &BlanketPO{cfg: cfg, scope: sc, doc: doc, sheets: sheets, src: src, logger: logger}
}

func (r *BlanketPO) ID() string { return blanketPOID }

// Expects reports that the order form should be on screen but was not.
func (r *BlanketPO) Expects(pc reconcile.PageContext) bool {
	return r.scope.in(pc) && r.fieldsMissing.Load()
}

func (r *BlanketPO) Applies(ctx context.Context, pc reconcile.PageContext) bool {
	r.fieldsMissing.Store(false)
	if !r.scope.in(pc) {
		return false
	}

	customer, err := r.doc.Value(ctx, r.cfg.CustomerSelector)
	if err != nil {
		r.fieldsMissing.Store(errors.Is(err, dom.ErrNotFound))
		return false
	}
	remarks, err := r.doc.Value(ctx, r.cfg.RemarksSelector)
	if err != nil {
		r.fieldsMissing.Store(errors.Is(err, dom.ErrNotFound))
		return false
	}

	customer = strings.TrimSpace(customer)
	if customer == "" || strings.Contains(remarks, r.cfg.Marker) {
		return false
	}
	return !r.noPO.has(pc.Epoch, customer)
}

func (r *BlanketPO) Apply(ctx context.Context, pc reconcile.PageContext) error {
	customer, err := r.doc.Value(ctx, r.cfg.CustomerSelector)
	if err != nil {
		return fmt.Errorf("blanket-po: read customer: %w", err)
	}
	customer = strings.TrimSpace(customer)
	if customer == "" {
		return reconcile.ErrNoop
	}

	rec, ok, err := r.sheets.Lookup(ctx, r.src, customer)
	if err != nil {
		return fmt.Errorf("blanket-po: lookup %q: %w", customer, err)
	}
	po := ""
	if ok {
		po = rec.Get(r.cfg.Column)
	}
	if po == "" {
		r.logger.Debug("rules: blanket-po: no PO for customer", "customer", customer)
		r.noPO.put(pc.Epoch, customer, struct{}{})
		return reconcile.ErrNoop
	}

	// The lookup may have taken a while: re-read both fields right before
	// writing so a customer switch or manual edit is never overwritten.
	current, err := r.doc.Value(ctx, r.cfg.CustomerSelector)
	if err != nil {
		return fmt.Errorf("blanket-po: re-read customer: %w", err)
	}
	if !sameKey(current, customer) {
		r.logger.Info("rules: blanket-po: customer changed during lookup, skipping",
			"was", customer, "now", current)
		return reconcile.ErrNoop
	}
	remarks, err := r.doc.Value(ctx, r.cfg.RemarksSelector)
	if err != nil {
		return fmt.Errorf("blanket-po: read remarks: %w", err)
	}
	if strings.Contains(remarks, r.cfg.Marker) {
		return reconcile.ErrNoop
	}

	text := fmt.Sprintf(r.cfg.Format, po)
	if remarks != "" {
		text += " " + remarks
	}
	if _, err := r.doc.SetValue(ctx, r.cfg.RemarksSelector, text); err != nil {
		return fmt.Errorf("blanket-po: write remarks: %w", err)
	}
	r.logger.Info("rules: blanket-po: inserted", "customer", customer, "po", po)
	return nil
}
