package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hazyhaar/pagekeeper/dom"
	"github.com/hazyhaar/pagekeeper/internal/sheet"
	"github.com/hazyhaar/pagekeeper/reconcile"
)

const cardOnFileID = "card-on-file"

// CardOnFileConfig controls the credit-card-on-file badge.
type CardOnFileConfig struct {
	Sheet            string   `yaml:"sheet"`
	CustomerSelector string   `yaml:"customer_selector"`
	Column           string   `yaml:"column"`
	Yes              []string `yaml:"yes"`
	OnText           string   `yaml:"on_text"`
	OffText          string   `yaml:"off_text"`
}

func (c *CardOnFileConfig) defaults() {
	if c.CustomerSelector == "" {
		c.CustomerSelector = "#so_customer input[type='text']"
	}
	if c.Column == "" {
		c.Column = "Card on File"
	}
	if len(c.Yes) == 0 {
		c.Yes = defaultYes
	}
	if c.OnText == "" {
		c.OnText = "Card on file"
	}
	if c.OffText == "" {
		c.OffText = "No card on file"
	}
}

// CardOnFile shows next to the customer field whether a card is on file.
type CardOnFile struct {
	cfg    CardOnFileConfig
	scope  scope
	doc    dom.Document
	sheets Lookuper
	src    sheet.Source
	logger *slog.Logger

	// badge text per customer for this epoch; "" means not in the sheet.
	texts epochMemo[string]

	mu         sync.Mutex
	shownFor   string
	shownEpoch uint64
}

// NewCardOnFile creates the rule.
func NewCardOnFile(cfg CardOnFileConfig, sc scope, doc dom.Document, sheets Lookuper, src sheet.Source, logger *slog.Logger) *CardOnFile {
	cfg.defaults()
	return &CardOnFile{cfg: cfg, scope: sc, doc: doc, sheets: sheets, src: src, logger: logger}
}

func (r *CardOnFile) ID() string { return cardOnFileID }

func (r *CardOnFile) badgeSelector() string {
	return fmt.Sprintf(`[%s="%s"]`, dom.AttrDecoration, cardOnFileID)
}

func (r *CardOnFile) Applies(ctx context.Context, pc reconcile.PageContext) bool {
	if !r.scope.in(pc) {
		return false
	}
	customer, err := r.doc.Value(ctx, r.cfg.CustomerSelector)
	if err != nil {
		return false
	}
	customer = strings.TrimSpace(customer)
	badge, err := r.doc.Exists(ctx, r.badgeSelector())
	if err != nil {
		return false
	}
	if customer == "" {
		return badge
	}

	r.mu.Lock()
	done := r.shownEpoch == pc.Epoch && sameKey(r.shownFor, customer)
	r.mu.Unlock()
	if !done {
		return true
	}
	// Done for this customer, unless a re-render dropped the badge.
	text, _ := r.texts.get(pc.Epoch, customer)
	return text != "" && !badge
}

func (r *CardOnFile) Apply(ctx context.Context, pc reconcile.PageContext) error {
	customer, err := r.doc.Value(ctx, r.cfg.CustomerSelector)
	if err != nil {
		return fmt.Errorf("card-on-file: read customer: %w", err)
	}
	customer = strings.TrimSpace(customer)
	if customer == "" {
		r.remember("", pc.Epoch)
		return r.doc.Undecorate(ctx, cardOnFileID)
	}

	text, ok := r.texts.get(pc.Epoch, customer)
	if !ok {
		rec, found, err := r.sheets.Lookup(ctx, r.src, customer)
		if err != nil {
			return fmt.Errorf("card-on-file: lookup %q: %w", customer, err)
		}
		if found {
			text = r.cfg.OffText
			if truthy(rec.Get(r.cfg.Column), r.cfg.Yes) {
				text = r.cfg.OnText
			}
		}
		r.texts.put(pc.Epoch, customer, text)
	}

	current, err := r.doc.Value(ctx, r.cfg.CustomerSelector)
	if err != nil {
		return fmt.Errorf("card-on-file: re-read customer: %w", err)
	}
	if !sameKey(current, customer) {
		return reconcile.ErrNoop
	}

	if text == "" {
		if err := r.doc.Undecorate(ctx, cardOnFileID); err != nil {
			return fmt.Errorf("card-on-file: undecorate: %w", err)
		}
		r.remember(customer, pc.Epoch)
		return reconcile.ErrNoop
	}
	changed, err := r.doc.Decorate(ctx, r.cfg.CustomerSelector, cardOnFileID, text)
	if err != nil {
		return fmt.Errorf("card-on-file: decorate: %w", err)
	}
	r.remember(customer, pc.Epoch)
	if !changed {
		return reconcile.ErrNoop
	}
	r.logger.Info("rules: card-on-file: badge", "customer", customer, "text", text)
	return nil
}

func (r *CardOnFile) remember(customer string, epoch uint64) {
	r.mu.Lock()
	r.shownFor = customer
	r.shownEpoch = epoch
	r.mu.Unlock()
}
