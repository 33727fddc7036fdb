package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/pagekeeper/dom"
	"github.com/hazyhaar/pagekeeper/reconcile"
)

const renameID = "rename-label"

// Label is one text replacement.
type Label struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// RenameConfig lists label texts to replace.
type RenameConfig struct {
	Selector string  `yaml:"selector"`
	Labels   []Label `yaml:"labels"`
}

func (c *RenameConfig) defaults() {
	if c.Selector == "" {
		c.Selector = "p"
	}
	if len(c.Labels) == 0 {
		c.Labels = []Label{{From: "PO #", To: "Customer Notes"}}
	}
}

// RenameLabels rewrites UI labels whose exact text matches.
type RenameLabels struct {
	cfg    RenameConfig
	scope  scope
	doc    dom.Document
	logger *slog.Logger
}

// NewRenameLabels creates the rule.
func NewRenameLabels(cfg RenameConfig, sc scope, doc dom.Document, logger *slog.Logger) *RenameLabels {
	cfg.defaults()
	return &RenameLabels{cfg: cfg, scope: sc, doc: doc, logger: logger}
}

func (r *RenameLabels) ID() string { return renameID }

func (r *RenameLabels) Applies(ctx context.Context, pc reconcile.PageContext) bool {
	if !r.scope.in(pc) {
		return false
	}
	for _, l := range r.cfg.Labels {
		if n, err := r.doc.CountText(ctx, r.cfg.Selector, l.From); err == nil && n > 0 {
			return true
		}
	}
	return false
}

func (r *RenameLabels) Apply(ctx context.Context, _ reconcile.PageContext) error {
	total := 0
	for _, l := range r.cfg.Labels {
		n, err := r.doc.ReplaceText(ctx, r.cfg.Selector, l.From, l.To)
		if err != nil {
			return fmt.Errorf("rename-label: %q: %w", l.From, err)
		}
		if n > 0 {
			r.logger.Info("rules: rename-label: renamed", "from", l.From, "to", l.To, "count", n)
		}
		total += n
	}
	if total == 0 {
		return reconcile.ErrNoop
	}
	return nil
}
