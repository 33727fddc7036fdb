package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/pagekeeper/dom"
	"github.com/hazyhaar/pagekeeper/reconcile"
)

const hideID = "hide-elements"

// HideConfig lists elements to keep hidden.
type HideConfig struct {
	Selectors []string `yaml:"selectors"`
}

// Hide keeps the configured elements out of sight.
type Hide struct {
	cfg    HideConfig
	scope  scope
	doc    dom.Document
	logger *slog.Logger
}

// NewHide creates the rule.
func NewHide(cfg HideConfig, sc scope, doc dom.Document, logger *slog.Logger) *Hide {
	return &Hide{cfg: cfg, scope: sc, doc: doc, logger: logger}
}

func (r *Hide) ID() string { return hideID }

func (r *Hide) Applies(ctx context.Context, pc reconcile.PageContext) bool {
	if !r.scope.in(pc) {
		return false
	}
	for _, sel := range r.cfg.Selectors {
		if ok, err := r.doc.Exists(ctx, visible(sel)); err == nil && ok {
			return true
		}
	}
	return false
}

// visible narrows every group of a selector list to elements that are
// not hidden yet.
func visible(sel string) string {
	var groups []string
	depth, start := 0, 0
	var quote rune
	for i, c := range sel {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
		case c == ',' && depth == 0:
			groups = append(groups, sel[start:i])
			start = i + 1
		}
	}
	groups = append(groups, sel[start:])

	out := groups[:0]
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g+":not([hidden])")
		}
	}
	return strings.Join(out, ", ")
}

func (r *Hide) Apply(ctx context.Context, _ reconcile.PageContext) error {
	total := 0
	for _, sel := range r.cfg.Selectors {
		n, err := r.doc.SetHidden(ctx, sel, true)
		if err != nil {
			return fmt.Errorf("hide-elements: %q: %w", sel, err)
		}
		total += n
	}
	if total == 0 {
		return reconcile.ErrNoop
	}
	r.logger.Info("rules: hide-elements: hidden", "count", total)
	return nil
}
