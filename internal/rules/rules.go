// Package rules holds the page rules pagekeeper reconciles. Each rule
// keeps its own state (what it already did for which customer in which
// epoch); nothing is shared between rules.
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

// Lookuper finds one row of a remote table. *sheet.Client satisfies it.
type Lookuper interface {
	Lookup(ctx context.Context, src sheet.Source, key string) (sheet.Record, bool, error)
}

// Config enables and parameterises each rule. A nil section disables the
// rule.
type Config struct {
	// Route is the path prefix rules are scoped to. Default: "/sales-orders/".
	Route string `yaml:"route"`

	BlanketPO    *BlanketPOConfig  `yaml:"blanket_po"`
	RenameLabels *RenameConfig     `yaml:"rename_labels"`
	CardOnFile   *CardOnFileConfig `yaml:"card_on_file"`
	CreditHold   *CreditHoldConfig `yaml:"credit_hold"`
	SalesRep     *SalesRepConfig   `yaml:"sales_rep"`
	Hide         *HideConfig       `yaml:"hide"`
}

// Deps are the capabilities rules are built on.
type Deps struct {
	Doc     dom.Document
	Sheets  Lookuper
	Sources map[string]sheet.Source
	Logger  *slog.Logger
}

// Build constructs the enabled rules.
func Build(cfg Config, deps Deps) ([]reconcile.Rule, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Route == "" {
		cfg.Route = "/sales-orders/"
	}
	scope := scope{route: cfg.Route}

	source := func(rule, name string) (sheet.Source, error) {
		src, ok := deps.Sources[name]
		if !ok {
			return sheet.Source{}, fmt.Errorf("rules: %s: unknown sheet %q", rule, name)
		}
		return src, nil
	}

	var out []reconcile.Rule
	if c := cfg.BlanketPO; c != nil {
		src, err := source(blanketPOID, c.Sheet)
		if err != nil {
			return nil, err
		}
		out = append(out, NewBlanketPO(*c, scope, deps.Doc, deps.Sheets, src, deps.Logger))
	}
	if c := cfg.RenameLabels; c != nil {
		out = append(out, NewRenameLabels(*c, scope, deps.Doc, deps.Logger))
	}
	if c := cfg.CardOnFile; c != nil {
		src, err := source(cardOnFileID, c.Sheet)
		if err != nil {
			return nil, err
		}
		out = append(out, NewCardOnFile(*c, scope, deps.Doc, deps.Sheets, src, deps.Logger))
	}
	if c := cfg.CreditHold; c != nil {
		src, err := source(creditHoldID, c.Sheet)
		if err != nil {
			return nil, err
		}
		out = append(out, NewCreditHold(*c, scope, deps.Doc, deps.Sheets, src, deps.Logger))
	}
	if c := cfg.SalesRep; c != nil {
		src, err := source(salesRepID, c.Sheet)
		if err != nil {
			return nil, err
		}
		out = append(out, NewSalesRep(*c, scope, deps.Doc, deps.Sheets, src, deps.Logger))
	}
	if c := cfg.Hide; c != nil {
		out = append(out, NewHide(*c, scope, deps.Doc, deps.Logger))
	}
	return out, nil
}

// scope restricts rules to the configured route.
type scope struct {
	route string
}

func (s scope) in(pc reconcile.PageContext) bool {
	return s.route == "" || strings.HasPrefix(pc.Path, s.route)
}

// epochMemo remembers per-key results for the current epoch only. A
// navigation (new epoch) forgets everything.
type epochMemo[V any] struct {
	mu    sync.Mutex
	epoch uint64
	m     map[string]V
}

func memoKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (e *epochMemo[V]) get(epoch uint64, key string) (V, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var zero V
	if e.m == nil || e.epoch != epoch {
		return zero, false
	}
	v, ok := e.m[memoKey(key)]
	return v, ok
}

func (e *epochMemo[V]) has(epoch uint64, key string) bool {
	_, ok := e.get(epoch, key)
	return ok
}

func (e *epochMemo[V]) put(epoch uint64, key string, v V) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.m != nil && epoch < e.epoch {
		return // stale invocation finishing after a navigation
	}
	if e.m == nil || e.epoch != epoch {
		e.m = make(map[string]V)
		e.epoch = epoch
	}
	e.m[memoKey(key)] = v
}

// truthy reports whether a sheet cell means yes.
func truthy(v string, yes []string) bool {
	v = strings.TrimSpace(v)
	for _, y := range yes {
		if strings.EqualFold(v, y) {
			return true
		}
	}
	return false
}

var defaultYes = []string{"yes", "y", "true", "x", "1"}

// sameKey compares two customer names the way the sheet lookup does.
func sameKey(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
