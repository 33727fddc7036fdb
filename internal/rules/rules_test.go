package rules

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hazyhaar/pagekeeper/internal/domtest"
	"github.com/hazyhaar/pagekeeper/internal/idgen"
	"github.com/hazyhaar/pagekeeper/internal/sheet"
	"github.com/hazyhaar/pagekeeper/reconcile"
)

const orderPage = `<!doctype html>
<html><body>
<div id="so_customer">
  <p>Customer</p>
  <input type="text" value="Acme">
</div>
<div class="field">
  <p>PO #</p>
  <textarea name="remarks"></textarea>
</div>
<select aria-label="Sales rep">
  <option value="">Unassigned</option>
  <option value="u1">Dana Smith</option>
</select>
<button class="danger">Delete order</button>
</body></html>`

const (
	customerSel = "#so_customer input[type='text']"
	remarksSel  = `textarea[name="remarks"]`
)

type fakeSheet struct {
	mu    sync.Mutex
	rows  map[string]sheet.Record
	err   error
	calls atomic.Int32
}

func (f *fakeSheet) Lookup(_ context.Context, _ sheet.Source, key string) (sheet.Record, bool, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	rec, ok := f.rows[strings.ToLower(strings.TrimSpace(key))]
	return rec, ok, nil
}

func (f *fakeSheet) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newFakeSheet() *fakeSheet {
	return &fakeSheet{rows: map[string]sheet.Record{
		"acme": {
			"Customer":     "Acme",
			"Blanket PO":   "12345",
			"Card on File": "Yes",
			"Credit Hold":  "x",
			"Sales Rep":    "Dana Smith",
		},
		"globex": {
			"Customer":     "Globex",
			"Blanket PO":   "",
			"Card on File": "no",
			"Sales Rep":    "Hank Scorpio",
		},
	}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var orders = scope{route: "/sales-orders/"}

func pageAt(path string, epoch uint64) reconcile.PageContext {
	return reconcile.PageContext{
		URL:    "https://app.inflowinventory.com" + path,
		Path:   path,
		Epoch:  epoch,
		Reason: reconcile.ReasonManual,
	}
}

// step runs one reconciliation of r the way the scheduler does.
func step(t *testing.T, r reconcile.Rule, pc reconcile.PageContext) (ran bool, err error) {
	t.Helper()
	ctx := context.Background()
	if !r.Applies(ctx, pc) {
		return false, nil
	}
	err = r.Apply(ctx, pc)
	if errors.Is(err, reconcile.ErrNoop) {
		err = nil
	}
	return true, err
}

func TestBlanketPOInsertedOnce(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	sh := newFakeSheet()
	rule := NewBlanketPO(BlanketPOConfig{}, orders, doc, sh, sheet.Source{}, quietLogger())

	s := reconcile.New(reconcile.Config{
		URL:    "https://app.inflowinventory.com/sales-orders/1",
		IDGen:  idgen.Sequence("run"),
		Logger: quietLogger(),
	})
	s.Register(rule)

	ctx := context.Background()
	for range 3 {
		s.TriggerAll(ctx, reconcile.ReasonMutation)
		s.Wait()
	}

	got, _ := doc.Value(ctx, remarksSel)
	if got != "(BLANKET PO#:12345)" {
		t.Errorf("remarks: got %q, want %q", got, "(BLANKET PO#:12345)")
	}
	if n := strings.Count(got, "BLANKET PO#"); n != 1 {
		t.Errorf("marker count: got %d, want 1", n)
	}
	if doc.Writes() != 1 {
		t.Errorf("writes: got %d, want 1", doc.Writes())
	}
	if c := sh.calls.Load(); c != 1 {
		t.Errorf("lookups: got %d, want 1", c)
	}
}

func TestBlanketPOKeepsExistingRemarks(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	if err := doc.SetInput(remarksSel, "Ship Tuesday"); err != nil {
		t.Fatal(err)
	}
	rule := NewBlanketPO(BlanketPOConfig{}, orders, doc, newFakeSheet(), sheet.Source{}, quietLogger())

	if _, err := step(t, rule, pageAt("/sales-orders/1", 0)); err != nil {
		t.Fatal(err)
	}
	got, _ := doc.Value(context.Background(), remarksSel)
	if want := "(BLANKET PO#:12345) Ship Tuesday"; got != want {
		t.Errorf("remarks: got %q, want %q", got, want)
	}
}

func TestBlanketPOFailsOpen(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	sh := newFakeSheet()
	sh.setErr(errors.New("connection reset"))
	rule := NewBlanketPO(BlanketPOConfig{}, orders, doc, sh, sheet.Source{}, quietLogger())
	pc := pageAt("/sales-orders/1", 0)

	ran, err := step(t, rule, pc)
	if !ran || err == nil {
		t.Fatalf("step: ran=%v err=%v, want a lookup error", ran, err)
	}
	if doc.Writes() != 0 {
		t.Errorf("writes after failure: got %d, want 0", doc.Writes())
	}

	// The error is not memoised: once the sheet recovers the rule succeeds.
	sh.setErr(nil)
	if _, err := step(t, rule, pc); err != nil {
		t.Fatal(err)
	}
	if doc.Writes() != 1 {
		t.Errorf("writes after recovery: got %d, want 1", doc.Writes())
	}
}

func TestBlanketPONoPOMemoisedPerEpoch(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	if err := doc.SetInput(customerSel, "Globex"); err != nil {
		t.Fatal(err)
	}
	sh := newFakeSheet()
	rule := NewBlanketPO(BlanketPOConfig{}, orders, doc, sh, sheet.Source{}, quietLogger())

	for range 3 {
		if _, err := step(t, rule, pageAt("/sales-orders/2", 1)); err != nil {
			t.Fatal(err)
		}
	}
	if c := sh.calls.Load(); c != 1 {
		t.Errorf("lookups in one epoch: got %d, want 1", c)
	}

	// A navigation forgets the memo.
	if _, err := step(t, rule, pageAt("/sales-orders/2", 2)); err != nil {
		t.Fatal(err)
	}
	if c := sh.calls.Load(); c != 2 {
		t.Errorf("lookups after navigation: got %d, want 2", c)
	}
	if doc.Writes() != 0 {
		t.Errorf("writes: got %d, want 0", doc.Writes())
	}
}

func TestBlanketPOOutOfScope(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	sh := newFakeSheet()
	rule := NewBlanketPO(BlanketPOConfig{}, orders, doc, sh, sheet.Source{}, quietLogger())

	if ran, _ := step(t, rule, pageAt("/products/7", 0)); ran {
		t.Error("rule ran outside its route")
	}
	if rule.Expects(pageAt("/products/7", 0)) {
		t.Error("Expects outside route")
	}
}

func TestBlanketPOExpectsMissingForm(t *testing.T) {
	doc := domtest.MustNew(`<html><body><div class="spinner"></div></body></html>`)
	rule := NewBlanketPO(BlanketPOConfig{}, orders, doc, newFakeSheet(), sheet.Source{}, quietLogger())
	pc := pageAt("/sales-orders/1", 0)

	if rule.Applies(context.Background(), pc) {
		t.Fatal("Applies without a form")
	}
	if !rule.Expects(pc) {
		t.Error("Expects: got false, want true while the form is missing")
	}
}

func TestBlanketPOStuckNotice(t *testing.T) {
	doc := domtest.MustNew(`<html><body></body></html>`)
	rule := NewBlanketPO(BlanketPOConfig{}, orders, doc, newFakeSheet(), sheet.Source{}, quietLogger())

	var stuck atomic.Int32
	s := reconcile.New(reconcile.Config{
		URL:        "https://app.inflowinventory.com/sales-orders/1",
		StuckAfter: 3,
		OnStuck: func(context.Context, string, reconcile.PageContext) {
			stuck.Add(1)
		},
		IDGen:  idgen.Sequence("run"),
		Logger: quietLogger(),
	})
	s.Register(rule)

	ctx := context.Background()
	for range 5 {
		s.TriggerAll(ctx, reconcile.ReasonPoll)
		s.Wait()
	}
	if got := stuck.Load(); got != 1 {
		t.Errorf("stuck callbacks: got %d, want 1", got)
	}
}

func TestRenameLabels(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	rule := NewRenameLabels(RenameConfig{}, orders, doc, quietLogger())
	pc := pageAt("/sales-orders/1", 0)

	if ran, err := step(t, rule, pc); !ran || err != nil {
		t.Fatalf("first step: ran=%v err=%v", ran, err)
	}
	if got := doc.Count("p"); got != 2 {
		t.Fatalf("labels: got %d", got)
	}
	if n, _ := doc.CountText(context.Background(), "p", "Customer Notes"); n != 1 {
		t.Errorf("renamed labels: got %d, want 1", n)
	}
	if ran, _ := step(t, rule, pc); ran {
		t.Error("rule ran again after labels were renamed")
	}
	if doc.Writes() != 1 {
		t.Errorf("writes: got %d, want 1", doc.Writes())
	}
}

func TestCardOnFile(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	sh := newFakeSheet()
	rule := NewCardOnFile(CardOnFileConfig{}, orders, doc, sh, sheet.Source{}, quietLogger())
	badge := `span[data-pagekeeper-decoration="card-on-file"]`
	pc := pageAt("/sales-orders/1", 0)

	if _, err := step(t, rule, pc); err != nil {
		t.Fatal(err)
	}
	if got := doc.Text(badge); got != "Card on file" {
		t.Errorf("badge: got %q, want %q", got, "Card on file")
	}
	if ran, _ := step(t, rule, pc); ran {
		t.Error("rule ran again for the same customer")
	}

	// Switching customer replaces the badge text.
	if err := doc.SetInput(customerSel, "Globex"); err != nil {
		t.Fatal(err)
	}
	if _, err := step(t, rule, pc); err != nil {
		t.Fatal(err)
	}
	if got := doc.Text(badge); got != "No card on file" {
		t.Errorf("badge after switch: got %q, want %q", got, "No card on file")
	}

	// A customer missing from the sheet gets no badge.
	if err := doc.SetInput(customerSel, "Initech"); err != nil {
		t.Fatal(err)
	}
	if _, err := step(t, rule, pc); err != nil {
		t.Fatal(err)
	}
	if got := doc.Count(badge); got != 0 {
		t.Errorf("badges for unknown customer: got %d, want 0", got)
	}

	// Clearing the customer removes any badge.
	if err := doc.SetInput(customerSel, "Acme"); err != nil {
		t.Fatal(err)
	}
	step(t, rule, pc)
	if err := doc.SetInput(customerSel, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := step(t, rule, pc); err != nil {
		t.Fatal(err)
	}
	if got := doc.Count(badge); got != 0 {
		t.Errorf("badges for empty customer: got %d, want 0", got)
	}
}

func TestCreditHoldNoticeOncePerEpoch(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	sh := newFakeSheet()
	rule := NewCreditHold(CreditHoldConfig{}, orders, doc, sh, sheet.Source{}, quietLogger())
	notice := `div[data-pagekeeper-notice="credit-hold:acme"]`

	if _, err := step(t, rule, pageAt("/sales-orders/1", 0)); err != nil {
		t.Fatal(err)
	}
	if got := doc.Count(notice); got != 1 {
		t.Fatalf("notices: got %d, want 1", got)
	}

	// Dismissed stays dismissed within the epoch.
	doc.Dismiss("credit-hold:acme")
	if ran, _ := step(t, rule, pageAt("/sales-orders/1", 0)); ran {
		t.Error("rule ran again after dismissal")
	}
	if got := doc.Count(notice); got != 0 {
		t.Errorf("notices after dismissal: got %d, want 0", got)
	}

	// A new order page warns again.
	if _, err := step(t, rule, pageAt("/sales-orders/2", 1)); err != nil {
		t.Fatal(err)
	}
	if got := doc.Count(notice); got != 1 {
		t.Errorf("notices after navigation: got %d, want 1", got)
	}
}

func TestCreditHoldLookupErrorRetried(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	sh := newFakeSheet()
	sh.setErr(errors.New("timeout"))
	rule := NewCreditHold(CreditHoldConfig{}, orders, doc, sh, sheet.Source{}, quietLogger())
	pc := pageAt("/sales-orders/1", 0)

	if _, err := step(t, rule, pc); err == nil {
		t.Fatal("expected lookup error")
	}
	sh.setErr(nil)
	if ran, err := step(t, rule, pc); !ran || err != nil {
		t.Fatalf("retry: ran=%v err=%v", ran, err)
	}
	if got := doc.Count(`[data-pagekeeper-notice]`); got != 1 {
		t.Errorf("notices: got %d, want 1", got)
	}
}

func TestSalesRep(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	rule := NewSalesRep(SalesRepConfig{}, orders, doc, newFakeSheet(), sheet.Source{}, quietLogger())
	widget := `select[aria-label="Sales rep"]`
	pc := pageAt("/sales-orders/1", 0)

	if _, err := step(t, rule, pc); err != nil {
		t.Fatal(err)
	}
	if got, _ := doc.Value(context.Background(), widget); got != "u1" {
		t.Errorf("rep: got %q, want %q", got, "u1")
	}
	if ran, _ := step(t, rule, pc); ran {
		t.Error("rule ran with a rep already selected")
	}
}

func TestSalesRepUnknownOption(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	if err := doc.SetInput(customerSel, "Globex"); err != nil {
		t.Fatal(err)
	}
	sh := newFakeSheet()
	rule := NewSalesRep(SalesRepConfig{}, orders, doc, sh, sheet.Source{}, quietLogger())
	pc := pageAt("/sales-orders/1", 0)

	if _, err := step(t, rule, pc); err != nil {
		t.Fatal(err)
	}
	if ran, _ := step(t, rule, pc); ran {
		t.Error("rule retried an unresolvable rep within the epoch")
	}
	if doc.Writes() != 0 {
		t.Errorf("writes: got %d, want 0", doc.Writes())
	}
	if c := sh.calls.Load(); c != 1 {
		t.Errorf("lookups: got %d, want 1", c)
	}
}

func TestHide(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	rule := NewHide(HideConfig{Selectors: []string{"button.danger"}}, orders, doc, quietLogger())

	if _, err := step(t, rule, pageAt("/sales-orders/1", 0)); err != nil {
		t.Fatal(err)
	}
	if !doc.Hidden("button.danger") {
		t.Error("button not hidden")
	}
	if ran, _ := step(t, rule, pageAt("/sales-orders/1", 0)); ran {
		t.Error("rule ran with every element already hidden")
	}
	if doc.Writes() != 1 {
		t.Errorf("writes: got %d, want 1", doc.Writes())
	}
}

func TestVisibleSelector(t *testing.T) {
	cases := map[string]string{
		"button.danger":            "button.danger:not([hidden])",
		`a[title="x, y"], .banner`: `a[title="x, y"]:not([hidden]), .banner:not([hidden])`,
		"#promo div , ":            "#promo div:not([hidden])",
	}
	for in, want := range cases {
		if got := visible(in); got != want {
			t.Errorf("visible(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestBuild(t *testing.T) {
	deps := Deps{
		Doc:     domtest.MustNew(orderPage),
		Sheets:  newFakeSheet(),
		Sources: map[string]sheet.Source{"customers": {Name: "customers", URL: "http://example.invalid"}},
		Logger:  quietLogger(),
	}
	cfg := Config{
		BlanketPO:    &BlanketPOConfig{Sheet: "customers"},
		RenameLabels: &RenameConfig{},
		SalesRep:     &SalesRepConfig{Sheet: "customers"},
	}
	got, err := Build(cfg, deps)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID())
	}
	if want := "blanket-po,rename-label,sales-rep"; strings.Join(ids, ",") != want {
		t.Errorf("rules: got %v, want %s", ids, want)
	}

	cfg.CreditHold = &CreditHoldConfig{Sheet: "nope"}
	if _, err := Build(cfg, deps); err == nil || !strings.Contains(err.Error(), `unknown sheet "nope"`) {
		t.Errorf("unknown sheet: got %v", err)
	}
}

func TestEpochMemoIgnoresStalePut(t *testing.T) {
	var m epochMemo[int]
	m.put(2, "Acme", 1)
	m.put(1, "Globex", 1)
	if m.has(2, "globex") {
		t.Error("stale put leaked into the current epoch")
	}
	if !m.has(2, " ACME ") {
		t.Error("key normalisation: Acme not found")
	}
	if m.has(3, "acme") {
		t.Error("memo survived a new epoch")
	}
}

// failingDoc makes the next failures[method] calls of a write method fail.
type failingDoc struct {
	*domtest.Document
	mu       sync.Mutex
	failures map[string]int
}

func failWrites(doc *domtest.Document, method string, n int) *failingDoc {
	return &failingDoc{Document: doc, failures: map[string]int{method: n}}
}

func (d *failingDoc) fail(method string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures[method] > 0 {
		d.failures[method]--
		return context.DeadlineExceeded
	}
	return nil
}

func (d *failingDoc) ShowNotice(ctx context.Context, id, title, body string) (bool, error) {
	if err := d.fail("ShowNotice"); err != nil {
		return false, err
	}
	return d.Document.ShowNotice(ctx, id, title, body)
}

func (d *failingDoc) Decorate(ctx context.Context, anchor, id, text string) (bool, error) {
	if err := d.fail("Decorate"); err != nil {
		return false, err
	}
	return d.Document.Decorate(ctx, anchor, id, text)
}

func (d *failingDoc) SelectOption(ctx context.Context, selector, label string) (bool, error) {
	if err := d.fail("SelectOption"); err != nil {
		return false, err
	}
	return d.Document.SelectOption(ctx, selector, label)
}

func TestCreditHoldNoticeWriteRetried(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	rule := NewCreditHold(CreditHoldConfig{}, orders, failWrites(doc, "ShowNotice", 1), newFakeSheet(), sheet.Source{}, quietLogger())
	pc := pageAt("/sales-orders/1", 0)

	if _, err := step(t, rule, pc); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("first step: got %v, want deadline exceeded", err)
	}
	if ran, err := step(t, rule, pc); !ran || err != nil {
		t.Fatalf("retry: ran=%v err=%v", ran, err)
	}
	if got := doc.Count(`div[data-pagekeeper-notice="credit-hold:acme"]`); got != 1 {
		t.Errorf("notices: got %d, want 1", got)
	}
	if ran, _ := step(t, rule, pc); ran {
		t.Error("rule ran again after the notice was shown")
	}
}

func TestCardOnFileDecorateRetried(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	sh := newFakeSheet()
	rule := NewCardOnFile(CardOnFileConfig{}, orders, failWrites(doc, "Decorate", 1), sh, sheet.Source{}, quietLogger())
	pc := pageAt("/sales-orders/1", 0)

	if _, err := step(t, rule, pc); err == nil {
		t.Fatal("first step: expected decorate error")
	}
	if ran, err := step(t, rule, pc); !ran || err != nil {
		t.Fatalf("retry: ran=%v err=%v", ran, err)
	}
	if got := doc.Text(`span[data-pagekeeper-decoration="card-on-file"]`); got != "Card on file" {
		t.Errorf("badge: got %q, want %q", got, "Card on file")
	}
	if c := sh.calls.Load(); c != 1 {
		t.Errorf("lookups: got %d, want 1", c)
	}
}

func TestSalesRepSelectRetried(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	rule := NewSalesRep(SalesRepConfig{}, orders, failWrites(doc, "SelectOption", 1), newFakeSheet(), sheet.Source{}, quietLogger())
	pc := pageAt("/sales-orders/1", 0)

	if _, err := step(t, rule, pc); err == nil {
		t.Fatal("first step: expected select error")
	}
	if ran, err := step(t, rule, pc); !ran || err != nil {
		t.Fatalf("retry: ran=%v err=%v", ran, err)
	}
	if got, _ := doc.Value(context.Background(), `select[aria-label="Sales rep"]`); got != "u1" {
		t.Errorf("rep: got %q, want %q", got, "u1")
	}
}
