package pagekeeper

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/pagekeeper/event"
	"github.com/hazyhaar/pagekeeper/internal/config"
	"github.com/hazyhaar/pagekeeper/internal/domtest"
	"github.com/hazyhaar/pagekeeper/internal/sheet"
	"github.com/hazyhaar/pagekeeper/internal/sink"
	"github.com/hazyhaar/pagekeeper/reconcile"
)

const orderPage = `<html><body>
<div id="so_customer"><input type="text" value="Acme"></div>
<p>PO #</p>
<textarea name="remarks"></textarea>
</body></html>`

type staticSheet map[string]sheet.Record

func (s staticSheet) Lookup(_ context.Context, _ sheet.Source, key string) (sheet.Record, bool, error) {
	rec, ok := s[strings.ToLower(key)]
	return rec, ok, nil
}

type collector struct {
	mu      sync.Mutex
	runs    []event.Run
	notices []event.Notice
}

func (c *collector) sink() sink.Sink {
	return sink.NewCallback(
		func(_ context.Context, r event.Run) error {
			c.mu.Lock()
			c.runs = append(c.runs, r)
			c.mu.Unlock()
			return nil
		},
		func(_ context.Context, n event.Notice) error {
			c.mu.Lock()
			c.notices = append(c.notices, n)
			c.mu.Unlock()
			return nil
		})
}

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const keeperYAML = `
url: https://app.inflowinventory.com/sales-orders/1
sheets:
  customers:
    url: http://sheet.invalid/pub?output=csv
rules:
  blanket_po: {sheet: customers}
  rename_labels: {}
sinks: []
`

func TestKeeperReconcilesPage(t *testing.T) {
	doc := domtest.MustNew(orderPage)
	var col collector
	sheets := staticSheet{"acme": {"Customer": "Acme", "Blanket PO": "777"}}

	k, err := newKeeper(testConfig(t, keeperYAML), quiet(), doc, sheets, []sink.Sink{col.sink()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	k.sched.TriggerAll(ctx, reconcile.ReasonStart)
	k.sched.Wait()
	k.sched.TriggerAll(ctx, reconcile.ReasonPoll)
	k.sched.Wait()

	if got, _ := doc.Value(ctx, `textarea[name="remarks"]`); got != "(BLANKET PO#:777)" {
		t.Errorf("remarks: got %q", got)
	}
	if n, _ := doc.CountText(ctx, "p", "Customer Notes"); n != 1 {
		t.Errorf("renamed labels: got %d, want 1", n)
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.runs) != 2 {
		t.Fatalf("reported runs: got %d, want 2 (one per rule)", len(col.runs))
	}
	for _, r := range col.runs {
		if r.Outcome != event.OutcomeApplied || r.Reason != "start" {
			t.Errorf("run %s: got outcome=%s reason=%s", r.RuleID, r.Outcome, r.Reason)
		}
	}
}

func TestKeeperStuckNotice(t *testing.T) {
	doc := domtest.MustNew(`<html><body></body></html>`)
	var col collector
	k, err := newKeeper(testConfig(t, keeperYAML), quiet(), doc, staticSheet{}, []sink.Sink{col.sink()})
	if err != nil {
		t.Fatal(err)
	}

	pc := reconcile.PageContext{URL: "https://app.inflowinventory.com/sales-orders/1", Epoch: 3}
	k.onStuck(context.Background(), "blanket-po", pc)
	k.onStuck(context.Background(), "blanket-po", pc)

	if got := doc.Count(`[data-pagekeeper-notice="stuck:blanket-po"]`); got != 1 {
		t.Errorf("on-page notices: got %d, want 1", got)
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.notices) != 2 || col.notices[0].RuleID != "blanket-po" {
		t.Errorf("reported notices: got %+v", col.notices)
	}
}

func TestKeeperUnknownSheet(t *testing.T) {
	cfg := testConfig(t, `
url: https://app.example.com/
rules:
  credit_hold: {sheet: missing}
`)
	_, err := newKeeper(cfg, quiet(), domtest.MustNew(orderPage), staticSheet{}, nil)
	if err == nil || !strings.Contains(err.Error(), `unknown sheet "missing"`) {
		t.Errorf("got %v, want unknown sheet error", err)
	}
}

func TestBuildSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	sinks, j, err := buildSinks([]config.SinkConfig{
		{Type: "stdout"},
		{Type: "webhook", URL: "http://hooks.invalid/pagekeeper"},
		{Type: "journal", Path: path},
	}, quiet())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	if len(sinks) != 3 || j == nil {
		t.Fatalf("sinks: got %d journal=%v", len(sinks), j)
	}

	if _, _, err := buildSinks([]config.SinkConfig{{Type: "kafka"}}, quiet()); err == nil {
		t.Error("unknown sink type: expected error")
	}
}
