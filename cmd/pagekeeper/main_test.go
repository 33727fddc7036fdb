package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/pagekeeper/event"
	"github.com/hazyhaar/pagekeeper/internal/journal"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("Customer,Blanket PO\nAcme,12345\nGlobex,\n"))
	}))
	defer srv.Close()

	cfgPath := filepath.Join(t.TempDir(), "pagekeeper.yaml")
	cfg := "url: https://app.example.com/\nsheets:\n  customers:\n    url: " + srv.URL + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "lookup", "--log-level", "error", "-c", cfgPath, "--sheet", "customers", "acme")
	if err != nil {
		t.Fatalf("lookup: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"Blanket PO": "12345"`) {
		t.Errorf("output: got %s", out)
	}

	if _, err := execute(t, "lookup", "--log-level", "error", "-c", cfgPath, "--sheet", "customers", "Initech"); err == nil {
		t.Error("missing key: expected error")
	}
	if _, err := execute(t, "lookup", "-c", cfgPath, "--sheet", "vendors", "Acme"); err == nil {
		t.Error("unknown sheet: expected error")
	}
}

func TestHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	j.Insert(context.Background(), event.Run{
		ID: "r1", RuleID: "blanket-po", Reason: "mutation", Epoch: 1,
		URL: "https://app.example.com/sales-orders/1", Outcome: event.OutcomeApplied,
		StartedAt: time.Now(), Duration: 40 * time.Millisecond,
	})
	j.Insert(context.Background(), event.Run{
		ID: "r2", RuleID: "sales-rep", Reason: "poll", Epoch: 1,
		URL: "https://app.example.com/sales-orders/1", Outcome: event.OutcomeFailed,
		Error: "sales-rep: lookup: timeout", StartedAt: time.Now(),
	})
	j.Close()

	out, err := execute(t, "history", "--db", dbPath, "--rule", "blanket-po")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "blanket-po") || strings.Contains(out, "sales-rep") {
		t.Errorf("output: got\n%s", out)
	}

	if _, err := execute(t, "history"); err == nil {
		t.Error("no journal: expected error")
	}
}
