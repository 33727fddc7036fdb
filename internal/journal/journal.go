// Package journal keeps a local SQLite history of rule runs and operator
// notices, so "did the PO get inserted on that order?" can be answered
// after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/pagekeeper/event"
	"github.com/hazyhaar/pagekeeper/internal/dbopen"
)

// Schema creates the journal tables.
const Schema = `
CREATE TABLE IF NOT EXISTS rule_runs (
	id          TEXT PRIMARY KEY,
	rule_id     TEXT NOT NULL,
	reason      TEXT NOT NULL,
	epoch       INTEGER NOT NULL,
	url         TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rule_runs_rule ON rule_runs(rule_id, started_at);

CREATE TABLE IF NOT EXISTS notices (
	id         TEXT PRIMARY KEY,
	rule_id    TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Journal is an SQLite-backed sink.
type Journal struct {
	db    *sql.DB
	owned bool
	now   func() time.Time
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Journal{db: db, owned: true, now: time.Now}, nil
}

// New wraps an open database, creating the tables. The caller keeps
// ownership of db.
func New(ctx context.Context, db *sql.DB) (*Journal, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Insert records one run. Re-inserting the same ID is a no-op.
func (j *Journal) Insert(ctx context.Context, run event.Run) error {
	_, err := dbopen.Exec(ctx, j.db, `
		INSERT OR IGNORE INTO rule_runs
			(id, rule_id, reason, epoch, url, outcome, error, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.RuleID, run.Reason, int64(run.Epoch), run.URL, string(run.Outcome),
		run.Error, run.StartedAt.UnixMilli(), int64(run.Duration))
	if err != nil {
		return fmt.Errorf("journal: insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. An empty ruleID means
// all rules.
func (j *Journal) Recent(ctx context.Context, ruleID string, limit int) ([]event.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, rule_id, reason, epoch, url, outcome, error, started_at, duration_ns
		FROM rule_runs
		WHERE ? = '' OR rule_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, ruleID, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var out []event.Run
	for rows.Next() {
		var (
			r         event.Run
			epoch     int64
			outcome   string
			startedMs int64
			durNs     int64
		)
		if err := rows.Scan(&r.ID, &r.RuleID, &r.Reason, &epoch, &r.URL, &outcome,
			&r.Error, &startedMs, &durNs); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		r.Epoch = uint64(epoch)
		r.Outcome = event.Outcome(outcome)
		r.StartedAt = time.UnixMilli(startedMs).UTC()
		r.Duration = time.Duration(durNs)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts returns the number of runs per outcome for ruleID (all rules
// when empty).
func (j *Journal) Counts(ctx context.Context, ruleID string) (map[event.Outcome]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM rule_runs
		WHERE ? = '' OR rule_id = ?
		GROUP BY outcome`, ruleID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("journal: counts: %w", err)
	}
	defer rows.Close()

	out := make(map[event.Outcome]int)
	for rows.Next() {
		var o string
		var n int
		if err := rows.Scan(&o, &n); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		out[event.Outcome(o)] = n
	}
	return out, rows.Err()
}

// Send implements sink.Sink.
func (j *Journal) Send(ctx context.Context, run event.Run) error {
	return j.Insert(ctx, run)
}

// SendNotice implements sink.Sink.
func (j *Journal) SendNotice(ctx context.Context, n event.Notice) error {
	_, err := dbopen.Exec(ctx, j.db, `
		INSERT OR IGNORE INTO notices (id, rule_id, title, body, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.RuleID, n.Title, n.Body, j.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: insert notice: %w", err)
	}
	return nil
}

// Close closes the database if Open created it.
func (j *Journal) Close() error {
	if j.owned {
		return j.db.Close()
	}
	return nil
}
