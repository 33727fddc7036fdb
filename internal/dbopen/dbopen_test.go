package dbopen_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/pagekeeper/internal/dbopen"
)

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithBusyTimeout(5000))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode: got %q, want wal", mode)
	}
	var bt int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&bt); err != nil {
		t.Fatal(err)
	}
	if bt != 5000 {
		t.Errorf("busy_timeout: got %d, want 5000", bt)
	}
}

func TestSchemaAndExec(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE t (id TEXT PRIMARY KEY)`))
	if _, err := dbopen.Exec(context.Background(), db, `INSERT INTO t (id) VALUES (?)`, "a"); err != nil {
		t.Fatal(err)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n)
	if n != 1 {
		t.Errorf("rows: got %d, want 1", n)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table"), false},
		{errors.New("prefix: SQLITE_BUSY (5)"), true},
		{errors.New("database is locked"), true},
		{errors.New("database table is locked"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
