package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Version(t *testing.T) {
	id := UUIDv7()()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Errorf("Version: got %d, want 7", u.Version())
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		next := gen()
		if strings.Compare(next, prev) <= 0 {
			t.Fatalf("UUIDv7 not increasing: %q after %q", next, prev)
		}
		prev = next
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("run-")
	if got := gen(); got != "run-1" {
		t.Errorf("first: got %q, want %q", got, "run-1")
	}
	if got := gen(); got != "run-2" {
		t.Errorf("second: got %q, want %q", got, "run-2")
	}
}
