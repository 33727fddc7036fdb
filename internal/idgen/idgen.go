// Package idgen produces identifiers for run events. The strategy is a
// constructor argument so tests can swap in a deterministic sequence.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so journal rows order naturally by ID.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Sequence returns a Generator yielding prefix1, prefix2, ...
func Sequence(prefix string) Generator {
	var n atomic.Uint64
	return func() string {
		return prefix + strconv.FormatUint(n.Add(1), 10)
	}
}

// Default is the generator used when a Config leaves it nil.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
