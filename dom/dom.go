// Package dom is the page access contract used by rules. The browser
// package implements it over the DevTools protocol; tests use an
// in-memory document.
//
// Every write is conditional: when the target already holds the requested
// state nothing is touched, so a rule re-run on an unchanged page causes
// no DOM mutation and cannot re-trigger itself.
package dom

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a selector matches no element.
var ErrNotFound = errors.New("dom: element not found")

// Attribute names marking nodes created by pagekeeper. Mutation
// observation ignores changes under these nodes.
const (
	AttrDecoration = "data-pagekeeper-decoration"
	AttrNotice     = "data-pagekeeper-notice"
)

// Document is read/write access to the observed page.
type Document interface {
	// Exists reports whether selector matches at least one element.
	Exists(ctx context.Context, selector string) (bool, error)

	// Value returns the current value of the first form control matching
	// selector (input, textarea, select). ErrNotFound if absent.
	Value(ctx context.Context, selector string) (string, error)

	// SetValue assigns value to the first matching form control and
	// dispatches bubbling input and change events. Returns false when the
	// control already held value.
	SetValue(ctx context.Context, selector, value string) (bool, error)

	// CountText counts elements matching selector whose trimmed text
	// content equals text.
	CountText(ctx context.Context, selector, text string) (int, error)

	// ReplaceText sets the text content of every element matching
	// selector whose trimmed text equals from. Returns the number changed.
	ReplaceText(ctx context.Context, selector, from, to string) (int, error)

	// SetHidden hides or shows every element matching selector. Returns
	// the number of elements whose visibility changed.
	SetHidden(ctx context.Context, selector string, hidden bool) (int, error)

	// Decorate inserts (or updates) a text badge identified by id right
	// after the first element matching anchor. Returns false when the
	// badge already showed text.
	Decorate(ctx context.Context, anchor, id, text string) (bool, error)

	// Undecorate removes the badge identified by id, if present.
	Undecorate(ctx context.Context, id string) error

	// ShowNotice displays a dismissible on-page notice. Returns false when
	// a notice with the same id is already displayed.
	ShowNotice(ctx context.Context, id, title, body string) (bool, error)

	// SelectOption picks the option labelled label (case-insensitive) in
	// the selection widget matching selector. Returns false when the
	// option was already selected; ErrNotFound when the widget or the
	// option is missing.
	SelectOption(ctx context.Context, selector, label string) (bool, error)
}
