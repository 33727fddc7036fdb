package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/pagekeeper/dom"
)

// ErrDetached is returned while no tab is attached.
var ErrDetached = errors.New("browser: no page attached")

// Document implements dom.Document over a live tab. The tab can be
// swapped after a browser recycle with Attach.
type Document struct {
	mu   sync.RWMutex
	page *rod.Page
}

var _ dom.Document = (*Document)(nil)

// NewDocument returns a Document bound to page (which may be nil).
func NewDocument(page *rod.Page) *Document {
	return &Document{page: page}
}

// Attach binds the Document to page. Nil detaches.
func (d *Document) Attach(page *rod.Page) {
	d.mu.Lock()
	d.page = page
	d.mu.Unlock()
}

func (d *Document) eval(ctx context.Context, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	d.mu.RLock()
	page := d.page
	d.mu.RUnlock()
	if page == nil {
		return nil, ErrDetached
	}
	return page.Context(ctx).Eval(js, args...)
}

func (d *Document) Exists(ctx context.Context, selector string) (bool, error) {
	res, err := d.eval(ctx, jsExists, selector)
	if err != nil {
		return false, fmt.Errorf("browser: exists %q: %w", selector, err)
	}
	return res.Value.Bool(), nil
}

func (d *Document) Value(ctx context.Context, selector string) (string, error) {
	res, err := d.eval(ctx, jsValue, selector)
	if err != nil {
		return "", fmt.Errorf("browser: value %q: %w", selector, err)
	}
	if !res.Value.Get("found").Bool() {
		return "", dom.ErrNotFound
	}
	return res.Value.Get("value").Str(), nil
}

func (d *Document) SetValue(ctx context.Context, selector, v string) (bool, error) {
	res, err := d.eval(ctx, jsSetValue, selector, v)
	if err != nil {
		return false, fmt.Errorf("browser: set value %q: %w", selector, err)
	}
	if !res.Value.Get("found").Bool() {
		return false, dom.ErrNotFound
	}
	return res.Value.Get("changed").Bool(), nil
}

func (d *Document) CountText(ctx context.Context, selector, text string) (int, error) {
	res, err := d.eval(ctx, jsCountText, selector, text)
	if err != nil {
		return 0, fmt.Errorf("browser: count text %q: %w", selector, err)
	}
	return res.Value.Int(), nil
}

func (d *Document) ReplaceText(ctx context.Context, selector, from, to string) (int, error) {
	res, err := d.eval(ctx, jsReplaceText, selector, from, to)
	if err != nil {
		return 0, fmt.Errorf("browser: replace text %q: %w", selector, err)
	}
	return res.Value.Int(), nil
}

func (d *Document) SetHidden(ctx context.Context, selector string, hidden bool) (int, error) {
	res, err := d.eval(ctx, jsSetHidden, selector, hidden)
	if err != nil {
		return 0, fmt.Errorf("browser: set hidden %q: %w", selector, err)
	}
	return res.Value.Int(), nil
}

func (d *Document) Decorate(ctx context.Context, anchor, id, text string) (bool, error) {
	res, err := d.eval(ctx, jsDecorate, dom.AttrDecoration, anchor, id, text)
	if err != nil {
		return false, fmt.Errorf("browser: decorate %s: %w", id, err)
	}
	if !res.Value.Get("found").Bool() {
		return false, dom.ErrNotFound
	}
	return res.Value.Get("changed").Bool(), nil
}

func (d *Document) Undecorate(ctx context.Context, id string) error {
	if _, err := d.eval(ctx, jsUndecorate, dom.AttrDecoration, id); err != nil {
		return fmt.Errorf("browser: undecorate %s: %w", id, err)
	}
	return nil
}

func (d *Document) ShowNotice(ctx context.Context, id, title, body string) (bool, error) {
	res, err := d.eval(ctx, jsShowNotice, dom.AttrNotice, id, title, body)
	if err != nil {
		return false, fmt.Errorf("browser: notice %s: %w", id, err)
	}
	return res.Value.Bool(), nil
}

func (d *Document) SelectOption(ctx context.Context, selector, label string) (bool, error) {
	res, err := d.eval(ctx, jsSelectOption, selector, label)
	if err != nil {
		return false, fmt.Errorf("browser: select %q in %q: %w", label, selector, err)
	}
	if !res.Value.Get("found").Bool() {
		return false, dom.ErrNotFound
	}
	return res.Value.Get("changed").Bool(), nil
}
