package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is the page pagekeeper keeps reconciled.
type Tab struct {
	Page   *rod.Page
	URL    string
	router *rod.HijackRouter
	owned  bool
}

// OpenTab returns the tab showing pageURL. An existing tab whose URL has
// pageURL as prefix is reused, so attaching to a running Chrome does not
// disturb the operator's window. Otherwise a new tab is opened and
// navigated.
func (m *Manager) OpenTab(ctx context.Context, pageURL string) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	if page := findPage(b, pageURL); page != nil {
		m.cfg.Logger.Info("browser: attached to existing tab", "url", pageURL)
		return &Tab{Page: page, URL: pageURL}, nil
	}

	var (
		page *rod.Page
		err  error
	)
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: page, URL: pageURL, owned: true}
	if len(m.cfg.ResourceBlocking) > 0 {
		t.router = blockResources(page, m.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

func findPage(b *rod.Browser, prefix string) *rod.Page {
	pages, err := b.Pages()
	if err != nil {
		return nil
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if info.Type == proto.TargetTargetInfoTypePage && strings.HasPrefix(info.URL, prefix) {
			return p
		}
	}
	return nil
}

// CurrentURL returns the location the tab shows now.
func (t *Tab) CurrentURL(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => location.href`)
	if err != nil {
		return "", fmt.Errorf("browser: location: %w", err)
	}
	return res.Value.Str(), nil
}

// Close stops request interception and closes the tab if OpenTab
// created it. A reused tab is left to the operator.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
		t.router = nil
	}
	if t.Page != nil && t.owned {
		return t.Page.Close()
	}
	return nil
}
