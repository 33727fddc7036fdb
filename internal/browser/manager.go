// Package browser manages the Chrome instance pagekeeper drives: launch
// or connect via Rod, keep a persistent profile so the operator stays
// logged in, recycle on memory or age, and expose the watched tab as a
// dom.Document.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned by a Manager after Close.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an already running Chrome.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string `yaml:"remote_url"`

	// Headless hides the window. The operator normally works in the
	// window pagekeeper opens, so the default is headful.
	Headless bool `yaml:"headless"`

	// UserDataDir keeps cookies and the login session across restarts.
	// Empty = a throwaway profile.
	UserDataDir string `yaml:"user_data_dir"`

	// Bin is the Chrome executable. Empty = launcher lookup/download.
	Bin string `yaml:"bin"`

	// XvfbDisplay, when set, starts an Xvfb server on that display for a
	// headful Chrome on a machine without a screen (e.g. ":99").
	XvfbDisplay string `yaml:"xvfb_display"`

	// MemoryLimit in bytes of JS heap. Recycle Chrome when exceeded. Default: 1GB.
	MemoryLimit int64 `yaml:"memory_limit"`

	// RecycleInterval is the maximum lifetime of a Chrome process.
	// Zero disables age-based recycling.
	RecycleInterval time.Duration `yaml:"recycle_interval"`

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string `yaml:"resource_blocking"`

	// Stealth applies go-rod/stealth evasions to the tab.
	Stealth bool `yaml:"stealth"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RecycleCallback is called around a Chrome restart so the owner can
// detach from the old tab and attach to a new one.
type RecycleCallback struct {
	BeforeRecycle func()
	AfterRecycle  func(ctx context.Context, b *rod.Browser)
}

// Manager manages the Chrome lifecycle.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	closed  bool
	cb      *RecycleCallback
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// SetRecycleCallback sets the callback for recycle events.
func (m *Manager) SetRecycleCallback(cb *RecycleCallback) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

// Start launches Chrome (or connects to a remote one) and starts the
// monitor goroutine, which stops with ctx.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()

	go m.monitorLoop(ctx)
	return b, nil
}

// Browser returns the current Rod browser handle.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle kills Chrome, restarts it, and calls AfterRecycle.
func (m *Manager) Recycle(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	cb := m.cb
	m.mu.Unlock()

	// Callbacks run unlocked: AfterRecycle opens a tab through Browser().
	if cb != nil && cb.BeforeRecycle != nil {
		cb.BeforeRecycle()
	}

	m.mu.Lock()
	b, err := m.recycleLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if cb != nil && cb.AfterRecycle != nil {
		cb.AfterRecycle(ctx, b)
	}
	return nil
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		if !m.cfg.Headless && m.cfg.XvfbDisplay != "" {
			if err := m.startXvfb(); err != nil {
				return nil, fmt.Errorf("browser: xvfb: %w", err)
			}
		}

		l := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.XvfbDisplay != "" && !m.cfg.Headless {
			l = l.Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		}
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.UserDataDir != "" {
			l = l.UserDataDir(m.cfg.UserDataDir)
		}
		// The operator's window must not advertise automation.
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome",
			"url", wsURL, "headless", m.cfg.Headless, "profile", m.cfg.UserDataDir)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) recycleLocked() (*rod.Browser, error) {
	log := m.cfg.Logger
	log.Info("browser: recycling", "uptime", time.Since(m.startAt))

	m.cleanup()

	b, err := m.launch()
	if err != nil {
		return nil, fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	log.Info("browser: recycled")
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		// A remote Chrome belongs to someone else; closing it would end
		// their session.
		if m.cfg.RemoteURL == "" {
			m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		// Kill, not Cleanup: Cleanup would delete a persistent profile.
		if m.cfg.UserDataDir != "" {
			m.lnch.Kill()
		} else {
			m.lnch.Cleanup()
		}
		m.lnch = nil
	}
	m.stopXvfb()
}

func (m *Manager) monitorLoop(ctx context.Context) {
	log := m.cfg.Logger
	if m.cfg.RemoteURL != "" {
		log.Debug("browser: remote chrome, recycling disabled")
		return
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		closed, b, startAt := m.closed, m.browser, m.startAt
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}

		if m.cfg.RecycleInterval > 0 && time.Since(startAt) > m.cfg.RecycleInterval {
			log.Info("browser: recycle interval reached")
			if err := m.Recycle(ctx); err != nil {
				log.Error("browser: recycle failed", "error", err)
			}
			continue
		}

		used, err := jsHeapUsage(b)
		if err != nil {
			log.Debug("browser: heap check failed", "error", err)
			continue
		}
		if used > m.cfg.MemoryLimit {
			log.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
			if err := m.Recycle(ctx); err != nil {
				log.Error("browser: recycle failed", "error", err)
			}
		}
	}
}

// jsHeapUsage reads the JS heap of the first page as a proxy for the
// whole browser.
func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, fmt.Errorf("no pages for heap check")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
