// Package capture drives a headless Chrome session to produce one
// composite raster of a full, possibly scrollable, page. The browser is an
// exclusively-owned resource: Session.Close releases it on every exit
// path, and failed captures never return partial composites.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// ErrTimeout is returned when the page never reaches readiness within the
// navigation timeout.
var ErrTimeout = errors.New("capture: timed out waiting for page readiness")

// ErrFailure is returned for any mid-sequence driver error. The partial
// composite is discarded.
var ErrFailure = errors.New("capture: capture failed")

// Config configures a capture Session.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local headless Chrome.
	RemoteURL string

	// NavTimeout bounds navigation plus load readiness. Default: 30s.
	NavTimeout time.Duration

	// SettleDelay absorbs late script-driven rendering after the load
	// event. Default: 3s.
	SettleDelay time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 3 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session owns one Chrome instance for the duration of a pipeline run.
type Session struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewSession creates a Session. Call Start to launch Chrome.
func NewSession(cfg Config) *Session {
	cfg.defaults()
	return &Session{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (s *Session) Start(ctx context.Context) error {
	var wsURL string

	if s.cfg.RemoteURL != "" {
		wsURL = s.cfg.RemoteURL
		s.cfg.Logger.Info("capture: connecting to remote browser", "url", wsURL)
	} else {
		l := launcher.New().Headless(true)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("capture: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
		s.cfg.Logger.Info("capture: launched headless chrome")
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		s.cleanup()
		return fmt.Errorf("capture: connect: %w", err)
	}
	s.browser = b
	return nil
}

// Close shuts the browser down. Safe to call multiple times.
func (s *Session) Close() error {
	s.cleanup()
	return nil
}

func (s *Session) cleanup() {
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
}

// Tab is one navigated page, ready for capture and DOM inspection.
type Tab struct {
	Page    *rod.Page
	PageURL string
	session *Session
}

// Open creates a stealth tab, navigates it and waits for readiness plus
// the settle delay. A readiness timeout maps to ErrTimeout.
func (s *Session) Open(ctx context.Context, pageURL string) (*Tab, error) {
	if s.browser == nil {
		return nil, fmt.Errorf("%w: session not started", ErrFailure)
	}

	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("%w: create tab: %v", ErrFailure, err)
	}

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		if navCtx.Err() != nil {
			return nil, fmt.Errorf("%w: navigate %s", ErrTimeout, pageURL)
		}
		return nil, fmt.Errorf("%w: navigate %s: %v", ErrFailure, pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		page.Close()
		return nil, fmt.Errorf("%w: %s", ErrTimeout, pageURL)
	}

	// Absorb late script-driven rendering before anything is measured.
	select {
	case <-time.After(s.cfg.SettleDelay):
	case <-ctx.Done():
		page.Close()
		return nil, fmt.Errorf("%w: %s", ErrTimeout, pageURL)
	}

	return &Tab{Page: page, PageURL: pageURL, session: s}, nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

// HTML serialises the full document as outer HTML.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("capture: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}
