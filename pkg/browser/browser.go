// Package browser drives a real browser through Playwright and turns live
// pages into ref-annotated snapshots the task loop can act on.
package browser

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	// DefaultTimeout is the per-operation Playwright timeout in ms.
	DefaultTimeout = 5000.0
)

// Viewport is the browser window size.
type Viewport struct {
	Width  int
	Height int
}

// SessionOptions configures a new browser session.
type SessionOptions struct {
	Headless bool
	Viewport *Viewport
	// Timeout is the default Playwright operation timeout in ms.
	Timeout float64
}

// Session is one live browser with a single page under automation.
type Session struct {
	Browser    playwright.Browser
	Context    playwright.BrowserContext
	Page       playwright.Page
	Headless   bool
	CreatedAt  time.Time
	CurrentURL string
}

// SessionManager owns the Playwright runtime and the sessions launched
// from it.
type SessionManager struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	initialized bool
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{}
}

// Initialize installs and starts the Playwright runtime. It must be called
// before creating any sessions. Driver output is discarded so it cannot
// interleave with the process's own logging.
func (m *SessionManager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	return nil
}

// StartSession launches a browser and opens its automation page.
func (m *SessionManager) StartSession(opts SessionOptions) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("session manager not initialized")
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	browser, err := m.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(opts.Timeout)

	return &Session{
		Browser:    browser,
		Context:    context,
		Page:       page,
		Headless:   opts.Headless,
		CreatedAt:  time.Now(),
		CurrentURL: "about:blank",
	}, nil
}

// WithIsolatedTab runs fn in a throwaway page in the session's context.
// The tab is closed when fn returns, success or panic, so side work like
// probing a link target can never leak tabs into the main session.
func (s *Session) WithIsolatedTab(fn func(page playwright.Page) error) error {
	page, err := s.Context.NewPage()
	if err != nil {
		return fmt.Errorf("failed to open isolated tab: %w", err)
	}
	return runInTab(page, fn)
}

func runInTab(page playwright.Page, fn func(page playwright.Page) error) error {
	defer page.Close()
	return fn(page)
}

// Close shuts the session down. Errors are ignored during cleanup so a
// half-dead browser still releases everything it can.
func (s *Session) Close() error {
	_ = s.Page.Close()
	_ = s.Context.Close()
	return s.Browser.Close()
}

// Shutdown stops the Playwright runtime.
func (m *SessionManager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized || m.playwright == nil {
		return nil
	}
	if err := m.playwright.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	m.initialized = false
	return nil
}
