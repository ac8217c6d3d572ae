package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the headless browser fetcher.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local headless Chrome.
	RemoteURL string
	// Timeout bounds navigation plus load. Default: 30s.
	Timeout      time.Duration
	AllowPrivate bool
	Logger       *slog.Logger
}

// Browser renders the page with Chrome and returns the resulting DOM as
// HTML. Chrome is started on the first Fetch and reused until Close.
type Browser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewBrowser creates a Browser. Nothing is launched until Fetch.
func NewBrowser(cfg BrowserConfig) *Browser {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Browser{cfg: cfg}
}

// Fetch navigates a fresh stealth tab to url, waits for the load event,
// and returns the serialized document. A non-2xx main document is a
// *StatusError, as with HTTP.
func (b *Browser) Fetch(ctx context.Context, url string) ([]byte, error) {
	var err error
	if b.cfg.AllowPrivate {
		err = CheckScheme(url)
	} else {
		err = ValidateURL(ctx, url)
	}
	if err != nil {
		return nil, err
	}

	br, err := b.connect()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(br)
	if err != nil {
		return nil, fmt.Errorf("fetch: browser tab: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	p := page.Context(navCtx)

	// Redirect hops do not emit a response event; the last one is the document.
	var doc *proto.NetworkResponse
	waitDoc := p.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || e.FrameID != page.FrameID {
			return false
		}
		doc = e.Response
		return true
	})

	if err := p.Navigate(url); err != nil {
		return nil, fmt.Errorf("%w: navigate %s: %w", ErrNetwork, url, err)
	}
	waitDoc()
	if err := documentStatus(url, doc); err != nil {
		return nil, err
	}
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("%w: wait load %s: %w", ErrNetwork, url, err)
	}

	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("fetch: read DOM: %w", err)
	}
	b.cfg.Logger.Debug("fetch: rendered", "url", url, "size", len(html))
	return []byte(html), nil
}

// documentStatus maps the main document response to a fetch error. A nil
// response means navigation ended before any reached the tab.
func documentStatus(url string, resp *proto.NetworkResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: %s: no document response", ErrNetwork, url)
	}
	if resp.Status < 200 || resp.Status > 299 {
		if resp.URL != "" {
			url = resp.URL
		}
		return &StatusError{URL: url, Code: resp.Status}
	}
	return nil
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("fetch: launch chrome: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.cfg.Logger.Info("fetch: launched local chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		if b.lnch != nil {
			b.lnch.Cleanup()
			b.lnch = nil
		}
		return nil, fmt.Errorf("fetch: connect chrome: %w", err)
	}
	b.browser = br
	return br, nil
}

// Close shuts down Chrome if this Browser launched or connected it.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return err
}
