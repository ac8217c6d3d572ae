package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config configures the HTTP fetcher.
type Config struct {
	Timeout   time.Duration // Default: 30s.
	MaxBytes  int64         // Default: 10MB. Larger bodies are an error.
	UserAgent string
	// AllowPrivate disables the private address guard. Tests and intranet
	// targets need it.
	AllowPrivate bool
	// MaxRedirects caps redirect hops. Default: 5.
	MaxRedirects int
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "pagewatch/1.0"
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// HTTP fetches documents with a single GET.
type HTTP struct {
	client *http.Client
	cfg    Config
}

// NewHTTP creates an HTTP fetcher. Every redirect hop is validated the same
// way as the initial URL.
func NewHTTP(cfg Config) *HTTP {
	cfg.defaults()
	f := &HTTP{cfg: cfg}
	f.client = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("fetch: too many redirects (%d)", len(via))
			}
			return f.check(req.Context(), req.URL.String())
		},
	}
	return f
}

func (f *HTTP) check(ctx context.Context, rawURL string) error {
	if f.cfg.AllowPrivate {
		return CheckScheme(rawURL)
	}
	return ValidateURL(ctx, rawURL)
}

// Fetch GETs url and returns the body. Non-2xx responses return a
// *StatusError; transport failures wrap ErrNetwork.
func (f *HTTP) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.check(ctx, url); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrBlocked) || errors.Is(err, ErrScheme) {
			return nil, fmt.Errorf("fetch: redirect rejected: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrTooLarge, f.cfg.MaxBytes, url)
	}

	f.cfg.Logger.Debug("fetch: fetched",
		"url", url, "status", resp.StatusCode,
		"size", len(body), "duration", time.Since(start))
	return body, nil
}
