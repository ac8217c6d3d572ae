// Package fetch retrieves the raw document a watch inspects.
//
// HTTP performs one GET with a bounded body and an SSRF guard on every hop.
// Browser renders the page in headless Chrome for targets that build their
// content with JavaScript. Neither retries: one attempt per run.
package fetch

import (
	"context"
	"errors"
	"fmt"
)

// Fetcher returns the raw bytes of the document at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

var (
	// ErrStatus matches any *StatusError.
	ErrStatus = errors.New("fetch: unexpected HTTP status")
	// ErrNetwork wraps transport failures: DNS, connect, TLS, timeout.
	ErrNetwork = errors.New("fetch: network error")
	// ErrTooLarge is returned when the body exceeds the configured cap.
	ErrTooLarge = errors.New("fetch: response body too large")
	// ErrBlocked is returned when a URL or redirect targets a private address.
	ErrBlocked = errors.New("fetch: URL targets a private or loopback address")
	// ErrScheme is returned for anything other than http and https.
	ErrScheme = errors.New("fetch: only http and https schemes are allowed")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s: HTTP %d", e.URL, e.Code)
}

// Is makes errors.Is(err, ErrStatus) match.
func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Func adapts a function to Fetcher.
type Func func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }
