// Package notify delivers change events to the outside world.
//
// The engine only knows the Gateway interface. A Send that returns nil
// means the user was told; any error means they were not, and the engine
// keeps the previous state so the next run retries the notification.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event describes one detected change.
type Event struct {
	ID      string `json:"id"`
	WatchID string `json:"watch_id"`
	URL     string `json:"url"`
	// Previous is nil on the first run.
	Previous  *string   `json:"previous"`
	Current   string    `json:"current"`
	Items     []string  `json:"items"`
	Excerpt   string    `json:"excerpt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Baseline reports whether this is the first observation of the watch.
func (e Event) Baseline() bool { return e.Previous == nil }

// eventNamespace scopes event IDs to this program.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/hazyhaar/pagewatch/event"))

// EventID derives the ID of the transition previous -> current on a watch.
// Retries of the same change share an ID, so receivers can deduplicate.
func EventID(watchID string, previous *string, current string) string {
	prev := ""
	if previous != nil {
		prev = *previous
	}
	return uuid.NewSHA1(eventNamespace, []byte(watchID+"\x00"+prev+"\x00"+current)).String()
}

// NewEvent builds an Event whose ID is EventID of the transition.
func NewEvent(watchID, url string, previous *string, current string, items []string, excerpt string) Event {
	return Event{
		ID:        EventID(watchID, previous, current),
		WatchID:   watchID,
		URL:       url,
		Previous:  previous,
		Current:   current,
		Items:     items,
		Excerpt:   excerpt,
		Timestamp: time.Now().UTC(),
	}
}

// Gateway delivers an event. Implementations report failure through the
// returned error only.
type Gateway interface {
	Send(ctx context.Context, e Event) error
}

// Func adapts a function to Gateway.
type Func func(ctx context.Context, e Event) error

// Send calls f.
func (f Func) Send(ctx context.Context, e Event) error { return f(ctx, e) }

// SendError is returned when a gateway could not deliver an event.
type SendError struct {
	Gateway string
	Cause   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("notify: send failed on %s: %v", e.Gateway, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

func sendErr(gateway string, format string, args ...any) error {
	return &SendError{Gateway: gateway, Cause: fmt.Errorf(format, args...)}
}
