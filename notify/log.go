package notify

import (
	"context"
	"log/slog"
)

// Log writes the event to a logger. It never fails, which makes it the
// dry-run gateway when nothing else is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Send(ctx context.Context, e Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prev := ""
	if e.Previous != nil {
		prev = *e.Previous
	}
	logger.InfoContext(ctx, "notify: change detected",
		"event_id", e.ID,
		"watch_id", e.WatchID,
		"url", e.URL,
		"previous", prev,
		"current", e.Current,
		"items", len(e.Items),
		"baseline", e.Baseline())
	return nil
}
