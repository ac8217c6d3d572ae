// Package watch wires a Config into a runnable watch: fetcher, extractor,
// state store, notification gateways, engine and metrics. It is the API
// shared by the CLI, the HTTP status surface and the MCP tools.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/pagewatch/config"
	"github.com/hazyhaar/pagewatch/engine"
	"github.com/hazyhaar/pagewatch/extract"
	"github.com/hazyhaar/pagewatch/fetch"
	"github.com/hazyhaar/pagewatch/kit"
	"github.com/hazyhaar/pagewatch/metrics"
	"github.com/hazyhaar/pagewatch/notify"
	"github.com/hazyhaar/pagewatch/state"
)

var (
	// ErrBusy is returned by Run while another run of the same watch is in flight.
	ErrBusy = errors.New("watch: a run is already in progress")
	// ErrOpenState is returned by New when the state backend cannot be opened.
	ErrOpenState = errors.New("watch: open state")
)

// Service runs one configured watch.
type Service struct {
	cfg     config.Config
	engine  *engine.Engine
	store   state.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	closers []io.Closer

	running sync.Mutex

	runs     atomic.Int64
	changes  atomic.Int64
	failures atomic.Int64
	lastRun  atomic.Pointer[RunSummary]
}

// ServiceOption overrides a collaborator built from the config.
type ServiceOption func(*options)

type options struct {
	fetcher fetch.Fetcher
	gateway notify.Gateway
	store   state.Store
}

// WithFetcher replaces the HTTP or browser fetcher.
func WithFetcher(f fetch.Fetcher) ServiceOption { return func(o *options) { o.fetcher = f } }

// WithGateway replaces the gateways from the notify section.
func WithGateway(g notify.Gateway) ServiceOption { return func(o *options) { o.gateway = g } }

// WithStore replaces the store opened from state_path.
func WithStore(s state.Store) ServiceOption { return func(o *options) { o.store = s } }

// New validates cfg and builds the service. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	svc := &Service{cfg: *cfg, logger: logger, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			svc.Close()
		}
	}()

	x, err := extract.New(cfg.Target())
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = svc.buildFetcher()
	}

	svc.store = o.store
	if svc.store == nil {
		st, err := state.Open(ctx, cfg.StatePath, cfg.WatchID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpenState, err)
		}
		svc.store = st
		svc.closers = append(svc.closers, st)
	}

	gateway := o.gateway
	if gateway == nil {
		gateway, err = svc.buildGateway()
		if err != nil {
			return nil, err
		}
	}

	svc.engine = engine.New(engine.Options{
		WatchID:   cfg.WatchID,
		URL:       cfg.TargetURL,
		Fetcher:   fetcher,
		Extractor: x,
		Algorithm: cfg.Algorithm(),
		Store:     svc.store,
		Gateway:   gateway,
		Baseline:  cfg.BaselinePolicy(),
		Recorder:  svc.metrics,
		Logger:    logger,
	})
	ok = true
	return svc, nil
}

func (s *Service) buildFetcher() fetch.Fetcher {
	fc := s.cfg.Fetch
	if fc.Browser.Enabled {
		b := fetch.NewBrowser(fetch.BrowserConfig{
			RemoteURL:    fc.Browser.Remote,
			Timeout:      fc.Timeout.Duration,
			AllowPrivate: fc.AllowPrivate,
			Logger:       s.logger,
		})
		s.closers = append(s.closers, b)
		return b
	}
	return fetch.NewHTTP(fetch.Config{
		Timeout:      fc.Timeout.Duration,
		MaxBytes:     fc.MaxBytes,
		UserAgent:    fc.UserAgent,
		AllowPrivate: fc.AllowPrivate,
		Logger:       s.logger,
	})
}

// buildGateway returns every configured gateway behind one Multi, or a
// Log gateway when none is configured.
func (s *Service) buildGateway() (notify.Gateway, error) {
	n := s.cfg.Notify
	var gws notify.Multi
	if n.Webhook.URL != "" {
		gws = append(gws, notify.NewWebhook(n.Webhook.URL, n.Webhook.Secret))
	}
	if n.Telegram.BotToken != "" {
		gws = append(gws, notify.NewTelegram(n.Telegram.BotToken, n.Telegram.ChatID, n.Telegram.APIBase))
	}
	if n.SMTP.Host != "" {
		gws = append(gws, &notify.SMTP{
			Host:     n.SMTP.Host,
			Port:     n.SMTP.Port,
			Username: n.SMTP.Username,
			Password: n.SMTP.Password,
			From:     n.SMTP.From,
			To:       n.SMTP.To,
		})
	}
	if len(n.Kafka.Brokers) > 0 {
		k, err := notify.NewKafka(n.Kafka.Brokers, n.Kafka.Topic)
		if err != nil {
			return nil, fmt.Errorf("watch: %w", err)
		}
		gws = append(gws, k)
		s.closers = append(s.closers, k)
	}

	switch len(gws) {
	case 0:
		s.logger.Warn("watch: no notification gateway configured, events are only logged")
		return notify.Log{Logger: s.logger}, nil
	case 1:
		return gws[0], nil
	}
	return gws, nil
}

// Config returns the service configuration.
func (s *Service) Config() config.Config { return s.cfg }

// Metrics returns the Prometheus collectors of this watch.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// Run executes one detection pass. It returns ErrBusy instead of waiting
// when a run is already in flight.
func (s *Service) Run(ctx context.Context) (*engine.Result, error) {
	if !s.running.TryLock() {
		return nil, ErrBusy
	}
	defer s.running.Unlock()

	s.logger.InfoContext(ctx, "watch: run", "trigger", kit.GetTransport(ctx))
	res, err := s.engine.Run(ctx)

	s.runs.Add(1)
	sum := &RunSummary{At: time.Now().UTC(), Verdict: res.Verdict.String(), Trace: res.TraceString()}
	if err != nil {
		s.failures.Add(1)
		sum.Verdict = ""
		sum.Stage = engine.StageOf(err).String()
		sum.Error = err.Error()
	} else if res.Verdict == engine.Changed {
		s.changes.Add(1)
	}
	s.lastRun.Store(sum)
	return res, err
}

// Preview runs fetch, extract and compare without notifying or saving.
func (s *Service) Preview(ctx context.Context) (*engine.Result, error) {
	return s.engine.Preview(ctx)
}

// Status is the persisted state plus in-process counters.
type Status struct {
	WatchID     string      `json:"watch_id"`
	URL         string      `json:"url"`
	HasBaseline bool        `json:"has_baseline"`
	Digest      string      `json:"digest,omitempty"`
	UpdatedAt   *time.Time  `json:"updated_at,omitempty"`
	Stats       Stats       `json:"stats"`
	LastRun     *RunSummary `json:"last_run,omitempty"`
}

// Stats are counters for runs executed by this process.
type Stats struct {
	Runs     int64 `json:"runs"`
	Changes  int64 `json:"changes"`
	Failures int64 `json:"failures"`
}

// RunSummary describes the last run executed by this process.
type RunSummary struct {
	At      time.Time `json:"at"`
	Verdict string    `json:"verdict,omitempty"`
	Stage   string    `json:"failed_stage,omitempty"`
	Error   string    `json:"error,omitempty"`
	Trace   string    `json:"trace"`
}

// Status loads the stored digest.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	rec, found, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch: load state: %w", err)
	}
	st := &Status{
		WatchID:     s.cfg.WatchID,
		URL:         s.cfg.TargetURL,
		HasBaseline: found,
		Stats: Stats{
			Runs:     s.runs.Load(),
			Changes:  s.changes.Load(),
			Failures: s.failures.Load(),
		},
		LastRun: s.lastRun.Load(),
	}
	if found {
		st.Digest = rec.Digest
		if !rec.UpdatedAt.IsZero() {
			t := rec.UpdatedAt
			st.UpdatedAt = &t
		}
	}
	return st, nil
}

// PushMetrics pushes to the configured pushgateway. It is a no-op when
// none is configured.
func (s *Service) PushMetrics(ctx context.Context) error {
	m := s.cfg.Metrics
	if m.PushgatewayURL == "" {
		return nil
	}
	return s.metrics.Push(ctx, m.PushgatewayURL, m.Job, s.cfg.WatchID)
}

// Close releases the store, the browser and gateway clients.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
