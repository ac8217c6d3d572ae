// Package engine runs one detection pass for a watch: fetch, extract,
// fingerprint, compare with the stored digest, notify, persist.
//
// The ordering invariant is that the stored digest only advances after the
// notification gateway accepted the event. A failed send leaves the old
// digest in place, so the next run sees the same change and sends again.
// Delivery is at-least-once; a crash or store failure between send and
// save can produce a duplicate, never a silent loss.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hazyhaar/pagewatch/extract"
	"github.com/hazyhaar/pagewatch/fetch"
	"github.com/hazyhaar/pagewatch/fingerprint"
	"github.com/hazyhaar/pagewatch/notify"
	"github.com/hazyhaar/pagewatch/state"
)

const tracerName = "github.com/hazyhaar/pagewatch/engine"

// persistTimeout bounds the save once it no longer follows the caller's context.
const persistTimeout = 30 * time.Second

// Extractor turns a raw document into canonical content.
type Extractor interface {
	Extract(raw []byte) (extract.Content, error)
	Excerpt(raw []byte) (string, error)
}

// Recorder observes finished runs. err is nil for Done.
type Recorder interface {
	RecordRun(watchID string, res *Result, err error)
}

// Baseline controls the first run of a watch, when no digest is stored.
type Baseline int

const (
	// BaselineNotify treats the first observation as a change and notifies.
	BaselineNotify Baseline = iota
	// BaselineSilent stores the first digest without notifying.
	BaselineSilent
)

func (b Baseline) String() string {
	if b == BaselineSilent {
		return "silent"
	}
	return "notify"
}

// ParseBaseline accepts "notify", "silent" and "" (notify).
func ParseBaseline(s string) (Baseline, error) {
	switch s {
	case "", "notify":
		return BaselineNotify, nil
	case "silent":
		return BaselineSilent, nil
	}
	return 0, fmt.Errorf("engine: unknown baseline policy %q", s)
}

// Options wires an Engine. Fetcher, Extractor, Store and Gateway are required.
type Options struct {
	WatchID   string
	URL       string
	Fetcher   fetch.Fetcher
	Extractor Extractor
	Algorithm fingerprint.Algorithm
	Store     state.Store
	Gateway   notify.Gateway
	Baseline  Baseline
	Recorder  Recorder
	Logger    *slog.Logger
}

// Engine executes runs for one watch. It holds no mutable state between
// runs; the caller must not start two runs of the same watch at once.
type Engine struct {
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

// New returns an Engine. It panics if a required collaborator is nil.
func New(opts Options) *Engine {
	if opts.Fetcher == nil || opts.Extractor == nil || opts.Store == nil || opts.Gateway == nil {
		panic("engine: Fetcher, Extractor, Store and Gateway are required")
	}
	if opts.WatchID == "" {
		opts.WatchID = "default"
	}
	if opts.Algorithm == "" {
		opts.Algorithm = fingerprint.Default
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		opts:   opts,
		logger: logger.With("watch_id", opts.WatchID),
		tracer: otel.Tracer(tracerName),
	}
}

// WatchID returns the watch identifier.
func (e *Engine) WatchID() string { return e.opts.WatchID }

// Run executes one pass. The returned Result is never nil; on failure it
// carries the trace up to the failing state and err is a *RunError.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "pagewatch.run",
		trace.WithAttributes(
			attribute.String("watch.id", e.opts.WatchID),
			attribute.String("watch.url", e.opts.URL),
		))
	defer span.End()

	r := &run{Engine: e, res: &Result{Trace: []State{Idle}}}
	err := r.exec(ctx)
	r.res.Duration = time.Since(start)

	if err != nil {
		r.enter(Failed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.ErrorContext(ctx, "engine: run failed",
			"stage", StageOf(err).String(),
			"error", err,
			"trace", r.res.TraceString(),
			"duration", r.res.Duration)
	} else {
		span.SetAttributes(attribute.String("watch.verdict", r.res.Verdict.String()))
		e.logger.InfoContext(ctx, "engine: run done",
			"verdict", r.res.Verdict.String(),
			"items", len(r.res.Items),
			"digest", r.res.Current,
			"trace", r.res.TraceString(),
			"duration", r.res.Duration)
	}

	if e.opts.Recorder != nil {
		e.opts.Recorder.RecordRun(e.opts.WatchID, r.res, err)
	}
	return r.res, err
}

// Preview fetches, extracts and compares without notifying or saving.
func (e *Engine) Preview(ctx context.Context) (*Result, error) {
	start := time.Now()
	r := &run{Engine: e, res: &Result{Trace: []State{Idle}}, dry: true}
	err := r.exec(ctx)
	r.res.Duration = time.Since(start)
	if err != nil {
		r.enter(Failed)
	}
	return r.res, err
}

// run is the state of one pass.
type run struct {
	*Engine
	res *Result
	dry bool
}

func (r *run) enter(s State) { r.res.Trace = append(r.res.Trace, s) }

// stage runs fn inside a child span named after s.
func (r *run) stage(ctx context.Context, s State, fn func(ctx context.Context) error) error {
	r.enter(s)
	ctx, span := r.tracer.Start(ctx, "pagewatch."+s.spanName())
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (r *run) exec(ctx context.Context) error {
	var raw []byte
	err := r.stage(ctx, Fetching, func(ctx context.Context) error {
		var err error
		raw, err = r.opts.Fetcher.Fetch(ctx, r.opts.URL)
		return err
	})
	if err != nil {
		return &RunError{Stage: StageFetch, Err: err}
	}
	r.logger.DebugContext(ctx, "engine: fetched", "bytes", len(raw))

	var content extract.Content
	err = r.stage(ctx, Extracting, func(context.Context) error {
		var err error
		content, err = r.opts.Extractor.Extract(raw)
		return err
	})
	if err != nil {
		return &RunError{Stage: StageExtract, Err: err}
	}
	r.res.Items = content.Items

	r.enter(Fingerprinting)
	digest := r.opts.Algorithm.Sum(content)
	r.res.Current = digest.Hex()

	var prev state.Record
	var found bool
	err = r.stage(ctx, Comparing, func(ctx context.Context) error {
		var err error
		prev, found, err = r.opts.Store.Load(ctx)
		return err
	})
	if err != nil {
		return &RunError{Stage: StageLoad, Err: err}
	}
	same := false
	if found {
		p := prev.Digest
		r.res.Previous = &p
		stored, perr := fingerprint.ParseDigest(r.opts.Algorithm, p)
		if perr != nil {
			r.logger.InfoContext(ctx, "engine: stored digest is not a valid "+string(r.opts.Algorithm)+" digest, re-baselining",
				"stored", p, "error", perr)
		}
		same = perr == nil && stored.Equal(digest)
	}

	if same {
		r.res.Verdict = Unchanged
		r.enter(Done)
		return nil
	}
	r.res.Verdict = Changed
	if r.dry {
		r.enter(Done)
		return nil
	}

	if found || r.opts.Baseline == BaselineNotify {
		excerpt, xerr := r.opts.Extractor.Excerpt(raw)
		if xerr != nil {
			r.logger.WarnContext(ctx, "engine: excerpt unavailable", "error", xerr)
		}
		ev := notify.NewEvent(r.opts.WatchID, r.opts.URL, r.res.Previous, r.res.Current, content.Items, excerpt)
		err = r.stage(ctx, Notifying, func(ctx context.Context) error {
			return r.opts.Gateway.Send(ctx, ev)
		})
		if err != nil {
			return &RunError{Stage: StageNotify, Err: err}
		}
		r.res.Event = &ev
	} else {
		r.logger.InfoContext(ctx, "engine: silent baseline, not notifying")
	}

	// Past this point the event may have been delivered; a cancelled caller
	// must not leave the old digest in place.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	err = r.stage(pctx, Persisting, func(ctx context.Context) error {
		return r.opts.Store.Save(ctx, r.res.Current)
	})
	if err != nil {
		return &RunError{Stage: StagePersist, Err: err}
	}
	r.enter(Done)
	return nil
}
