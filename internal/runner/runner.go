// Package runner wires storage, the frame backend, the pipeline service and
// the bundled plugins into one deblend and measurement run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"blendcore/internal/backend"
	"blendcore/internal/blob"
	"blendcore/internal/catalog"
	"blendcore/internal/config"
	"blendcore/internal/core"
	"blendcore/internal/observability"
	"blendcore/pkg/domain"
	"blendcore/pkg/pipelineapi"
	"blendcore/plugins/centroid"
	"blendcore/plugins/jointsky"
	"blendcore/plugins/maskdeblend"
)

// Plugins returns the bundled algorithm plugins.
func Plugins() []pipelineapi.Plugin {
	return []pipelineapi.Plugin{maskdeblend.New(), centroid.New(), jointsky.New()}
}

// NewService constructs a service with the bundled plugins installed.
func NewService(opts ...core.Option) (*core.Service, error) {
	svc := core.NewService(opts...)
	for _, p := range Plugins() {
		if _, err := svc.InstallPlugin(p); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger handed to the service and frame backend.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithBlobStore supplies an open blob store instead of opening cfg.Blob.
func WithBlobStore(store blob.Store) Option {
	return func(r *Runner) { r.blobs = store }
}

// WithCatalog supplies an open catalog instead of opening cfg.Catalog. The
// runner does not close supplied catalogs.
func WithCatalog(cat catalog.Catalog) Option {
	return func(r *Runner) { r.catalog = cat }
}

// WithRegisterer registers Prometheus collectors for the run.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Runner) { r.registerer = reg }
}

// WithClock overrides the run record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// Runner executes configured runs.
type Runner struct {
	cfg        config.Config
	logger     zerolog.Logger
	blobs      blob.Store
	catalog    catalog.Catalog
	registerer prometheus.Registerer
	now        func() time.Time
}

// New validates cfg and returns a runner.
func New(cfg config.Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Outcome summarises a finished run.
type Outcome struct {
	Record  catalog.RunRecord
	Deblend core.DeblendReport
	Fit     core.FitReport
	Cache   backend.CacheStats
	Metrics core.ExpvarMetricsSnapshot
}

// Run reads the manifest, deblends, realizes, fits and writes the run record
// to the catalog.
func (r *Runner) Run(ctx context.Context) (out Outcome, err error) {
	blobs := r.blobs
	if blobs == nil {
		if blobs, err = blob.Open(ctx, r.cfg.Blob); err != nil {
			return Outcome{}, fmt.Errorf("open blob store: %w", err)
		}
	}
	cat := r.catalog
	if cat == nil {
		if cat, err = catalog.Open(ctx, r.cfg.Catalog); err != nil {
			return Outcome{}, fmt.Errorf("open catalog: %w", err)
		}
		defer func() { err = errors.Join(err, cat.Close()) }()
	}

	frames, err := backend.NewBlobSource(blobs,
		backend.WithCacheSize(r.cfg.Frames.CacheSize),
		backend.WithLogger(r.logger))
	if err != nil {
		return Outcome{}, err
	}
	var source domain.PixelSource = frames
	exported := core.NewExpvarMetricsRecorder(r.cfg.Observability.ExpvarName)
	recorders := []core.MetricsRecorder{exported}
	if r.registerer != nil {
		rec, err := observability.NewPromRecorder(r.registerer)
		if err != nil {
			return Outcome{}, fmt.Errorf("register metrics: %w", err)
		}
		source = rec.InstrumentSource(frames)
		recorders = append(recorders, rec)
	}
	serviceOpts := []core.Option{
		core.WithLogger(r.logger),
		core.WithWorkers(r.cfg.Workers),
		core.WithMetricsRecorder(observability.Fanout(recorders...)),
	}
	if path := r.cfg.Observability.TracePath; path != "" {
		trace, ferr := os.Create(path)
		if ferr != nil {
			return Outcome{}, fmt.Errorf("open trace file: %w", ferr)
		}
		defer func() { err = errors.Join(err, trace.Close()) }()
		serviceOpts = append(serviceOpts, core.WithTracer(core.NewJSONTracer(trace)))
	}
	svc, err := NewService(serviceOpts...)
	if err != nil {
		return Outcome{}, err
	}

	manifest, err := backend.ReadManifest(ctx, blobs, r.cfg.Manifest)
	if err != nil {
		return Outcome{}, err
	}
	warm, err := r.warmStarts(ctx, cat)
	if err != nil {
		return Outcome{}, err
	}
	store, err := manifest.Build(source, warm)
	if err != nil {
		return Outcome{}, err
	}

	deblender, err := svc.NewDeblender(r.cfg.Deblender.Name, r.cfg.Deblender.Options)
	if err != nil {
		return Outcome{}, err
	}
	fitter, err := svc.NewFitter(r.cfg.Fitter.Name, r.cfg.Fitter.Options)
	if err != nil {
		return Outcome{}, err
	}

	out.Deblend, err = svc.Deblend(ctx, deblender, store)
	if err != nil {
		return Outcome{}, err
	}
	if err := svc.Realize(ctx, out.Deblend.Store); err != nil {
		return Outcome{}, err
	}
	out.Fit, err = svc.Fit(ctx, fitter, out.Deblend.Store)
	if err != nil {
		return Outcome{}, err
	}

	schema, _ := svc.FitterSchema(fitter.Name())
	failures := append(append([]domain.ItemError(nil), out.Deblend.Errors...), out.Fit.Errors...)
	out.Record, err = catalog.NewRunRecord(fitter.Name(), schema, out.Fit.Results, failures, r.now())
	if err != nil {
		return Outcome{}, err
	}
	if err := cat.Write(ctx, out.Record); err != nil {
		return Outcome{}, err
	}
	out.Cache = frames.Stats()
	out.Metrics = exported.Snapshot()
	r.logger.Info().
		Str("run", out.Record.ID).
		Str("deblender", deblender.Name()).
		Str("fitter", fitter.Name()).
		Int("objects", len(out.Record.Rows)).
		Int("failures", len(out.Record.Failures)).
		Int64("frame_cache_misses", out.Cache.Misses).
		Str("expvar", exported.Name()).
		Msg("run stored")
	return out, nil
}

// warmStarts loads the configured prior run as per-object warm-start results
// keyed by the prior run's algorithm.
func (r *Runner) warmStarts(ctx context.Context, cat catalog.Catalog) (backend.WarmStarts, error) {
	if r.cfg.WarmStart == "" {
		return nil, nil
	}
	prior, err := cat.Read(ctx, r.cfg.WarmStart)
	if err != nil {
		return nil, fmt.Errorf("warm start: %w", err)
	}
	warm := make(backend.WarmStarts)
	for id, res := range prior.Results() {
		warm[id] = map[string]domain.AlgorithmResult{prior.Algorithm: res}
	}
	r.logger.Debug().Str("run", prior.ID).Int("objects", len(warm)).Msg("warm start loaded")
	return warm, nil
}
