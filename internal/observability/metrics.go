// Package observability exports pipeline and backend metrics to Prometheus.
package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"blendcore/internal/core"
	"blendcore/pkg/domain"
)

const namespace = "blendcore"

// PromRecorder implements core.MetricsRecorder with Prometheus collectors
// and also counts backend pixel fetches.
type PromRecorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	items      *prometheus.CounterVec
	fetches    *prometheus.CounterVec
	fetchTime  *prometheus.HistogramVec
}

// NewPromRecorder builds a recorder and registers its collectors with reg.
func NewPromRecorder(reg prometheus.Registerer) (*PromRecorder, error) {
	r := &PromRecorder{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "operations_total",
				Help:      "Pipeline operations by outcome.",
			},
			[]string{"operation", "success"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "operation_duration_seconds",
				Help:      "Pipeline operation duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "items_total",
				Help:      "Units or objects processed per operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "fetches_total",
				Help:      "Pixel fetches served by the exposure backend.",
			},
			[]string{"filter", "success"},
		),
		fetchTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "fetch_duration_seconds",
				Help:      "Pixel fetch duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"filter"},
		),
	}
	for _, c := range []prometheus.Collector{r.operations, r.duration, r.items, r.fetches, r.fetchTime} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

var (
	registerOnce    sync.Once
	defaultRecorder *PromRecorder
	defaultErr      error
)

// Default returns the recorder registered with the global Prometheus
// registry, creating it on first use.
func Default() (*PromRecorder, error) {
	registerOnce.Do(func() {
		defaultRecorder, defaultErr = NewPromRecorder(prometheus.DefaultRegisterer)
	})
	return defaultRecorder, defaultErr
}

// Observe implements core.MetricsRecorder.
func (r *PromRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.operations.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// CountItems implements core.MetricsRecorder.
func (r *PromRecorder) CountItems(_ context.Context, operation, outcome string, n int) {
	if operation == "" || n <= 0 {
		return
	}
	r.items.WithLabelValues(operation, outcome).Add(float64(n))
}

// InstrumentSource wraps src so every fetch is counted and timed.
func (r *PromRecorder) InstrumentSource(src domain.PixelSource) domain.PixelSource {
	return domain.PixelSourceFunc(func(ctx context.Context, req domain.PixelRequest) (*domain.Pixels, error) {
		started := time.Now()
		px, err := src.Fetch(ctx, req)
		filter := string(req.Filter)
		r.fetches.WithLabelValues(filter, strconv.FormatBool(err == nil)).Inc()
		r.fetchTime.WithLabelValues(filter).Observe(time.Since(started).Seconds())
		return px, err
	})
}

// Fanout forwards observations to every non-nil recorder.
func Fanout(recorders ...core.MetricsRecorder) core.MetricsRecorder {
	var out fanout
	for _, rec := range recorders {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

type fanout []core.MetricsRecorder

func (f fanout) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, rec := range f {
		rec.Observe(ctx, operation, success, duration)
	}
}

func (f fanout) CountItems(ctx context.Context, operation, outcome string, n int) {
	for _, rec := range f {
		rec.CountItems(ctx, operation, outcome, n)
	}
}

var (
	_ core.MetricsRecorder = (*PromRecorder)(nil)
	_ core.MetricsRecorder = fanout(nil)
)
