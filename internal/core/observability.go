package core

import (
	"context"
	"time"
)

// MetricsRecorder receives one observation per pipeline operation and item
// counts per outcome.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	CountItems(ctx context.Context, operation, outcome string, n int)
}

// Tracer starts spans around pipeline operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error.
type TraceSpan interface {
	End(err error)
}

// Item outcomes reported through CountItems.
const (
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
	OutcomeFitted    = "fitted"
	OutcomeRealized  = "realized"
)

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

func (noopMetrics) CountItems(context.Context, string, string, int) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// instrument wraps an operation with a span and a metrics observation.
func (s *Service) instrument(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, operation)
	started := s.now()
	err := fn(ctx)
	s.metrics.Observe(ctx, operation, err == nil, s.now().Sub(started))
	span.End(err)
	return err
}
