package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes pipeline timings, run outcomes and item
// counts via expvar. Durations are totals in milliseconds per operation.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	items     map[string]map[string]int64
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Items       map[string]map[string]int64 `json:"items_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and publishes it
// under the supplied name. When name is empty, a unique identifier is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("blendcore_pipeline_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		items:     make(map[string]map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     copyCounters(r.results),
		Items:       copyCounters(r.items),
		RecordedAt:  time.Now().UTC(),
	}
}

func copyCounters(in map[string]map[string]int64) map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(in))
	for op, counts := range in {
		cpy := make(map[string]int64, len(counts))
		for label, n := range counts {
			cpy[label] = n
		}
		out[op] = cpy
	}
	return out
}

// Observe records a pipeline operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	status := "error"
	if success {
		status = "success"
	}

	r.mu.Lock()
	r.durations[operation] += ms
	bump(r.results, operation, status, 1)
	r.mu.Unlock()
}

// CountItems records how many items of an operation ended with outcome.
func (r *ExpvarMetricsRecorder) CountItems(_ context.Context, operation, outcome string, n int) {
	if operation == "" || n <= 0 {
		return
	}
	r.mu.Lock()
	bump(r.items, operation, outcome, int64(n))
	r.mu.Unlock()
}

func bump(counters map[string]map[string]int64, operation, label string, n int64) {
	if _, ok := counters[operation]; !ok {
		counters[operation] = make(map[string]int64, 2)
	}
	counters[operation][label] += n
}

// JSONTraceEntry represents a serialized span emitted by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer serializes spans to a writer and retains them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer constructs a tracer that writes spans as JSON lines to w. A
// nil writer only retains spans for Entries.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
	}
	return &JSONTraceTracer{enc: enc}
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
	ended     atomic.Bool
}

func (s *jsonTraceSpan) End(err error) {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	entry := JSONTraceEntry{Operation: s.operation, Status: "success", StartedAt: s.started}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	entry.EndedAt = time.Now().UTC()
	entry.DurationMS = float64(entry.EndedAt.Sub(s.started)) / float64(time.Millisecond)

	s.tracer.mu.Lock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
	s.tracer.mu.Unlock()
}

var (
	_ MetricsRecorder = (*ExpvarMetricsRecorder)(nil)
	_ Tracer          = (*JSONTraceTracer)(nil)
)
