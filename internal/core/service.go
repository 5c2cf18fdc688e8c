package core

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"blendcore/pkg/domain"
	"blendcore/pkg/pipelineapi"
	"blendcore/pkg/resultapi"
)

// Service runs deblenders and fitters over aggregation stores, enforcing the
// pipeline contracts and reporting through the configured logger, metrics
// recorder and tracer.
type Service struct {
	rules   *domain.RulesEngine
	logger  zerolog.Logger
	metrics MetricsRecorder
	tracer  Tracer
	workers int
	now     func() time.Time

	plugins    map[string]PluginMetadata
	deblenders map[string]pipelineapi.DeblenderFactory
	fitters    map[string]pipelineapi.FitterFactory
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithWorkers bounds per-exposure and per-object parallelism. Values below 1
// select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRulesEngine replaces the default deblend invariant rules.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(s *Service) {
		if engine != nil {
			s.rules = engine
		}
	}
}

// WithClock overrides the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a service with the built-in invariant rules.
func NewService(opts ...Option) *Service {
	s := &Service{
		rules:      NewDefaultRulesEngine(),
		logger:     zerolog.Nop(),
		metrics:    noopMetrics{},
		tracer:     noopTracer{},
		workers:    runtime.GOMAXPROCS(0),
		now:        time.Now,
		plugins:    make(map[string]PluginMetadata),
		deblenders: make(map[string]pipelineapi.DeblenderFactory),
		fitters:    make(map[string]pipelineapi.FitterFactory),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Workers returns the parallelism bound.
func (s *Service) Workers() int { return s.workers }

// Rules returns the active rule names.
func (s *Service) Rules() []string { return s.rules.Rules() }

// InstallPlugin registers a plugin's algorithms and rules.
func (s *Service) InstallPlugin(plugin pipelineapi.Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, errors.New("plugin cannot be nil")
	}
	if _, ok := s.plugins[plugin.Name()]; ok {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}
	registry := NewPluginRegistry()
	if err := plugin.Register(registry); err != nil {
		return PluginMetadata{}, fmt.Errorf("plugin %s: %w", plugin.Name(), err)
	}
	for _, f := range registry.Deblenders() {
		if _, exists := s.deblenders[f.Name]; exists {
			return PluginMetadata{}, fmt.Errorf("plugin %s: deblender %s already installed", plugin.Name(), f.Name)
		}
	}
	for _, f := range registry.Fitters() {
		if _, exists := s.fitters[f.Name]; exists {
			return PluginMetadata{}, fmt.Errorf("plugin %s: fitter %s already installed", plugin.Name(), f.Name)
		}
	}

	meta := PluginMetadata{Name: plugin.Name(), Version: plugin.Version()}
	for _, f := range registry.Deblenders() {
		s.deblenders[f.Name] = f
		meta.Algorithms = append(meta.Algorithms, AlgorithmDescriptor{
			Plugin:      plugin.Name(),
			Kind:        KindDeblender,
			Name:        f.Name,
			Description: f.Description,
			Capability:  f.Capability,
			Options:     withPolicySpec(f.Options),
		})
	}
	for _, f := range registry.Fitters() {
		s.fitters[f.Name] = f
		meta.Algorithms = append(meta.Algorithms, AlgorithmDescriptor{
			Plugin:      plugin.Name(),
			Kind:        KindFitter,
			Name:        f.Name,
			Description: f.Description,
			Capability:  f.Capability,
			Options:     withPolicySpec(f.Options),
			Columns:     resultapi.Columns(f.Schema),
		})
	}
	for _, rule := range registry.Rules() {
		s.rules.Register(rule)
	}
	s.plugins[plugin.Name()] = meta
	s.logger.Debug().
		Str("plugin", meta.Name).
		Str("version", meta.Version).
		Int("algorithms", len(meta.Algorithms)).
		Msg("plugin installed")
	return meta, nil
}

func withPolicySpec(specs []pipelineapi.OptionSpec) []pipelineapi.OptionSpec {
	return append(append([]pipelineapi.OptionSpec(nil), specs...), pipelineapi.PolicySpec())
}

// RegisteredPlugins returns metadata describing installed plugins, sorted by name.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Algorithms lists every installed algorithm, deblenders first.
func (s *Service) Algorithms() []AlgorithmDescriptor {
	var out []AlgorithmDescriptor
	for _, meta := range s.RegisteredPlugins() {
		out = append(out, meta.Algorithms...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind == out[j].Kind {
			return out[i].Name < out[j].Name
		}
		return out[i].Kind == KindDeblender
	})
	return out
}

// NewDeblender validates options against the named factory and constructs
// the deblender.
func (s *Service) NewDeblender(name string, options map[string]any) (pipelineapi.Deblender, error) {
	factory, ok := s.deblenders[name]
	if !ok {
		return nil, fmt.Errorf("deblender %s: %w", name, pipelineapi.ErrUnknownAlgorithm)
	}
	opts, err := pipelineapi.ValidateOptions(factory.Options, options)
	if err != nil {
		return nil, fmt.Errorf("deblender %s: %w", name, err)
	}
	d, err := factory.New(opts)
	if err != nil {
		return nil, fmt.Errorf("deblender %s: %w", name, err)
	}
	if d == nil {
		return nil, fmt.Errorf("deblender %s: constructor returned nil", name)
	}
	return d, nil
}

// NewFitter validates options against the named factory and constructs the
// fitter.
func (s *Service) NewFitter(name string, options map[string]any) (pipelineapi.Fitter, error) {
	factory, ok := s.fitters[name]
	if !ok {
		return nil, fmt.Errorf("fitter %s: %w", name, pipelineapi.ErrUnknownAlgorithm)
	}
	opts, err := pipelineapi.ValidateOptions(factory.Options, options)
	if err != nil {
		return nil, fmt.Errorf("fitter %s: %w", name, err)
	}
	f, err := factory.New(opts)
	if err != nil {
		return nil, fmt.Errorf("fitter %s: %w", name, err)
	}
	if f == nil {
		return nil, fmt.Errorf("fitter %s: constructor returned nil", name)
	}
	return f, nil
}

// FitterSchema returns the declared output schema of an installed fitter.
func (s *Service) FitterSchema(name string) (domain.Schema, bool) {
	f, ok := s.fitters[name]
	return f.Schema, ok
}
