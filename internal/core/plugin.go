package core

import (
	"fmt"
	"sort"

	"blendcore/pkg/domain"
	"blendcore/pkg/pipelineapi"
	"blendcore/pkg/resultapi"
)

// PluginRegistry accumulates plugin contributions during installation.
type PluginRegistry struct {
	rules      []domain.Rule
	deblenders map[string]pipelineapi.DeblenderFactory
	fitters    map[string]pipelineapi.FitterFactory
}

// NewPluginRegistry constructs a plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		deblenders: make(map[string]pipelineapi.DeblenderFactory),
		fitters:    make(map[string]pipelineapi.FitterFactory),
	}
}

// RegisterRule adds a deblend invariant contributed by the plugin.
func (r *PluginRegistry) RegisterRule(rule domain.Rule) {
	if rule == nil {
		return
	}
	r.rules = append(r.rules, rule)
}

// RegisterDeblender stores a deblender factory.
func (r *PluginRegistry) RegisterDeblender(factory pipelineapi.DeblenderFactory) error {
	if err := factory.Validate(); err != nil {
		return err
	}
	if _, exists := r.deblenders[factory.Name]; exists {
		return fmt.Errorf("deblender %s already registered", factory.Name)
	}
	r.deblenders[factory.Name] = factory
	return nil
}

// RegisterFitter stores a fitter factory after validating its output schema.
func (r *PluginRegistry) RegisterFitter(factory pipelineapi.FitterFactory) error {
	if err := factory.Validate(); err != nil {
		return err
	}
	if err := resultapi.ValidateSchema(factory.Schema); err != nil {
		return fmt.Errorf("fitter %s: %w", factory.Name, err)
	}
	if _, exists := r.fitters[factory.Name]; exists {
		return fmt.Errorf("fitter %s already registered", factory.Name)
	}
	r.fitters[factory.Name] = factory
	return nil
}

// Rules returns a copy of registered rules.
func (r *PluginRegistry) Rules() []domain.Rule {
	out := make([]domain.Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Deblenders returns registered deblender factories sorted by name.
func (r *PluginRegistry) Deblenders() []pipelineapi.DeblenderFactory {
	out := make([]pipelineapi.DeblenderFactory, 0, len(r.deblenders))
	for _, f := range r.deblenders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Fitters returns registered fitter factories sorted by name.
func (r *PluginRegistry) Fitters() []pipelineapi.FitterFactory {
	out := make([]pipelineapi.FitterFactory, 0, len(r.fitters))
	for _, f := range r.fitters {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var _ pipelineapi.Registry = (*PluginRegistry)(nil)

// AlgorithmKind distinguishes deblenders from fitters in descriptors.
type AlgorithmKind string

const (
	KindDeblender AlgorithmKind = "deblender"
	KindFitter    AlgorithmKind = "fitter"
)

// AlgorithmDescriptor is a snapshot of an installed algorithm.
type AlgorithmDescriptor struct {
	Plugin      string                   `json:"plugin"`
	Kind        AlgorithmKind            `json:"kind"`
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Capability  pipelineapi.Capability   `json:"capability"`
	Options     []pipelineapi.OptionSpec `json:"options,omitempty"`
	Columns     []resultapi.Column       `json:"columns,omitempty"`
}

// PluginMetadata stores metadata describing an installed plugin.
type PluginMetadata struct {
	Name       string
	Version    string
	Algorithms []AlgorithmDescriptor
}
