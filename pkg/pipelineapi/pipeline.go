// Package pipelineapi declares the contracts deblending and fitting
// algorithms implement, the option sets they accept and the registry through
// which plugins contribute them.
package pipelineapi

import (
	"context"

	"blendcore/pkg/domain"
)

// Capability tags the processing granularity an algorithm implements.
type Capability string

const (
	// CapabilityJoint algorithms see the whole store (deblenders) or the whole
	// by-object view (fitters) at once.
	CapabilityJoint Capability = "joint"
	// CapabilityPerUnit algorithms process one exposure (deblenders) or one
	// object (fitters) at a time and may run in parallel.
	CapabilityPerUnit Capability = "per_unit"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	return c == CapabilityJoint || c == CapabilityPerUnit
}

// Deblender is the common surface of every deblending algorithm. The
// advertised capability selects which of JointDeblender or ExposureDeblender
// the runner expects.
type Deblender interface {
	Name() string
	Capability() Capability
}

// JointDeblender separates objects using information across exposures.
type JointDeblender interface {
	Deblender
	DeblendJoint(ctx context.Context, store *domain.Store) (*domain.Store, error)
}

// ExposureDeblender separates objects within a single exposure. Units it
// cannot handle are returned unchanged.
type ExposureDeblender interface {
	Deblender
	DeblendExposure(ctx context.Context, slice domain.ExposureSlice) (domain.ExposureSlice, error)
}

// Fitter is the common surface of every measurement algorithm.
type Fitter interface {
	Name() string
	Capability() Capability
}

// JointFitter measures every object at once using cross-object information.
type JointFitter interface {
	Fitter
	FitJoint(ctx context.Context, objects domain.ObjectIndex) (map[domain.ObjectID]domain.AlgorithmResult, error)
}

// ObjectFitter measures one object from all exposures observing it.
type ObjectFitter interface {
	Fitter
	FitObject(ctx context.Context, object domain.ObjectSlice) (domain.AlgorithmResult, error)
}

// FailurePolicy controls how batch runners treat per-item errors.
type FailurePolicy string

const (
	// PolicyAbort stops the batch at the first per-item error. It is the default.
	PolicyAbort FailurePolicy = "abort"
	// PolicyCollect keeps going and reports per-item errors next to partial results.
	PolicyCollect FailurePolicy = "collect"
)

// PolicyProvider is implemented by algorithms whose configuration selects a
// failure policy. Algorithms without it run under PolicyAbort.
type PolicyProvider interface {
	FailurePolicy() FailurePolicy
}

// PolicyOf returns the failure policy advertised by an algorithm.
func PolicyOf(algorithm any) FailurePolicy {
	if p, ok := algorithm.(PolicyProvider); ok && p.FailurePolicy() == PolicyCollect {
		return PolicyCollect
	}
	return PolicyAbort
}
