package pipelineapi

import (
	"errors"
	"fmt"
	"strings"

	"blendcore/pkg/domain"
)

// Version is the contract version plugins build against.
const Version = "v1"

// DeblenderFactory describes a deblending algorithm a plugin contributes.
// New receives the validated option set, including the failure policy.
type DeblenderFactory struct {
	Name        string
	Description string
	Capability  Capability
	Options     []OptionSpec
	New         func(Options) (Deblender, error)
}

// FitterFactory describes a measurement algorithm a plugin contributes.
// Schema is the output schema every produced result declares.
type FitterFactory struct {
	Name        string
	Description string
	Capability  Capability
	Options     []OptionSpec
	Schema      domain.Schema
	New         func(Options) (Fitter, error)
}

// Validate checks the factory declaration.
func (f DeblenderFactory) Validate() error {
	return validateFactory("deblender", f.Name, f.Capability, f.Options, f.New == nil)
}

// Validate checks the factory declaration. Schema validation is left to
// resultapi so this package stays free of value checks.
func (f FitterFactory) Validate() error {
	if err := validateFactory("fitter", f.Name, f.Capability, f.Options, f.New == nil); err != nil {
		return err
	}
	if len(f.Schema) == 0 {
		return fmt.Errorf("pipelineapi: fitter %s must declare an output schema", f.Name)
	}
	return nil
}

func validateFactory(stage, name string, capability Capability, options []OptionSpec, missingNew bool) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("pipelineapi: %s name required", stage)
	}
	if !capability.Valid() {
		return domain.UnimplementedCapabilityError{Stage: stage, Name: name, Capability: string(capability)}
	}
	if missingNew {
		return fmt.Errorf("pipelineapi: %s %s constructor required", stage, name)
	}
	return ValidateSpecs(options)
}

// Registry receives plugin contributions during installation.
type Registry interface {
	RegisterRule(rule domain.Rule)
	RegisterDeblender(factory DeblenderFactory) error
	RegisterFitter(factory FitterFactory) error
}

// Plugin bundles algorithms under one name and version.
type Plugin interface {
	Name() string
	Version() string
	Register(Registry) error
}

// ErrUnknownAlgorithm is returned when a registry lookup names no algorithm.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")
