package pipelineapi

import (
	"errors"
	"testing"

	"blendcore/pkg/domain"
)

func TestFactoryValidation(t *testing.T) {
	newDeblender := func(Options) (Deblender, error) { return nil, nil }
	newFitter := func(Options) (Fitter, error) { return nil, nil }
	good := DeblenderFactory{Name: "mask", Capability: CapabilityPerUnit, New: newDeblender}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid factory, got %v", err)
	}
	untagged := DeblenderFactory{Name: "mask", New: newDeblender}
	if err := untagged.Validate(); !errors.Is(err, domain.ErrUnimplementedCapability) {
		t.Fatalf("expected capability error, got %v", err)
	}
	if err := (DeblenderFactory{Name: "mask", Capability: CapabilityJoint}).Validate(); err == nil {
		t.Fatalf("expected missing constructor error")
	}
	fitter := FitterFactory{Name: "centroid", Capability: CapabilityPerUnit, New: newFitter}
	if err := fitter.Validate(); err == nil {
		t.Fatalf("expected missing schema error")
	}
	fitter.Schema = domain.Schema{{Name: "ra", Type: domain.TypeFloat64}}
	if err := fitter.Validate(); err != nil {
		t.Fatalf("expected valid fitter factory, got %v", err)
	}
	fitter.Options = []OptionSpec{{Name: "failure_policy", Type: OptionString}}
	if err := fitter.Validate(); err == nil {
		t.Fatalf("expected reserved option error")
	}
}

func TestCapabilityValid(t *testing.T) {
	if !CapabilityJoint.Valid() || !CapabilityPerUnit.Valid() || Capability("batch").Valid() {
		t.Fatalf("unexpected capability validity")
	}
}
