package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error kinds raised by the data model and the pipelines. Typed errors below
// carry details and match these sentinels through errors.Is.
var (
	ErrUnimplementedCapability = errors.New("unimplemented capability")
	ErrMissingRealization      = errors.New("unit not realized")
	ErrSchemaMismatch          = errors.New("result does not match schema")
	ErrNeighborInvariant       = errors.New("neighbor invariant violated")
	ErrKeyNotFound             = errors.New("key not found")
	ErrResultKeyMismatch       = errors.New("result keys do not match input objects")
	ErrRegionGrowth            = errors.New("region may only shrink")
	ErrIncompletePixels        = errors.New("incomplete pixel payload")
)

// KeyNotFoundError is returned by direct lookups of an absent pair.
type KeyNotFoundError struct {
	Key Key
}

func (e KeyNotFoundError) Error() string {
	return fmt.Sprintf("unit %s not found", e.Key)
}

// Is matches ErrKeyNotFound.
func (e KeyNotFoundError) Is(target error) bool { return target == ErrKeyNotFound }

// MissingRealizationError is returned when a realized field is read before
// Realize completed.
type MissingRealizationError struct {
	Key   Key
	Field string
}

func (e MissingRealizationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("unit %s: pixels not realized", e.Key)
	}
	return fmt.Sprintf("unit %s: %s read before realization", e.Key, e.Field)
}

// Is matches ErrMissingRealization.
func (e MissingRealizationError) Is(target error) bool { return target == ErrMissingRealization }

// UnimplementedCapabilityError reports a pipeline stage that does not
// advertise, or does not implement, a processing capability.
type UnimplementedCapabilityError struct {
	Stage      string
	Name       string
	Capability string
}

func (e UnimplementedCapabilityError) Error() string {
	if e.Capability == "" {
		return fmt.Sprintf("%s %q advertises no capability", e.Stage, e.Name)
	}
	return fmt.Sprintf("%s %q does not implement capability %q", e.Stage, e.Name, e.Capability)
}

// Is matches ErrUnimplementedCapability.
func (e UnimplementedCapabilityError) Is(target error) bool {
	return target == ErrUnimplementedCapability
}

// SchemaMismatchError lists the problems found when validating a result
// against its own schema.
type SchemaMismatchError struct {
	ObjectID ObjectID
	Problems []string
}

func (e SchemaMismatchError) Error() string {
	return fmt.Sprintf("result for object %s does not match schema: %s", e.ObjectID, strings.Join(e.Problems, "; "))
}

// Is matches ErrSchemaMismatch.
func (e SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// NeighborInvariantViolation is returned when deblended output breaks a
// neighbor or region invariant. It is always fatal.
type NeighborInvariantViolation struct {
	Result Result
}

func (e NeighborInvariantViolation) Error() string {
	blocking := e.Result.Blocking()
	if len(blocking) == 0 {
		return "neighbor invariant violated"
	}
	msgs := make([]string, 0, len(blocking))
	for _, v := range blocking {
		msgs = append(msgs, v.String())
	}
	return "neighbor invariant violated: " + strings.Join(msgs, "; ")
}

// Is matches ErrNeighborInvariant.
func (e NeighborInvariantViolation) Is(target error) bool { return target == ErrNeighborInvariant }

// ResultKeyMismatchError is returned when a fitter's output does not cover
// exactly the objects it was given.
type ResultKeyMismatchError struct {
	Missing    []ObjectID
	Unexpected []ObjectID
}

func (e ResultKeyMismatchError) Error() string {
	return fmt.Sprintf("result keys mismatch: missing %v, unexpected %v", e.Missing, e.Unexpected)
}

// Is matches ErrResultKeyMismatch.
func (e ResultKeyMismatchError) Is(target error) bool { return target == ErrResultKeyMismatch }

// ItemError pairs a batch item with the error it produced under a
// collect-and-continue failure policy.
type ItemError struct {
	Item string
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Item, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// SortItemErrors orders errors by item for deterministic reports.
func SortItemErrors(errs []ItemError) {
	sort.Slice(errs, func(i, j int) bool { return errs[i].Item < errs[j].Item })
}
