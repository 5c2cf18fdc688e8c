package resultapi

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"blendcore/pkg/domain"
)

// ValidateSchema checks a schema in isolation: names are non-empty and unique
// per level, scalar fields use a known type, shapes are positive and group
// fields carry no type of their own.
func ValidateSchema(schema domain.Schema) error {
	problems := schemaProblems(schema, "")
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("resultapi: %w: %s", domain.ErrSchemaMismatch, strings.Join(problems, "; "))
}

// Validate checks that a result's AsDict output satisfies its own Schema.
func Validate(result domain.AlgorithmResult) error {
	if result == nil {
		return errors.New("resultapi: nil result")
	}
	problems := schemaProblems(result.Schema(), "")
	if len(problems) == 0 {
		problems = valueProblems(result.Schema(), result.AsDict(), "")
	}
	if len(problems) == 0 {
		return nil
	}
	return domain.SchemaMismatchError{ObjectID: result.ObjectID(), Problems: problems}
}

func schemaProblems(fields []domain.Field, prefix string) []string {
	var problems []string
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		path := join(prefix, f.Name)
		if strings.TrimSpace(f.Name) == "" {
			problems = append(problems, fmt.Sprintf("%s: field name required", labelFor(prefix)))
			continue
		}
		if strings.Contains(f.Name, ".") {
			problems = append(problems, fmt.Sprintf("%s: field name must not contain '.'", path))
		}
		if _, dup := seen[f.Name]; dup {
			problems = append(problems, fmt.Sprintf("%s: duplicate field", path))
			continue
		}
		seen[f.Name] = struct{}{}
		if kind := f.EffectiveKind(); kind != domain.KindFixed {
			problems = append(problems, fmt.Sprintf("%s: unsupported field kind %q", path, kind))
			continue
		}
		for _, d := range f.Shape {
			if d <= 0 {
				problems = append(problems, fmt.Sprintf("%s: shape %v must be positive", path, f.Shape))
				break
			}
		}
		if f.IsGroup() {
			if f.Type != "" {
				problems = append(problems, fmt.Sprintf("%s: group field must not declare a type", path))
			}
			if len(f.Shape) > 0 {
				problems = append(problems, fmt.Sprintf("%s: group field must not declare a shape", path))
			}
			problems = append(problems, schemaProblems(f.Fields, path)...)
			continue
		}
		if !f.Type.Valid() {
			problems = append(problems, fmt.Sprintf("%s: unsupported type %q", path, f.Type))
		}
	}
	return problems
}

func valueProblems(fields []domain.Field, values map[string]any, prefix string) []string {
	var problems []string
	declared := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		declared[f.Name] = struct{}{}
		path := join(prefix, f.Name)
		raw, ok := values[f.Name]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: missing value", path))
			continue
		}
		if f.IsGroup() {
			nested, ok := raw.(map[string]any)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s: expected group, got %T", path, raw))
				continue
			}
			problems = append(problems, valueProblems(f.Fields, nested, path)...)
			continue
		}
		if len(f.Shape) == 0 {
			if msg := checkScalar(f.Type, raw); msg != "" {
				problems = append(problems, fmt.Sprintf("%s: %s", path, msg))
			}
			continue
		}
		if msg := checkArray(f, raw); msg != "" {
			problems = append(problems, fmt.Sprintf("%s: %s", path, msg))
		}
	}
	var extra []string
	for key := range values {
		if _, ok := declared[key]; !ok {
			extra = append(extra, join(prefix, key))
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		problems = append(problems, fmt.Sprintf("%s: not declared in schema", key))
	}
	return problems
}

// checkArray accepts either a flat slice holding Size() elements or slices
// nested to match Shape exactly.
func checkArray(f domain.Field, raw any) string {
	rv := reflect.ValueOf(raw)
	if !isList(rv) {
		return fmt.Sprintf("expected array of shape %v, got %T", f.Shape, raw)
	}
	if rv.Len() == f.Size() && (rv.Len() == 0 || !isList(reflect.ValueOf(rv.Index(0).Interface()))) {
		for i := 0; i < rv.Len(); i++ {
			if msg := checkScalar(f.Type, rv.Index(i).Interface()); msg != "" {
				return fmt.Sprintf("element %d: %s", i, msg)
			}
		}
		return ""
	}
	return checkNested(f.Type, rv, f.Shape, "")
}

func checkNested(t domain.FieldType, rv reflect.Value, shape []int, at string) string {
	if !isList(rv) {
		return fmt.Sprintf("expected array at %s", labelFor(at))
	}
	if rv.Len() != shape[0] {
		return fmt.Sprintf("expected %d elements at %s, got %d", shape[0], labelFor(at), rv.Len())
	}
	for i := 0; i < rv.Len(); i++ {
		idx := fmt.Sprintf("%s[%d]", at, i)
		elem := rv.Index(i).Interface()
		if len(shape) > 1 {
			if msg := checkNested(t, reflect.ValueOf(elem), shape[1:], idx); msg != "" {
				return msg
			}
			continue
		}
		if msg := checkScalar(t, elem); msg != "" {
			return fmt.Sprintf("element %s: %s", idx, msg)
		}
	}
	return ""
}

func isList(rv reflect.Value) bool {
	return rv.IsValid() && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array)
}

type intRange struct {
	min int64
	max uint64
}

var intRanges = map[domain.FieldType]intRange{
	domain.TypeInt8:   {math.MinInt8, math.MaxInt8},
	domain.TypeInt16:  {math.MinInt16, math.MaxInt16},
	domain.TypeInt32:  {math.MinInt32, math.MaxInt32},
	domain.TypeInt64:  {math.MinInt64, math.MaxInt64},
	domain.TypeUint8:  {0, math.MaxUint8},
	domain.TypeUint16: {0, math.MaxUint16},
	domain.TypeUint32: {0, math.MaxUint32},
	domain.TypeUint64: {0, math.MaxUint64},
}

func checkScalar(t domain.FieldType, raw any) string {
	if raw == nil {
		return "value is null"
	}
	rv := reflect.ValueOf(raw)
	kind := rv.Kind()
	switch t {
	case domain.TypeBool:
		if kind != reflect.Bool {
			return fmt.Sprintf("expected bool, got %T", raw)
		}
		return ""
	case domain.TypeFloat32, domain.TypeFloat64:
		if !isNumeric(kind) {
			return fmt.Sprintf("expected %s, got %T", t, raw)
		}
		return ""
	}
	bounds, ok := intRanges[t]
	if !ok {
		return fmt.Sprintf("unsupported type %q", t)
	}
	switch {
	case kind >= reflect.Int && kind <= reflect.Int64:
		v := rv.Int()
		if v < bounds.min || (v > 0 && uint64(v) > bounds.max) {
			return fmt.Sprintf("%d out of range for %s", v, t)
		}
	case kind >= reflect.Uint && kind <= reflect.Uintptr:
		if v := rv.Uint(); v > bounds.max {
			return fmt.Sprintf("%d out of range for %s", v, t)
		}
	case kind == reflect.Float32 || kind == reflect.Float64:
		v := rv.Float()
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return fmt.Sprintf("expected %s, got non-integral %v", t, v)
		}
		if v < float64(bounds.min) || v > float64(bounds.max) {
			return fmt.Sprintf("%v out of range for %s", v, t)
		}
	default:
		return fmt.Sprintf("expected %s, got %T", t, raw)
	}
	return ""
}

func isNumeric(kind reflect.Kind) bool {
	return (kind >= reflect.Int && kind <= reflect.Uintptr) || kind == reflect.Float32 || kind == reflect.Float64
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func labelFor(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
