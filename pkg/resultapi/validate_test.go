package resultapi

import (
	"errors"
	"strings"
	"testing"

	"blendcore/pkg/domain"
)

func photometrySchema() domain.Schema {
	return domain.Schema{
		{Name: "flux", Type: domain.TypeFloat64, Unit: "nJy"},
		{Name: "flag", Type: domain.TypeBool},
		{Name: "n_exposures", Type: domain.TypeUint16},
		{Name: "shape", Fields: []domain.Field{
			{Name: "moments", Type: domain.TypeFloat32, Shape: []int{2, 2}},
			{Name: "centroid", Type: domain.TypeFloat64, Shape: []int{2}},
		}},
	}
}

func photometryValues() map[string]any {
	return map[string]any{
		"flux":        12.5,
		"flag":        false,
		"n_exposures": 3,
		"shape": map[string]any{
			"moments":  [][]float32{{1, 0}, {0, 1}},
			"centroid": []float64{10.5, 11.25},
		},
	}
}

func TestValidateAcceptsConformingResult(t *testing.T) {
	res := Static{Base: Base{ID: "O1"}, Fields: photometrySchema(), Values: photometryValues()}
	if err := Validate(res); err != nil {
		t.Fatalf("expected valid result, got %v", err)
	}
	flat := photometryValues()
	flat["shape"].(map[string]any)["moments"] = []any{1.0, 0.0, 0.0, 1.0}
	res.Values = flat
	if err := Validate(res); err != nil {
		t.Fatalf("flat array of matching size must validate, got %v", err)
	}
}

func TestValidateReportsMismatches(t *testing.T) {
	cases := map[string]struct {
		mutate func(map[string]any)
		want   string
	}{
		"missing key":      {func(v map[string]any) { delete(v, "flux") }, "flux: missing value"},
		"extra key":        {func(v map[string]any) { v["chi2"] = 1.0 }, "chi2: not declared"},
		"wrong scalar":     {func(v map[string]any) { v["flag"] = "no" }, "flag: expected bool"},
		"int out of range": {func(v map[string]any) { v["n_exposures"] = -1 }, "out of range for uint16"},
		"fractional int":   {func(v map[string]any) { v["n_exposures"] = 2.5 }, "non-integral"},
		"float as string":  {func(v map[string]any) { v["flux"] = "12" }, "expected float64"},
		"group not map":    {func(v map[string]any) { v["shape"] = []float64{1} }, "shape: expected group"},
		"short array": {func(v map[string]any) {
			v["shape"].(map[string]any)["centroid"] = []float64{1}
		}, "shape.centroid"},
		"ragged nested": {func(v map[string]any) {
			v["shape"].(map[string]any)["moments"] = [][]float32{{1, 0}, {0}}
		}, "expected 2 elements at [1]"},
		"nested extra": {func(v map[string]any) {
			v["shape"].(map[string]any)["angle"] = 0.3
		}, "shape.angle: not declared"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			values := photometryValues()
			tc.mutate(values)
			err := Validate(Static{Base: Base{ID: "O7"}, Fields: photometrySchema(), Values: values})
			if !errors.Is(err, domain.ErrSchemaMismatch) {
				t.Fatalf("expected schema mismatch, got %v", err)
			}
			var mismatch domain.SchemaMismatchError
			if !errors.As(err, &mismatch) || mismatch.ObjectID != "O7" {
				t.Fatalf("expected typed mismatch for O7, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestValidateSchemaRejectsMalformedFields(t *testing.T) {
	cases := map[string]domain.Schema{
		"empty name":      {{Type: domain.TypeFloat64}},
		"duplicate":       {{Name: "a", Type: domain.TypeBool}, {Name: "a", Type: domain.TypeBool}},
		"unknown type":    {{Name: "a", Type: "complex128"}},
		"zero shape":      {{Name: "a", Type: domain.TypeInt32, Shape: []int{0}}},
		"typed group":     {{Name: "g", Type: domain.TypeInt8, Fields: []domain.Field{{Name: "x", Type: domain.TypeInt8}}}},
		"dotted name":     {{Name: "a.b", Type: domain.TypeInt8}},
		"samples kind":    {{Name: "posterior", Type: domain.TypeFloat64, Kind: "samples"}},
		"nested bad type": {{Name: "g", Fields: []domain.Field{{Name: "x", Type: "text"}}}},
	}
	for name, schema := range cases {
		if err := ValidateSchema(schema); !errors.Is(err, domain.ErrSchemaMismatch) {
			t.Errorf("%s: expected schema error, got %v", name, err)
		}
	}
	if err := ValidateSchema(photometrySchema()); err != nil {
		t.Fatalf("expected valid schema, got %v", err)
	}
	if err := Validate(nil); err == nil {
		t.Fatalf("expected nil result error")
	}
}

func TestIntegerRanges(t *testing.T) {
	cases := []struct {
		typ  domain.FieldType
		val  any
		fail bool
	}{
		{domain.TypeInt8, 127, false},
		{domain.TypeInt8, 128, true},
		{domain.TypeInt8, int8(-128), false},
		{domain.TypeUint8, uint(256), true},
		{domain.TypeInt64, uint64(1 << 63), true},
		{domain.TypeUint64, uint64(1 << 63), false},
		{domain.TypeInt32, 3.0, false},
		{domain.TypeInt32, true, true},
		{domain.TypeFloat32, 7, false},
		{domain.TypeBool, 1, true},
	}
	for _, tc := range cases {
		msg := checkScalar(tc.typ, tc.val)
		if (msg != "") != tc.fail {
			t.Errorf("checkScalar(%s, %v) = %q, want fail=%v", tc.typ, tc.val, msg, tc.fail)
		}
	}
}
