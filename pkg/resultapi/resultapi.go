// Package resultapi validates algorithm results against their declared
// schemas and flattens them into table rows for output consumers.
package resultapi

import "blendcore/pkg/domain"

// Base carries the identity half of the result contract. Algorithms embed it
// and supply Schema and AsDict.
type Base struct {
	ID  domain.ObjectID `json:"object_id"`
	Sky domain.SkyBox   `json:"sky_region"`
}

// ObjectID implements domain.AlgorithmResult.
func (b Base) ObjectID() domain.ObjectID { return b.ID }

// SkyRegion implements domain.AlgorithmResult.
func (b Base) SkyRegion() domain.SkyBox { return b.Sky }

// Column is one flattened schema entry. Nested group fields are joined with
// '.' into a single name.
type Column struct {
	Name  string           `json:"name"`
	Type  domain.FieldType `json:"type"`
	Shape []int            `json:"shape,omitempty"`
	Unit  string           `json:"unit,omitempty"`
	Doc   string           `json:"doc,omitempty"`
}

// Columns flattens a schema into table columns in declaration order.
func Columns(schema domain.Schema) []Column {
	var out []Column
	appendColumns(&out, schema, "")
	return out
}

func appendColumns(out *[]Column, fields []domain.Field, prefix string) {
	for _, f := range fields {
		name := join(prefix, f.Name)
		if f.IsGroup() {
			appendColumns(out, f.Fields, name)
			continue
		}
		col := Column{Name: name, Type: f.Type, Unit: f.Unit, Doc: f.Doc}
		if len(f.Shape) > 0 {
			col.Shape = append([]int(nil), f.Shape...)
		}
		*out = append(*out, col)
	}
}

// ColumnNames returns the flattened column names of a schema.
func ColumnNames(schema domain.Schema) []string {
	cols := Columns(schema)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Record validates a result and flattens its values into one row keyed by
// column name. The row always carries object_id.
func Record(result domain.AlgorithmResult) (map[string]any, error) {
	if err := Validate(result); err != nil {
		return nil, err
	}
	row := map[string]any{"object_id": string(result.ObjectID())}
	flatten(row, result.Schema(), result.AsDict(), "")
	return row, nil
}

func flatten(row map[string]any, fields []domain.Field, values map[string]any, prefix string) {
	for _, f := range fields {
		name := join(prefix, f.Name)
		if f.IsGroup() {
			nested, _ := values[f.Name].(map[string]any)
			flatten(row, f.Fields, nested, name)
			continue
		}
		row[name] = values[f.Name]
	}
}

// SameSchema reports whether two schemas flatten to identical columns.
func SameSchema(a, b domain.Schema) bool {
	ca, cb := Columns(a), Columns(b)
	if len(ca) != len(cb) {
		return false
	}
	for i := range ca {
		if ca[i].Name != cb[i].Name || ca[i].Type != cb[i].Type || !sameShape(ca[i].Shape, cb[i].Shape) {
			return false
		}
	}
	return true
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Static is a result whose schema and values are supplied as data. Catalog
// readers use it to rehydrate stored rows as warm-start payloads.
type Static struct {
	Base
	Fields domain.Schema  `json:"schema"`
	Values map[string]any `json:"values"`
}

// Schema implements domain.AlgorithmResult.
func (s Static) Schema() domain.Schema { return s.Fields }

// AsDict implements domain.AlgorithmResult.
func (s Static) AsDict() map[string]any { return s.Values }

var _ domain.AlgorithmResult = Static{}
