package domain

// FieldType is the numeric type of a result field.
type FieldType string

// Supported result field types.
const (
	TypeInt8    FieldType = "int8"
	TypeInt16   FieldType = "int16"
	TypeInt32   FieldType = "int32"
	TypeInt64   FieldType = "int64"
	TypeUint8   FieldType = "uint8"
	TypeUint16  FieldType = "uint16"
	TypeUint32  FieldType = "uint32"
	TypeUint64  FieldType = "uint64"
	TypeFloat32 FieldType = "float32"
	TypeFloat64 FieldType = "float64"
	TypeBool    FieldType = "bool"
)

// Valid reports whether t is a supported field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64,
		TypeUint8, TypeUint16, TypeUint32, TypeUint64,
		TypeFloat32, TypeFloat64, TypeBool:
		return true
	default:
		return false
	}
}

// FieldKind describes how many values a field holds per object. Only fixed
// fields are defined; the kind is the hook for variable-length or
// distributional outputs.
type FieldKind string

// KindFixed is a field with a fixed shape per object.
const KindFixed FieldKind = "fixed"

// Field declares one entry of a result schema. A group field carries nested
// Fields and no Type.
type Field struct {
	Name   string    `json:"name"`
	Type   FieldType `json:"type,omitempty"`
	Shape  []int     `json:"shape,omitempty"`
	Unit   string    `json:"unit,omitempty"`
	Doc    string    `json:"doc,omitempty"`
	Kind   FieldKind `json:"kind,omitempty"`
	Fields []Field   `json:"fields,omitempty"`
}

// IsGroup reports whether the field nests other fields.
func (f Field) IsGroup() bool { return len(f.Fields) > 0 }

// Size returns the number of scalar values the field holds per object.
func (f Field) Size() int {
	n := 1
	for _, d := range f.Shape {
		n *= d
	}
	return n
}

// EffectiveKind returns the field kind, defaulting to KindFixed.
func (f Field) EffectiveKind() FieldKind {
	if f.Kind == "" {
		return KindFixed
	}
	return f.Kind
}

// Schema is the ordered field list an algorithm declares for its output.
type Schema []Field

// Lookup returns the top-level field with the given name.
func (s Schema) Lookup(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// AlgorithmResult is the output contract of every measurement algorithm.
// AsDict values must satisfy Schema: scalars for unshaped fields, slices or
// arrays holding the product of Shape elements for shaped ones, and nested
// map[string]any for groups.
type AlgorithmResult interface {
	ObjectID() ObjectID
	SkyRegion() SkyBox
	Schema() Schema
	AsDict() map[string]any
}
