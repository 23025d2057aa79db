package source

import (
	"regexp"
	"testing"

	"bsonschema/internal/schema/typereg"
	"bsonschema/internal/schema/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func legacy(typeName string, def map[string]any) map[string]any {
	if def == nil {
		def = map[string]any{}
	}
	def["typeName"] = typeName
	return map[string]any{"_def": def}
}

func current(typ string, def map[string]any) map[string]any {
	if def == nil {
		def = map[string]any{}
	}
	def["type"] = typ
	return map[string]any{"_zod": map[string]any{"def": def}}
}

func TestNormalize_Kinds(t *testing.T) {
	tests := []struct {
		name string
		node any
		want types.Kind
	}{
		{name: "legacy string", node: legacy("ZodString", nil), want: types.KindString},
		{name: "current string", node: current("string", nil), want: types.KindString},
		{name: "legacy date", node: legacy("ZodDate", nil), want: types.KindDate},
		{name: "current date", node: current("date", nil), want: types.KindDate},
		{name: "legacy effects", node: legacy("ZodEffects", nil), want: types.KindCustom},
		{name: "current custom", node: current("custom", nil), want: types.KindCustom},
		{name: "legacy native enum", node: legacy("ZodNativeEnum", nil), want: types.KindEnum},
		{name: "legacy discriminated union", node: legacy("ZodDiscriminatedUnion", nil), want: types.KindUnion},
		{name: "current prefault", node: current("prefault", nil), want: types.KindDefault},
		{name: "bare def layout", node: map[string]any{"def": map[string]any{"type": "boolean"}}, want: types.KindBoolean},
		{name: "legacy any", node: legacy("ZodAny", nil), want: types.KindUnknown},
		{name: "current bigint", node: current("bigint", nil), want: types.KindUnknown},
		{name: "plain value", node: 42, want: types.KindUnknown},
		{name: "nil", node: nil, want: types.KindUnknown},
		{name: "bare validator", node: typereg.NewValidator("x", nil), want: types.KindCustom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.node).Kind)
		})
	}
}

func TestNormalize_UnknownKeepsTypeName(t *testing.T) {
	assert.Equal(t, "ZodAny", Normalize(legacy("ZodAny", nil)).TypeName)
	assert.Equal(t, "bigint", Normalize(current("bigint", nil)).TypeName)
	assert.Equal(t, "int", Normalize(7).TypeName)
}

func TestNormalize_IntegerDetection(t *testing.T) {
	tests := []struct {
		name string
		node any
		want bool
	}{
		{name: "plain number", node: legacy("ZodNumber", nil), want: false},
		{
			name: "legacy int check",
			node: legacy("ZodNumber", map[string]any{"checks": []any{
				map[string]any{"kind": "min", "value": 0, "inclusive": true},
				map[string]any{"kind": "int"},
			}}),
			want: true,
		},
		{
			name: "node level flag",
			node: map[string]any{"isInt": true, "_zod": map[string]any{"def": map[string]any{"type": "number"}}},
			want: true,
		},
		{
			name: "flag false wins over absence",
			node: map[string]any{"isInt": false, "_zod": map[string]any{"def": map[string]any{"type": "number"}}},
			want: false,
		},
		{
			name: "current format check",
			node: current("number", map[string]any{"checks": []any{
				map[string]any{"_zod": map[string]any{"def": map[string]any{"check": "number_format", "format": "safeint"}}},
			}}),
			want: true,
		},
		{name: "current def format", node: current("number", map[string]any{"format": "int32"}), want: true},
		{name: "float format", node: current("number", map[string]any{"format": "float64"}), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Normalize(tt.node)
			require.Equal(t, types.KindNumber, d.Kind)
			assert.Equal(t, tt.want, d.IsInt)
		})
	}
}

type namedNode struct {
	Def map[string]any `json:"_def"`
}

func (namedNode) String() string { return "ZodString" }

type tag string

func TestNormalize_ArrayElement(t *testing.T) {
	elem := legacy("ZodString", nil)
	oid := typereg.NewValidator("objectId", nil)
	named := namedNode{Def: map[string]any{"typeName": "ZodString"}}

	tests := []struct {
		name string
		node any
		want any
	}{
		{name: "legacy", node: legacy("ZodArray", map[string]any{"type": elem}), want: elem},
		{name: "current", node: current("array", map[string]any{"element": elem}), want: elem},
		{name: "legacy validator token", node: legacy("ZodArray", map[string]any{"type": oid}), want: oid},
		{name: "legacy node with String method", node: legacy("ZodArray", map[string]any{"type": named}), want: named},
		{name: "string tag", node: map[string]any{"def": map[string]any{"type": "array"}}, want: nil},
		{name: "named string tag", node: map[string]any{"def": map[string]any{"type": tag("array")}}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Normalize(tt.node)
			require.Equal(t, types.KindArray, d.Kind)
			assert.Equal(t, tt.want, d.Element)
		})
	}
}

func TestNormalize_ArrayChecks(t *testing.T) {
	d := Normalize(legacy("ZodArray", map[string]any{
		"type":      legacy("ZodString", nil),
		"minLength": map[string]any{"value": 1},
		"maxLength": map[string]any{"value": 5},
	}))
	assert.Equal(t, []Check{
		{Kind: CheckMinLength, Value: 1},
		{Kind: CheckMaxLength, Value: 5},
	}, d.Checks)
}

func TestNormalize_StringChecks(t *testing.T) {
	d := Normalize(legacy("ZodString", map[string]any{"checks": []any{
		map[string]any{"kind": "min", "value": 2},
		map[string]any{"kind": "max", "value": 10},
		map[string]any{"kind": "regex", "regex": regexp.MustCompile(`^[a-z]+$`)},
		map[string]any{"kind": "email"},
	}}))
	assert.Equal(t, []Check{
		{Kind: CheckMinLength, Value: 2},
		{Kind: CheckMaxLength, Value: 10},
		{Kind: CheckPattern, Pattern: `^[a-z]+$`},
		{Kind: CheckFormat, Format: "email"},
	}, d.Checks)

	d = Normalize(current("string", map[string]any{"checks": []any{
		map[string]any{"_zod": map[string]any{"def": map[string]any{"check": "min_length", "minimum": 3}}},
		map[string]any{"_zod": map[string]any{"def": map[string]any{"check": "string_format", "format": "regex", "pattern": "^x"}}},
	}}))
	assert.Equal(t, []Check{
		{Kind: CheckMinLength, Value: 3},
		{Kind: CheckPattern, Pattern: "^x"},
	}, d.Checks)
}

func TestNormalize_ObjectShapes(t *testing.T) {
	name := legacy("ZodString", nil)
	age := legacy("ZodNumber", nil)

	t.Run("map shape sorted", func(t *testing.T) {
		d := Normalize(legacy("ZodObject", map[string]any{"shape": map[string]any{"name": name, "age": age}}))
		assert.Equal(t, []Field{{Name: "age", Schema: age}, {Name: "name", Schema: name}}, d.Fields)
	})

	t.Run("function shape", func(t *testing.T) {
		fn := func() map[string]any { return map[string]any{"name": name} }
		d := Normalize(legacy("ZodObject", map[string]any{"shape": fn}))
		assert.Equal(t, []Field{{Name: "name", Schema: name}}, d.Fields)
	})

	t.Run("panicking function shape", func(t *testing.T) {
		fn := func() map[string]any { panic("boom") }
		d := Normalize(legacy("ZodObject", map[string]any{"shape": fn}))
		assert.Empty(t, d.Fields)
	})

	t.Run("ordered shape", func(t *testing.T) {
		shape := Shape{{Name: "z", Schema: name}, {Name: "a", Schema: age}}
		d := Normalize(current("object", map[string]any{"shape": shape}))
		assert.Equal(t, []Field(shape), d.Fields)
	})
}

type structDef struct {
	TypeName string
	Checks   []any
}

type structNode struct {
	def structDef `json:"_def"`
}

type exportedNode struct {
	Zod struct {
		Def map[string]any
	}
}

func TestNormalize_StructNodes(t *testing.T) {
	n := &structNode{def: structDef{TypeName: "ZodNumber", Checks: []any{map[string]any{"kind": "int"}}}}
	d := Normalize(n)
	assert.Equal(t, types.KindNumber, d.Kind)
	assert.True(t, d.IsInt)

	var e exportedNode
	e.Zod.Def = map[string]any{"type": "boolean"}
	assert.Equal(t, types.KindBoolean, Normalize(e).Kind)
}

func TestNormalize_EnumAndLiteral(t *testing.T) {
	d := Normalize(legacy("ZodEnum", map[string]any{"values": []string{"a", "b"}}))
	assert.Equal(t, []any{"a", "b"}, d.Values)

	d = Normalize(current("enum", map[string]any{"entries": Shape{{Name: "B", Schema: "b"}, {Name: "A", Schema: "a"}}}))
	assert.Equal(t, []any{"b", "a"}, d.Values)

	d = Normalize(legacy("ZodLiteral", map[string]any{"value": 3.5}))
	assert.Equal(t, 3.5, d.Literal)

	d = Normalize(current("literal", map[string]any{"values": []any{"x", "y"}}))
	assert.Equal(t, "x", d.Literal)
	assert.Equal(t, []any{"x", "y"}, d.Literals)
}

func TestNormalize_CustomValidator(t *testing.T) {
	v := typereg.NewValidator("oid", nil)

	d := Normalize(current("custom", map[string]any{"fn": v}))
	assert.Same(t, v, d.Validator)

	d = Normalize(legacy("ZodEffects", map[string]any{
		"schema": legacy("ZodAny", nil),
		"effect": map[string]any{"type": "refinement", "refinement": v},
	}))
	assert.Same(t, v, d.Validator)
	assert.NotNil(t, d.Inner)

	d = Normalize(current("custom", map[string]any{"fn": func(any) bool { return true }}))
	assert.Nil(t, d.Validator)
}

func TestIsOptional(t *testing.T) {
	str := legacy("ZodString", nil)
	opt := legacy("ZodOptional", map[string]any{"innerType": str})

	tests := []struct {
		name string
		node any
		want bool
	}{
		{name: "plain", node: str, want: false},
		{name: "optional", node: opt, want: true},
		{name: "default over optional", node: legacy("ZodDefault", map[string]any{"innerType": opt}), want: true},
		{name: "nullable over optional", node: current("nullable", map[string]any{"innerType": current("optional", map[string]any{"innerType": str})}), want: true},
		{name: "default only", node: legacy("ZodDefault", map[string]any{"innerType": str}), want: false},
		{name: "nullable only", node: legacy("ZodNullable", map[string]any{"innerType": str}), want: false},
		{name: "effects over optional", node: legacy("ZodEffects", map[string]any{"schema": opt}), want: true},
		{name: "custom over optional", node: current("custom", map[string]any{"schema": current("optional", map[string]any{"innerType": str})}), want: true},
		{name: "effects only", node: legacy("ZodEffects", map[string]any{"schema": str}), want: false},
		{name: "custom without inner", node: current("custom", nil), want: false},
		{
			name: "two levels deep",
			node: legacy("ZodReadonly", map[string]any{"innerType": legacy("ZodDefault", map[string]any{"innerType": opt})}),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOptional(tt.node))
		})
	}
}
