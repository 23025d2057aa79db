package converter

import (
	"log/slog"
	"os"
	"testing"

	"bsonschema/internal/schema/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(h))
	os.Exit(m.Run())
}

func diff(t *testing.T, want, got types.Schema) {
	t.Helper()
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("validator mismatch (-want +got):\n%s", d)
	}
}

func TestConvert_Primitives(t *testing.T) {
	tests := []struct {
		jsonType string
		want     string
	}{
		{jsonType: "string", want: "string"},
		{jsonType: "number", want: "double"},
		{jsonType: "integer", want: "int"},
		{jsonType: "boolean", want: "bool"},
		{jsonType: "array", want: "array"},
		{jsonType: "object", want: "object"},
		{jsonType: "null", want: "null"},
		{jsonType: "decimal128", want: "decimal128"},
	}

	for _, tt := range tests {
		t.Run(tt.jsonType, func(t *testing.T) {
			diff(t, types.Schema{"bsonType": tt.want}, Convert(types.Schema{"type": tt.jsonType}))
		})
	}
}

func TestConvert_TypeList(t *testing.T) {
	diff(t, types.Schema{"bsonType": []any{"string", "null"}}, Convert(types.Schema{"type": []any{"string", "null"}}))
	diff(t, types.Schema{"bsonType": []any{"int", "double"}}, Convert(types.Schema{"type": []string{"integer", "number"}}))
}

func TestConvert_HintPrecedence(t *testing.T) {
	tests := []struct {
		name string
		in   types.Schema
		want types.Schema
	}{
		{
			name: "date",
			in:   types.Schema{"type": "string", "x-bsonType": "date"},
			want: types.Schema{"bsonType": "date"},
		},
		{
			name: "objectId",
			in:   types.Schema{"type": "string", "x-bsonType": "objectId"},
			want: types.Schema{"bsonType": "objectId"},
		},
		{
			name: "unknown hint verbatim",
			in:   types.Schema{"type": "number", "x-bsonType": "decimal"},
			want: types.Schema{"bsonType": "decimal"},
		},
		{
			name: "hint without type",
			in:   types.Schema{"x-bsonType": "long"},
			want: types.Schema{"bsonType": "long"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff(t, tt.want, Convert(tt.in))
		})
	}
}

func TestConvert_InvalidHint(t *testing.T) {
	var got []types.Diagnostic
	c := New(WithDiagnostics(func(d types.Diagnostic) { got = append(got, d) }))

	out := c.Convert(types.Schema{"properties": map[string]any{
		"n": types.Schema{"type": "integer", "x-bsonType": 7},
	}})
	diff(t, types.Schema{"properties": map[string]any{"n": types.Schema{"bsonType": "int"}}}, out)

	require.Len(t, got, 1)
	assert.Equal(t, types.CodeInvalidHint, got[0].Code)
	assert.Equal(t, "/properties/n/x-bsonType", got[0].Path)
	assert.Equal(t, "int", got[0].Kind)
}

func TestConvert_Denylist(t *testing.T) {
	values := map[string]any{
		"title":                "T",
		"description":          "D",
		"examples":             []any{"e"},
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"default":              "x",
		"format":               "email",
		"additionalProperties": false,
	}

	for kw, v := range values {
		t.Run(kw, func(t *testing.T) {
			out := Convert(types.Schema{"type": "string", kw: v})
			assert.NotContains(t, out, kw)
			diff(t, types.Schema{"bsonType": "string"}, out)
		})
	}
}

func TestConvert_PassThrough(t *testing.T) {
	in := types.Schema{
		"type":      "string",
		"minLength": 1,
		"maxLength": 5,
		"pattern":   "^a",
		"enum":      []any{"a", "ab"},
	}
	diff(t, types.Schema{
		"bsonType":  "string",
		"minLength": 1,
		"maxLength": 5,
		"pattern":   "^a",
		"enum":      []any{"a", "ab"},
	}, Convert(in))

	arr := Convert(types.Schema{"type": "array", "minItems": 1, "maxItems": 3})
	diff(t, types.Schema{"bsonType": "array", "minItems": 1, "maxItems": 3}, arr)
}

func TestConvert_Empty(t *testing.T) {
	diff(t, types.Schema{}, Convert(types.Schema{}))
}

func TestConvert_Composition(t *testing.T) {
	diff(t,
		types.Schema{"allOf": []any{types.Schema{"bsonType": "string"}, types.Schema{"bsonType": "double"}}},
		Convert(types.Schema{"allOf": []any{types.Schema{"type": "string"}, types.Schema{"type": "number"}}}),
	)

	diff(t,
		types.Schema{"oneOf": []any{types.Schema{"bsonType": "bool"}, types.Schema{"bsonType": "null"}}},
		Convert(types.Schema{"oneOf": []map[string]any{{"type": "boolean"}, {"type": "null"}}}),
	)

	diff(t,
		types.Schema{"anyOf": []any{types.Schema{"bsonType": "int"}}},
		Convert(types.Schema{"anyOf": []types.Schema{{"type": "integer"}}}),
	)

	diff(t,
		types.Schema{"not": types.Schema{"bsonType": "null"}},
		Convert(types.Schema{"not": map[string]any{"type": "null"}}),
	)
}

func TestConvert_Nested(t *testing.T) {
	in := types.Schema{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"title":   "User",
		"type":    "object",
		"properties": map[string]any{
			"_id":  map[string]any{"type": "string", "x-bsonType": "objectId"},
			"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string", "format": "hostname"}},
			"meta": map[string]any{
				"type":                 "object",
				"additionalProperties": true,
				"properties":           map[string]any{"at": map[string]any{"type": "string", "x-bsonType": "date"}},
			},
		},
		"required": []any{"_id"},
	}

	want := types.Schema{
		"bsonType": "object",
		"properties": map[string]any{
			"_id":  types.Schema{"bsonType": "objectId"},
			"tags": types.Schema{"bsonType": "array", "items": types.Schema{"bsonType": "string"}},
			"meta": types.Schema{
				"bsonType":   "object",
				"properties": map[string]any{"at": types.Schema{"bsonType": "date"}},
			},
		},
		"required": []any{"_id"},
	}
	diff(t, want, Convert(in))
}

func TestConvert_DoesNotMutateInput(t *testing.T) {
	in := types.Schema{
		"type":  "array",
		"title": "list",
		"items": map[string]any{"type": "string", "x-bsonType": "date", "default": "now"},
	}
	before := cmp.Diff(types.Schema{}, in)

	_ = Convert(in)

	assert.Equal(t, before, cmp.Diff(types.Schema{}, in))
	items := in["items"].(map[string]any)
	assert.Equal(t, "string", items["type"])
	assert.Equal(t, "date", items["x-bsonType"])
	assert.Equal(t, "now", items["default"])
	assert.Equal(t, "list", in["title"])
}
