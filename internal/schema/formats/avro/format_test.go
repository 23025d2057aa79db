package avro

import (
	"testing"

	"bsonschema/internal/schema/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchema = `{
	"type": "record",
	"name": "User",
	"namespace": "test",
	"doc": "A user",
	"fields": [
		{"name": "id", "type": "long"},
		{"name": "name", "type": "string", "doc": "Display name"},
		{"name": "email", "type": ["null", "string"], "default": null},
		{"name": "age", "type": "int"},
		{"name": "score", "type": "double"},
		{"name": "active", "type": "boolean"},
		{"name": "created", "type": {"type": "long", "logicalType": "timestamp-millis"}},
		{"name": "birthday", "type": {"type": "int", "logicalType": "date"}},
		{"name": "balance", "type": {"type": "bytes", "logicalType": "decimal", "precision": 10, "scale": 2}},
		{"name": "avatar", "type": "bytes"},
		{"name": "tags", "type": {"type": "array", "items": "string"}},
		{"name": "attrs", "type": {"type": "map", "values": "string"}},
		{"name": "status", "type": {"type": "enum", "name": "Status", "symbols": ["ACTIVE", "BANNED"]}},
		{"name": "ref", "type": ["null", "string", "long"]}
	]
}`

func TestFormat_Validate(t *testing.T) {
	f := New()
	assert.NoError(t, f.Validate(userSchema))
	assert.Error(t, f.Validate(`{"type": "record"}`))
	assert.Error(t, f.Validate(`not json`))
}

func TestFormat_ToIntermediate(t *testing.T) {
	out, err := New().ToIntermediate(userSchema, types.FormatOptions{})
	require.NoError(t, err)

	want := types.Schema{
		"type":        "object",
		"description": "A user",
		"required": []any{
			"id", "name", "age", "score", "active", "created", "birthday",
			"balance", "avatar", "tags", "attrs", "status",
		},
		"properties": map[string]any{
			"id":       types.Schema{"type": "integer", "x-bsonType": "long"},
			"name":     types.Schema{"type": "string", "description": "Display name"},
			"email":    types.Schema{"anyOf": []any{types.Schema{"type": "string"}, types.Schema{"type": "null"}}},
			"age":      types.Schema{"type": "integer"},
			"score":    types.Schema{"type": "number"},
			"active":   types.Schema{"type": "boolean"},
			"created":  types.Schema{"type": "string", "x-bsonType": "date"},
			"birthday": types.Schema{"type": "string", "x-bsonType": "date"},
			"balance":  types.Schema{"type": "string", "x-bsonType": "decimal"},
			"avatar":   types.Schema{"type": "string", "x-bsonType": "binData"},
			"tags":     types.Schema{"type": "array", "items": types.Schema{"type": "string"}},
			"attrs":    types.Schema{"type": "object"},
			"status":   types.Schema{"type": "string", "enum": []any{"ACTIVE", "BANNED"}},
			"ref": types.Schema{"anyOf": []any{
				types.Schema{"type": "string"},
				types.Schema{"type": "integer", "x-bsonType": "long"},
				types.Schema{"type": "null"},
			}},
		},
	}
	if d := cmp.Diff(want, out); d != "" {
		t.Errorf("intermediate mismatch (-want +got):\n%s", d)
	}
}

func TestFormat_RecursiveRecord(t *testing.T) {
	schema := `{
		"type": "record",
		"name": "Node",
		"fields": [
			{"name": "value", "type": "string"},
			{"name": "next", "type": ["null", "Node"]}
		]
	}`

	var diags []types.Diagnostic
	out, err := New().ToIntermediate(schema, types.FormatOptions{
		Diagnostics: func(d types.Diagnostic) { diags = append(diags, d) },
	})
	require.NoError(t, err)

	props := out["properties"].(map[string]any)
	assert.Equal(t, types.Schema{"anyOf": []any{types.Schema{}, types.Schema{"type": "null"}}}, props["next"])
	assert.Equal(t, []any{"value"}, out["required"])
	require.Len(t, diags, 1)
	assert.Equal(t, types.CodeUnsupportedKind, diags[0].Code)
	assert.Equal(t, "/properties/next/anyOf/0", diags[0].Path)
}

func TestFormat_SameNameAcrossSchemas(t *testing.T) {
	a := `{"type": "record", "name": "Dup", "fields": [{"name": "a", "type": "int"}]}`
	b := `{"type": "record", "name": "Dup", "fields": [{"name": "b", "type": "string"}]}`

	outA, err := New().ToIntermediate(a, types.FormatOptions{})
	require.NoError(t, err)
	outB, err := New().ToIntermediate(b, types.FormatOptions{})
	require.NoError(t, err)

	assert.Contains(t, outA["properties"], "a")
	assert.Contains(t, outB["properties"], "b")
}
