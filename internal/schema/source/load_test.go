package source

import (
	"testing"

	"bsonschema/internal/schema/typereg"
	"bsonschema/internal/schema/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userDump = `
_def:
  typeName: ZodObject
  shape:
    _id:
      _def:
        typeName: ZodEffects
        validator: objectId
    name:
      _def:
        typeName: ZodString
    age:
      _def:
        typeName: ZodOptional
        innerType:
          _def:
            typeName: ZodNumber
            checks:
              - kind: int
`

func TestLoad_PreservesShapeOrder(t *testing.T) {
	node, err := Load([]byte(userDump), LoadOptions{Validators: typereg.Builtins()})
	require.NoError(t, err)

	d := Normalize(node)
	require.Equal(t, types.KindObject, d.Kind)

	names := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"_id", "name", "age"}, names)

	id := Normalize(d.Fields[0].Schema)
	assert.Equal(t, types.KindCustom, id.Kind)
	assert.Same(t, typereg.ObjectIDValidator, id.Validator)

	assert.True(t, IsOptional(d.Fields[2].Schema))
	age := Normalize(Normalize(d.Fields[2].Schema).Inner)
	assert.True(t, age.IsInt)
}

func TestLoad_UnknownValidatorStaysAName(t *testing.T) {
	node, err := Load([]byte(userDump), LoadOptions{Validators: typereg.New()})
	require.NoError(t, err)

	d := Normalize(node)
	require.NotEmpty(t, d.Fields)
	id := Normalize(d.Fields[0].Schema)
	assert.Equal(t, types.KindCustom, id.Kind)
	assert.Nil(t, id.Validator)

	v, ok := path(d.Fields[0].Schema, "_def", "validator")
	require.True(t, ok)
	assert.Equal(t, "objectId", v)
}

func TestLoad_JSON(t *testing.T) {
	data := `{"_zod":{"def":{"type":"enum","entries":{"B":"b","A":"a"}}}}`
	node, err := Load([]byte(data), LoadOptions{})
	require.NoError(t, err)

	d := Normalize(node)
	assert.Equal(t, types.KindEnum, d.Kind)
	assert.Equal(t, []any{"b", "a"}, d.Values)
}

func TestLoad_Aliases(t *testing.T) {
	data := `
str: &s
  _def:
    typeName: ZodString
node:
  _def:
    typeName: ZodArray
    type: *s
`
	doc, err := Load([]byte(data), LoadOptions{})
	require.NoError(t, err)

	node, ok := lookup(doc, "node")
	require.True(t, ok)
	d := Normalize(node)
	require.Equal(t, types.KindArray, d.Kind)
	assert.Equal(t, types.KindString, Normalize(d.Element).Kind)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load([]byte(""), LoadOptions{})
	assert.ErrorIs(t, err, ErrEmptyDefinition)

	_, err = Load([]byte("_def: [unclosed"), LoadOptions{})
	assert.Error(t, err)
}
