package schema

import (
	"fmt"

	"bsonschema/internal/schema/converter"
	"bsonschema/internal/schema/formats/avro"
	"bsonschema/internal/schema/formats/def"
	jsonformat "bsonschema/internal/schema/formats/json"
	"bsonschema/internal/schema/formats/protobuf"
	"bsonschema/internal/schema/typereg"
	"bsonschema/internal/schema/types"
)

// Translator turns source schemas of every supported format into MongoDB
// validators
type Translator struct {
	formats      map[types.SchemaType]types.SchemaFormat
	typeRegistry *typereg.Registry
}

// NewTranslator creates a translator. reg resolves custom types named in
// DEF schemas; nil means the built-in MongoDB types.
func NewTranslator(reg *typereg.Registry) *Translator {
	if reg == nil {
		reg = typereg.Builtins()
	}
	return &Translator{
		formats: map[types.SchemaType]types.SchemaFormat{
			types.JSON:     jsonformat.New(),
			types.Avro:     avro.New(),
			types.Protobuf: protobuf.New(),
			types.Def:      def.New(),
		},
		typeRegistry: reg,
	}
}

// Format returns the source format registered for schemaType
func (t *Translator) Format(schemaType types.SchemaType) (types.SchemaFormat, error) {
	format, ok := t.formats[schemaType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported schema type %s", ErrInvalidSchema, schemaType)
	}
	return format, nil
}

// Translation holds every stage of a source schema's translation
type Translation struct {
	Intermediate types.Schema       `json:"intermediate"`
	Validator    types.Schema       `json:"validator"`
	Diagnostics  []types.Diagnostic `json:"diagnostics"`
}

// Translate validates a source schema and translates it, collecting the
// diagnostics raised on the way instead of logging them
func (t *Translator) Translate(schemaStr string, schemaType types.SchemaType) (*Translation, error) {
	out := &Translation{Diagnostics: []types.Diagnostic{}}
	collect := func(d types.Diagnostic) { out.Diagnostics = append(out.Diagnostics, d) }

	intermediate, err := t.intermediate(schemaStr, schemaType, collect)
	if err != nil {
		return nil, err
	}
	out.Intermediate = intermediate
	out.Validator = converter.New(converter.WithDiagnostics(collect)).Convert(intermediate)
	return out, nil
}

// Generate validates a source schema and returns its native validator
func (t *Translator) Generate(schemaStr string, schemaType types.SchemaType) (types.Schema, error) {
	intermediate, err := t.intermediate(schemaStr, schemaType, nil)
	if err != nil {
		return nil, err
	}
	return converter.Convert(intermediate), nil
}

func (t *Translator) intermediate(schemaStr string, schemaType types.SchemaType, sink types.DiagnosticSink) (types.Schema, error) {
	format, err := t.Format(schemaType)
	if err != nil {
		return nil, err
	}
	if err := format.Validate(schemaStr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	intermediate, err := format.ToIntermediate(schemaStr, types.FormatOptions{TypeRegistry: t.typeRegistry, Diagnostics: sink})
	if err != nil {
		return nil, fmt.Errorf("%w: translate: %v", ErrInvalidSchema, err)
	}
	return intermediate, nil
}
