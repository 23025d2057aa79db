package avro

import (
	"fmt"
	"log/slog"
	"strconv"

	"bsonschema/internal/schema/typereg"
	"bsonschema/internal/schema/types"

	"github.com/hamba/avro/v2"
)

// Format implements types.SchemaFormat for Avro
type Format struct{}

// New creates a new Avro format implementation
func New() *Format {
	return &Format{}
}

func (f *Format) Validate(schemaStr string) error {
	if _, err := parse(schemaStr); err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	return nil
}

// ToIntermediate maps an Avro schema to an intermediate JSON Schema. Record
// fields are required unless their type is a union containing null.
func (f *Format) ToIntermediate(schemaStr string, opts types.FormatOptions) (types.Schema, error) {
	schema, err := parse(schemaStr)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	w := walker{diag: opts.Diagnostics, open: map[string]bool{}}
	return w.schema(schema, ""), nil
}

// parse uses a private name cache so unrelated schemas may reuse record names
func parse(schemaStr string) (avro.Schema, error) {
	return avro.ParseWithCache(schemaStr, "", &avro.SchemaCache{})
}

type walker struct {
	diag types.DiagnosticSink
	// records currently being expanded, by full name
	open map[string]bool
}

func (w walker) schema(s avro.Schema, ptr string) types.Schema {
	if ls, ok := s.(avro.LogicalTypeSchema); ok && ls.Logical() != nil {
		if out, ok := logical(ls.Logical()); ok {
			return out
		}
	}

	switch t := s.(type) {
	case *avro.RecordSchema:
		return w.record(t, ptr)

	case *avro.RefSchema:
		return w.schema(t.Schema(), ptr)

	case *avro.EnumSchema:
		symbols := make([]any, 0, len(t.Symbols()))
		for _, sym := range t.Symbols() {
			symbols = append(symbols, sym)
		}
		out := types.Schema{types.TypeKey: "string", "enum": symbols}
		if doc := t.Doc(); doc != "" {
			out["description"] = doc
		}
		return out

	case *avro.ArraySchema:
		return types.Schema{types.TypeKey: "array", "items": w.schema(t.Items(), ptr+"/items")}

	case *avro.MapSchema:
		return types.Schema{types.TypeKey: "object"}

	case *avro.UnionSchema:
		return w.union(t, ptr)

	case *avro.FixedSchema:
		return types.Schema{types.TypeKey: "string", types.HintKey: typereg.BinData}
	}

	switch s.Type() {
	case avro.Null:
		return types.Schema{types.TypeKey: "null"}
	case avro.Boolean:
		return types.Schema{types.TypeKey: "boolean"}
	case avro.Int:
		return types.Schema{types.TypeKey: "integer"}
	case avro.Long:
		return types.Schema{types.TypeKey: "integer", types.HintKey: typereg.Long}
	case avro.Float, avro.Double:
		return types.Schema{types.TypeKey: "number"}
	case avro.String:
		return types.Schema{types.TypeKey: "string"}
	case avro.Bytes:
		return types.Schema{types.TypeKey: "string", types.HintKey: typereg.BinData}
	}

	w.report(types.Diagnostic{
		Code:    types.CodeUnsupportedKind,
		Kind:    string(s.Type()),
		Path:    ptr,
		Message: "unsupported avro type, accepting any value",
	})
	return types.Schema{}
}

func (w walker) record(r *avro.RecordSchema, ptr string) types.Schema {
	name := r.FullName()
	if w.open[name] {
		w.report(types.Diagnostic{
			Code:    types.CodeUnsupportedKind,
			Kind:    string(avro.Record),
			Path:    ptr,
			Message: fmt.Sprintf("recursive reference to %s, accepting any value", name),
		})
		return types.Schema{}
	}
	w.open[name] = true
	defer delete(w.open, name)

	props := make(map[string]any, len(r.Fields()))
	var required []any
	for _, field := range r.Fields() {
		child := w.schema(field.Type(), ptr+"/properties/"+field.Name())
		if doc := field.Doc(); doc != "" {
			child["description"] = doc
		}
		props[field.Name()] = child
		if !nullable(field.Type()) {
			required = append(required, field.Name())
		}
	}

	out := types.Schema{types.TypeKey: "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	if doc := r.Doc(); doc != "" {
		out["description"] = doc
	}
	slog.Debug("Mapped avro record", "name", name, "fields", len(props))
	return out
}

func (w walker) union(u *avro.UnionSchema, ptr string) types.Schema {
	var branches []avro.Schema
	hasNull := false
	for _, t := range u.Types() {
		if t.Type() == avro.Null {
			hasNull = true
			continue
		}
		branches = append(branches, t)
	}

	options := make([]any, 0, len(u.Types()))
	for i, b := range branches {
		options = append(options, w.schema(b, ptr+"/anyOf/"+strconv.Itoa(i)))
	}
	if hasNull {
		options = append(options, types.Schema{types.TypeKey: "null"})
	}
	if len(options) == 1 {
		return options[0].(types.Schema)
	}
	return types.Schema{"anyOf": options}
}

func (w walker) report(d types.Diagnostic) {
	if w.diag != nil {
		w.diag(d)
		return
	}
	slog.Warn("Avro schema node degraded", "code", d.Code, "kind", d.Kind, "path", d.Path, "message", d.Message)
}

// logical maps logical types that have a BSON counterpart
func logical(l avro.LogicalSchema) (types.Schema, bool) {
	switch l.Type() {
	case avro.Date, avro.TimestampMillis, avro.TimestampMicros, avro.LocalTimestampMillis, avro.LocalTimestampMicros:
		return types.Schema{types.TypeKey: "string", types.HintKey: typereg.Date}, true
	case avro.Decimal:
		return types.Schema{types.TypeKey: "string", types.HintKey: typereg.Decimal}, true
	case avro.UUID:
		return types.Schema{types.TypeKey: "string"}, true
	}
	return nil, false
}

func nullable(s avro.Schema) bool {
	u, ok := s.(*avro.UnionSchema)
	if !ok {
		return false
	}
	for _, t := range u.Types() {
		if t.Type() == avro.Null {
			return true
		}
	}
	return false
}
