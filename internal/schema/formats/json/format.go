package json

import (
	"bytes"
	"fmt"
	"log/slog"

	"bsonschema/internal/schema/types"

	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Format implements types.SchemaFormat for JSON Schema. A JSON Schema is
// already an intermediate schema, optionally carrying x-bsonType hints.
type Format struct{}

// New creates a new JSON format implementation
func New() *Format {
	return &Format{}
}

func (f *Format) Validate(schemaStr string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader([]byte(schemaStr))); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	if _, err := compiler.Compile("schema.json"); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return nil
}

func (f *Format) ToIntermediate(schemaStr string, opts types.FormatOptions) (types.Schema, error) {
	if err := f.Validate(schemaStr); err != nil {
		return nil, err
	}

	var out types.Schema
	if err := json.Unmarshal([]byte(schemaStr), &out); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("schema must be a JSON object")
	}

	slog.Debug("Loaded JSON schema", "keys", len(out))
	return out, nil
}
