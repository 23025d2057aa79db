// Package def translates JSON or YAML dumps of validator-library definition
// trees.
package def

import (
	"fmt"

	"bsonschema/internal/schema/adapter"
	"bsonschema/internal/schema/source"
	"bsonschema/internal/schema/types"
)

// Format implements types.SchemaFormat for definition dumps
type Format struct{}

// New creates a new definition dump format implementation
func New() *Format {
	return &Format{}
}

func (f *Format) Validate(schemaStr string) error {
	node, err := source.Load([]byte(schemaStr), source.LoadOptions{})
	if err != nil {
		return err
	}
	if d := source.Normalize(node); d.Kind == types.KindUnknown {
		return fmt.Errorf("root node has unknown kind %q", d.TypeName)
	}
	return nil
}

// ToIntermediate loads the dump, binding custom validator names to the
// tokens of opts.TypeRegistry, and adapts it.
func (f *Format) ToIntermediate(schemaStr string, opts types.FormatOptions) (types.Schema, error) {
	node, err := source.Load([]byte(schemaStr), source.LoadOptions{Validators: opts.TypeRegistry})
	if err != nil {
		return nil, err
	}

	a := adapter.New(
		adapter.WithRegistry(opts.TypeRegistry),
		adapter.WithDiagnostics(opts.Diagnostics),
	)
	return a.Adapt(node), nil
}
