package schema

import (
	"bsonschema/internal/schema/adapter"
	"bsonschema/internal/schema/converter"
	"bsonschema/internal/schema/typereg"
	"bsonschema/internal/schema/types"
)

// Options configures ToIntermediate and ToNative
type Options struct {
	// TypeRegistry resolves custom validators to storage types
	TypeRegistry *typereg.Registry
	// Diagnostics receives degradation diagnostics; nil logs them
	Diagnostics types.DiagnosticSink
	// DropConstraints omits length, bound and pattern constraints
	DropConstraints bool
}

func (o Options) adapter() *adapter.Adapter {
	return adapter.New(
		adapter.WithRegistry(o.TypeRegistry),
		adapter.WithDiagnostics(o.Diagnostics),
		adapter.WithConstraints(!o.DropConstraints),
	)
}

// ToIntermediate converts a source schema into an intermediate JSON Schema
func ToIntermediate(src any, opts Options) types.Schema {
	return opts.adapter().Adapt(src)
}

// ToNative converts a source schema into a MongoDB $jsonSchema validator
func ToNative(src any, opts Options) types.Schema {
	return converter.New(converter.WithDiagnostics(opts.Diagnostics)).Convert(ToIntermediate(src, opts))
}

// Builder is the fluent form of ToIntermediate and ToNative
type Builder struct {
	src  any
	opts Options
}

// From starts a conversion of src
func From(src any) *Builder {
	return &Builder{src: src}
}

// WithTypeRegistry resolves custom nodes against reg
func (b *Builder) WithTypeRegistry(reg *typereg.Registry) *Builder {
	b.opts.TypeRegistry = reg
	return b
}

// WithDiagnostics sends degradation diagnostics to sink
func (b *Builder) WithDiagnostics(sink types.DiagnosticSink) *Builder {
	b.opts.Diagnostics = sink
	return b
}

// WithoutConstraints omits forwarded validation constraints
func (b *Builder) WithoutConstraints() *Builder {
	b.opts.DropConstraints = true
	return b
}

// Intermediate returns the intermediate JSON Schema
func (b *Builder) Intermediate() types.Schema {
	return ToIntermediate(b.src, b.opts)
}

// Native returns the $jsonSchema validator
func (b *Builder) Native() types.Schema {
	return ToNative(b.src, b.opts)
}
