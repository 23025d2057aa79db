package types

import "bsonschema/internal/schema/typereg"

// Schema is a JSON-shaped schema document. It is used both for the
// intermediate JSON Schema (with storage hints) and for the MongoDB
// $jsonSchema validator produced from it.
type Schema map[string]any

const (
	// TypeKey is the JSON Schema type keyword
	TypeKey = "type"
	// HintKey carries the BSON type an intermediate node stands for
	HintKey = "x-bsonType"
	// NativeTypeKey is the type keyword of the $jsonSchema dialect
	NativeTypeKey = "bsonType"
)

// SchemaType represents the format of a source schema
type SchemaType string

const (
	// JSON represents JSON Schema format
	JSON SchemaType = "JSON"
	// Avro represents Avro format
	Avro SchemaType = "AVRO"
	// Protobuf represents a protobuf FileDescriptorProto in protojson form
	Protobuf SchemaType = "PROTOBUF"
	// Def represents a JSON or YAML dump of a validator-library definition tree
	Def SchemaType = "DEF"
)

// CompatibilityLevel represents the compatibility level between validator versions
type CompatibilityLevel string

const (
	// Backward: every document accepted by the old validator is accepted by the new one
	Backward CompatibilityLevel = "BACKWARD"
	// Forward: every document accepted by the new validator is accepted by the old one
	Forward CompatibilityLevel = "FORWARD"
	// Full: both backward and forward compatibility
	Full CompatibilityLevel = "FULL"
	// None: no compatibility checking
	None CompatibilityLevel = "NONE"
)

// Validator represents a stored validator version for a collection
type Validator struct {
	Source     string     `json:"source"`
	Collection string     `json:"collection"`
	Version    int        `json:"version"`
	ID         int        `json:"id"`
	Type       SchemaType `json:"type"`
	Native     Schema     `json:"validator"`
}

// Kind is the canonical kind of a source schema node, independent of the
// layout the validation library used to describe it.
type Kind int

const (
	KindUnknown Kind = iota
	KindDate
	KindCustom
	KindString
	KindNumber
	KindBoolean
	KindArray
	KindObject
	KindEnum
	KindLiteral
	KindUnion
	KindIntersection
	KindOptional
	KindDefault
	KindNullable
	KindNull
	KindReadonly
	KindCatch
	KindBranded
	KindRecord
)

var kindNames = [...]string{
	KindUnknown:      "unknown",
	KindDate:         "date",
	KindCustom:       "custom",
	KindString:       "string",
	KindNumber:       "number",
	KindBoolean:      "boolean",
	KindArray:        "array",
	KindObject:       "object",
	KindEnum:         "enum",
	KindLiteral:      "literal",
	KindUnion:        "union",
	KindIntersection: "intersection",
	KindOptional:     "optional",
	KindDefault:      "default",
	KindNullable:     "nullable",
	KindNull:         "null",
	KindReadonly:     "readonly",
	KindCatch:        "catch",
	KindBranded:      "branded",
	KindRecord:       "record",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// DiagnosticCode classifies a non-fatal conversion diagnostic
type DiagnosticCode string

const (
	CodeUnsupportedKind DiagnosticCode = "unsupported_kind"
	CodeUnmatchedCustom DiagnosticCode = "unmatched_custom"
	CodeFallbackFailed  DiagnosticCode = "fallback_failed"
	CodeInvalidHint     DiagnosticCode = "invalid_hint"
)

// Diagnostic reports a construct that could not be translated as-is.
// Path is a JSON Pointer into the schema being converted.
type Diagnostic struct {
	Code    DiagnosticCode `json:"code"`
	Kind    string         `json:"kind,omitempty"`
	Path    string         `json:"path"`
	Message string         `json:"message"`
}

// DiagnosticSink receives diagnostics. It must not panic.
type DiagnosticSink func(Diagnostic)

// SchemaFormat defines the interface for source schema format implementations
type SchemaFormat interface {
	// Validate validates a schema string
	Validate(schemaStr string) error
	// ToIntermediate translates a schema string into an intermediate JSON Schema
	ToIntermediate(schemaStr string, opts FormatOptions) (Schema, error)
}

// FormatOptions are passed to SchemaFormat.ToIntermediate
type FormatOptions struct {
	TypeRegistry *typereg.Registry
	Diagnostics  DiagnosticSink
}
