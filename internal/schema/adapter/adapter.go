// Package adapter lowers validator-library schema trees into intermediate
// JSON Schema documents carrying storage type hints.
package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"bsonschema/internal/schema/source"
	"bsonschema/internal/schema/typereg"
	"bsonschema/internal/schema/types"

	json "github.com/goccy/go-json"
)

// Fallback converts a node the adapter has no rule for
type Fallback func(node any) (types.Schema, error)

// Option configures an Adapter
type Option func(*Adapter)

// WithRegistry sets the registry used to resolve custom validators
func WithRegistry(reg *typereg.Registry) Option {
	return func(a *Adapter) { a.registry = reg }
}

// WithFallback replaces the last-resort conversion for unknown kinds.
// A nil fallback disables it.
func WithFallback(fn Fallback) Option {
	return func(a *Adapter) { a.fallback = fn }
}

// WithDiagnostics sets the sink that receives degradation diagnostics
func WithDiagnostics(sink types.DiagnosticSink) Option {
	return func(a *Adapter) {
		if sink != nil {
			a.diag = sink
		}
	}
}

// WithConstraints controls whether string, number and array constraints
// (minLength, maximum, minItems, ...) are forwarded. Enabled by default.
func WithConstraints(forward bool) Option {
	return func(a *Adapter) { a.constraints = forward }
}

// Adapter converts source nodes into intermediate schemas. It holds no
// per-call state and may be reused.
type Adapter struct {
	registry    *typereg.Registry
	fallback    Fallback
	diag        types.DiagnosticSink
	constraints bool
}

// New creates an Adapter
func New(opts ...Option) *Adapter {
	a := &Adapter{
		fallback:    SelfDescribed,
		diag:        LogDiagnostic,
		constraints: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Adapt converts node using reg for custom types and default settings otherwise
func Adapt(node any, reg *typereg.Registry) types.Schema {
	return New(WithRegistry(reg)).Adapt(node)
}

// Adapt converts node. It never fails: nodes that cannot be represented
// become {} and are reported to the diagnostic sink.
func (a *Adapter) Adapt(node any) types.Schema {
	return a.adapt(node, "")
}

func (a *Adapter) adapt(node any, ptr string) types.Schema {
	d := source.Normalize(node)

	switch d.Kind {
	case types.KindDate:
		return types.Schema{types.TypeKey: "string", types.HintKey: typereg.Date}

	case types.KindCustom:
		return a.custom(node, d, ptr)

	case types.KindString:
		out := types.Schema{types.TypeKey: "string"}
		if a.constraints {
			a.stringConstraints(out, d.Checks)
		}
		return out

	case types.KindNumber:
		out := types.Schema{types.TypeKey: "number"}
		if d.IsInt {
			out[types.TypeKey] = "integer"
		}
		if a.constraints {
			numberConstraints(out, d.Checks)
		}
		return out

	case types.KindBoolean:
		return types.Schema{types.TypeKey: "boolean"}

	case types.KindArray:
		out := types.Schema{types.TypeKey: "array"}
		if d.Element != nil {
			out["items"] = a.adapt(d.Element, ptr+"/items")
		} else {
			out["items"] = types.Schema{}
		}
		if a.constraints {
			arrayConstraints(out, d.Checks)
		}
		return out

	case types.KindObject:
		return a.object(d, ptr)

	case types.KindEnum:
		values := make([]any, len(d.Values))
		copy(values, d.Values)
		return types.Schema{types.TypeKey: "string", "enum": values}

	case types.KindLiteral:
		return literal(d)

	case types.KindUnion:
		options := make([]any, 0, len(d.Options))
		for i, opt := range d.Options {
			options = append(options, a.adapt(opt, ptr+"/anyOf/"+strconv.Itoa(i)))
		}
		return types.Schema{"anyOf": options}

	case types.KindIntersection:
		return types.Schema{"allOf": []any{
			a.adapt(d.Left, ptr+"/allOf/0"),
			a.adapt(d.Right, ptr+"/allOf/1"),
		}}

	case types.KindOptional, types.KindDefault, types.KindReadonly, types.KindCatch, types.KindBranded:
		return a.adapt(d.Inner, ptr)

	case types.KindNullable:
		return types.Schema{"anyOf": []any{
			a.adapt(d.Inner, ptr+"/anyOf/0"),
			types.Schema{types.TypeKey: "null"},
		}}

	case types.KindNull:
		return types.Schema{types.TypeKey: "null"}

	case types.KindRecord:
		return types.Schema{types.TypeKey: "object"}
	}

	return a.unknown(node, d, ptr)
}

func (a *Adapter) custom(node any, d source.Def, ptr string) types.Schema {
	if a.registry != nil && d.Validator != nil {
		if name, ok := a.registry.FindByValidator(d.Validator); ok {
			if e, ok := a.registry.Get(name); ok && e.StorageType != "" {
				return types.Schema{types.TypeKey: "string", types.HintKey: e.StorageType}
			}
		}
	}

	msg := "custom validator has no registered storage type"
	if d.Validator == nil {
		msg = "custom node carries no validator token"
	} else if a.registry == nil {
		msg = "no type registry supplied"
	}
	a.report(types.Diagnostic{
		Code:    types.CodeUnmatchedCustom,
		Kind:    types.KindCustom.String(),
		Path:    ptr,
		Message: msg,
	})
	if out, ok := a.describe(node, d, ptr); ok {
		return out
	}
	return types.Schema{}
}

func (a *Adapter) object(d source.Def, ptr string) types.Schema {
	props := make(map[string]any, len(d.Fields))
	var required []any
	for _, f := range d.Fields {
		props[f.Name] = a.adapt(f.Schema, ptr+"/properties/"+escape(f.Name))
		if !source.IsOptional(f.Schema) {
			required = append(required, f.Name)
		}
	}

	out := types.Schema{types.TypeKey: "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func (a *Adapter) unknown(node any, d source.Def, ptr string) types.Schema {
	if out, ok := a.describe(node, d, ptr); ok {
		return out
	}
	a.report(types.Diagnostic{
		Code:    types.CodeUnsupportedKind,
		Kind:    d.TypeName,
		Path:    ptr,
		Message: fmt.Sprintf("unsupported kind %q, accepting any value", d.TypeName),
	})
	return types.Schema{}
}

// describe asks the fallback for the schema of node. Errors other than
// ErrNotSelfDescribing are reported as fallback_failed.
func (a *Adapter) describe(node any, d source.Def, ptr string) (types.Schema, bool) {
	if a.fallback == nil || node == nil {
		return nil, false
	}
	out, err := a.runFallback(node)
	if err == nil && out != nil {
		return out, true
	}
	if err != nil && !errors.Is(err, ErrNotSelfDescribing) {
		a.report(types.Diagnostic{
			Code:    types.CodeFallbackFailed,
			Kind:    d.TypeName,
			Path:    ptr,
			Message: err.Error(),
		})
	}
	return nil, false
}

func (a *Adapter) runFallback(node any) (out types.Schema, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("fallback panicked: %v", r)
		}
	}()
	return a.fallback(node)
}

func (a *Adapter) report(d types.Diagnostic) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Diagnostic sink panicked", "code", d.Code, "path", d.Path, "panic", r)
		}
	}()
	a.diag(d)
}

// LogDiagnostic is the default sink. It logs at warn level.
func LogDiagnostic(d types.Diagnostic) {
	slog.Warn("Schema node degraded", "code", d.Code, "kind", d.Kind, "path", d.Path, "message", d.Message)
}

func (a *Adapter) stringConstraints(out types.Schema, checks []source.Check) {
	var patterns []string
	for _, c := range checks {
		switch c.Kind {
		case source.CheckMinLength:
			out["minLength"] = count(c.Value)
		case source.CheckMaxLength:
			out["maxLength"] = count(c.Value)
		case source.CheckLength:
			out["minLength"] = count(c.Value)
			out["maxLength"] = count(c.Value)
		case source.CheckPattern:
			patterns = append(patterns, c.Pattern)
		case source.CheckFormat:
			out["format"] = c.Format
		}
	}

	switch len(patterns) {
	case 0:
	case 1:
		out["pattern"] = patterns[0]
	default:
		// one pattern per node; the remaining ones are combined with allOf
		out["pattern"] = patterns[0]
		extra := make([]any, 0, len(patterns)-1)
		for _, p := range patterns[1:] {
			extra = append(extra, types.Schema{"pattern": p})
		}
		out["allOf"] = extra
	}
}

func numberConstraints(out types.Schema, checks []source.Check) {
	for _, c := range checks {
		switch c.Kind {
		case source.CheckMin:
			if c.Inclusive {
				out["minimum"] = number(c.Value)
			} else {
				out["exclusiveMinimum"] = number(c.Value)
			}
		case source.CheckMax:
			if c.Inclusive {
				out["maximum"] = number(c.Value)
			} else {
				out["exclusiveMaximum"] = number(c.Value)
			}
		case source.CheckMultiple:
			out["multipleOf"] = number(c.Value)
		}
	}
}

func arrayConstraints(out types.Schema, checks []source.Check) {
	for _, c := range checks {
		switch c.Kind {
		case source.CheckMinLength:
			out["minItems"] = count(c.Value)
		case source.CheckMaxLength:
			out["maxItems"] = count(c.Value)
		case source.CheckLength:
			out["minItems"] = count(c.Value)
			out["maxItems"] = count(c.Value)
		}
	}
}

func count(f float64) int {
	return int(f)
}

// number keeps integral bounds integral so they encode without a fraction
func number(f float64) any {
	if f == float64(int64(f)) {
		return int64(f)
	}
	return f
}

// literalType names the JSON type of a literal value
// literal emits const for a single value and enum for several. The type is
// kept when every value shares it.
func literal(d source.Def) types.Schema {
	if len(d.Literals) <= 1 {
		return types.Schema{types.TypeKey: literalType(d.Literal), "const": d.Literal}
	}

	values := make([]any, len(d.Literals))
	copy(values, d.Literals)
	out := types.Schema{"enum": values}
	typ := literalType(values[0])
	for _, v := range values[1:] {
		if literalType(v) != typ {
			return out
		}
	}
	out[types.TypeKey] = typ
	return out
}

func literalType(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	}
	return "object"
}

// escape encodes a property name as a JSON Pointer reference token
func escape(name string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(name)
}
