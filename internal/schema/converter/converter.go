// Package converter turns JSON Schema documents, including intermediate
// schemas with storage hints, into MongoDB $jsonSchema validators.
package converter

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"bsonschema/internal/schema/typereg"
	"bsonschema/internal/schema/types"
)

// primitive maps JSON Schema type names to BSON type aliases
var primitive = map[string]string{
	"string":  typereg.String,
	"number":  typereg.Double,
	"integer": typereg.Int,
	"boolean": typereg.Bool,
	"array":   typereg.Array,
	"object":  typereg.Object,
	"null":    typereg.Null,
}

// hints maps known storage hints to BSON type aliases. Unknown hints pass
// through verbatim.
var hints = map[string]string{
	typereg.Date:     typereg.Date,
	typereg.ObjectID: typereg.ObjectID,
}

// dropped keywords are not supported inside a $jsonSchema validator
var dropped = map[string]bool{
	"title":                true,
	"description":          true,
	"examples":             true,
	"$schema":              true,
	"default":              true,
	"format":               true,
	"additionalProperties": true,
}

// Option configures a Converter
type Option func(*Converter)

// WithDiagnostics sets the sink that receives invalid hint diagnostics
func WithDiagnostics(sink types.DiagnosticSink) Option {
	return func(c *Converter) {
		if sink != nil {
			c.diag = sink
		}
	}
}

// Converter rewrites JSON Schema into the $jsonSchema dialect
type Converter struct {
	diag types.DiagnosticSink
}

// New creates a Converter
func New(opts ...Option) *Converter {
	c := &Converter{diag: logDiagnostic}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert converts node with the default diagnostic sink
func Convert(node types.Schema) types.Schema {
	return New().Convert(node)
}

// Convert returns the $jsonSchema form of node. The input is not modified.
func (c *Converter) Convert(node types.Schema) types.Schema {
	return c.convert(node, "")
}

func (c *Converter) convert(node map[string]any, ptr string) types.Schema {
	out := make(types.Schema, len(node))

	typed := false
	if hint, ok := node[types.HintKey]; ok {
		if s, isStr := hint.(string); isStr {
			out[types.NativeTypeKey] = nativeHint(s)
			typed = true
		} else {
			c.report(types.Diagnostic{
				Code:    types.CodeInvalidHint,
				Kind:    fmt.Sprintf("%T", hint),
				Path:    ptr + "/" + types.HintKey,
				Message: "storage hint must be a string, ignoring it",
			})
		}
	}
	if !typed {
		if t, ok := node[types.TypeKey]; ok {
			if native, ok := nativeType(t); ok {
				out[types.NativeTypeKey] = native
			}
		}
	}

	for k, v := range node {
		if k == types.TypeKey || k == types.HintKey || dropped[k] {
			continue
		}
		at := ptr + "/" + escape(k)

		switch k {
		case "properties":
			out[k] = c.properties(v, at)
		case "items", "not":
			if child, ok := asMap(v); ok {
				out[k] = c.convert(child, at)
			} else {
				out[k] = v
			}
		case "allOf", "anyOf", "oneOf":
			out[k] = c.list(v, at)
		default:
			out[k] = v
		}
	}
	return out
}

func (c *Converter) properties(v any, ptr string) any {
	props, ok := asMap(v)
	if !ok {
		return v
	}
	out := make(map[string]any, len(props))
	for name, child := range props {
		if m, ok := asMap(child); ok {
			out[name] = c.convert(m, ptr+"/"+escape(name))
		} else {
			out[name] = child
		}
	}
	return out
}

func (c *Converter) list(v any, ptr string) any {
	var items []any
	switch l := v.(type) {
	case []any:
		items = l
	case []map[string]any:
		items = make([]any, len(l))
		for i, m := range l {
			items[i] = m
		}
	case []types.Schema:
		items = make([]any, len(l))
		for i, m := range l {
			items[i] = m
		}
	default:
		return v
	}

	out := make([]any, len(items))
	for i, item := range items {
		if m, ok := asMap(item); ok {
			out[i] = c.convert(m, ptr+"/"+strconv.Itoa(i))
		} else {
			out[i] = item
		}
	}
	return out
}

func (c *Converter) report(d types.Diagnostic) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Diagnostic sink panicked", "code", d.Code, "path", d.Path, "panic", r)
		}
	}()
	c.diag(d)
}

func logDiagnostic(d types.Diagnostic) {
	slog.Warn("Invalid schema node", "code", d.Code, "kind", d.Kind, "path", d.Path, "message", d.Message)
}

func nativeHint(hint string) string {
	if native, ok := hints[hint]; ok {
		return native
	}
	return hint
}

// nativeType maps a type keyword that is a string or a list of strings
func nativeType(t any) (any, bool) {
	switch v := t.(type) {
	case string:
		return mapPrimitive(v), true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = mapPrimitive(s)
		}
		return out, true
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			s, ok := x.(string)
			if !ok {
				out[i] = x
				continue
			}
			out[i] = mapPrimitive(s)
		}
		return out, true
	}
	return nil, false
}

func mapPrimitive(name string) string {
	if native, ok := primitive[name]; ok {
		return native
	}
	return name
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case types.Schema:
		return m, true
	case map[string]any:
		return m, true
	}
	return nil, false
}

func escape(name string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(name)
}
