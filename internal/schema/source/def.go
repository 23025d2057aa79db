// Package source normalises validator-library schema nodes.
//
// Nodes come in two layouts. The older one keeps its definition under
// "_def" and tags it with "typeName" (for example "ZodString"); the newer
// one keeps it under "_zod.def" (or "def") and tags it with "type" (for
// example "string"). Nodes may be maps, structs or pointers to either.
// Normalize reads whichever layout is present and returns a Def with the
// canonical fields, so the adapter never looks at raw shapes.
package source

import (
	"reflect"
	"strings"

	"bsonschema/internal/schema/typereg"
	"bsonschema/internal/schema/types"
)

// Field is a named member of an object shape
type Field struct {
	Name   string
	Schema any
}

// Shape is an ordered object shape
type Shape []Field

// Check is a normalised constraint attached to a string, number or array node.
// Kind is one of the Check* constants.
type Check struct {
	Kind      string
	Value     float64
	Inclusive bool
	Pattern   string
	Format    string
}

const (
	CheckMinLength = "min_length"
	CheckMaxLength = "max_length"
	CheckLength    = "length"
	CheckPattern   = "pattern"
	CheckMin       = "min"
	CheckMax       = "max"
	CheckMultiple  = "multiple_of"
	CheckInt       = "int"
	CheckFormat    = "format"
)

// Def is the canonical field set of a source node
type Def struct {
	Kind      types.Kind
	TypeName  string
	Element   any
	Fields    []Field
	Options   []any
	Left      any
	Right     any
	Inner     any
	Values    []any
	Literal   any
	Literals  []any
	Validator *typereg.Validator
	IsInt     bool
	Checks    []Check
}

var legacyKinds = map[string]types.Kind{
	"ZodDate":               types.KindDate,
	"ZodEffects":            types.KindCustom,
	"ZodString":             types.KindString,
	"ZodNumber":             types.KindNumber,
	"ZodBoolean":            types.KindBoolean,
	"ZodArray":              types.KindArray,
	"ZodObject":             types.KindObject,
	"ZodEnum":               types.KindEnum,
	"ZodNativeEnum":         types.KindEnum,
	"ZodLiteral":            types.KindLiteral,
	"ZodUnion":              types.KindUnion,
	"ZodDiscriminatedUnion": types.KindUnion,
	"ZodIntersection":       types.KindIntersection,
	"ZodOptional":           types.KindOptional,
	"ZodDefault":            types.KindDefault,
	"ZodNullable":           types.KindNullable,
	"ZodNull":               types.KindNull,
	"ZodReadonly":           types.KindReadonly,
	"ZodCatch":              types.KindCatch,
	"ZodBranded":            types.KindBranded,
	"ZodRecord":             types.KindRecord,
}

var kinds = map[string]types.Kind{
	"date":         types.KindDate,
	"custom":       types.KindCustom,
	"string":       types.KindString,
	"number":       types.KindNumber,
	"int":          types.KindNumber,
	"boolean":      types.KindBoolean,
	"array":        types.KindArray,
	"object":       types.KindObject,
	"enum":         types.KindEnum,
	"literal":      types.KindLiteral,
	"union":        types.KindUnion,
	"intersection": types.KindIntersection,
	"optional":     types.KindOptional,
	"default":      types.KindDefault,
	"prefault":     types.KindDefault,
	"nullable":     types.KindNullable,
	"null":         types.KindNull,
	"readonly":     types.KindReadonly,
	"catch":        types.KindCatch,
	"record":       types.KindRecord,
}

var intFormats = map[string]bool{
	"safeint": true,
	"int32":   true,
	"uint32":  true,
	"int64":   true,
	"uint64":  true,
}

// Normalize extracts the canonical definition of node
func Normalize(node any) Def {
	if v, ok := node.(*typereg.Validator); ok {
		return Def{Kind: types.KindCustom, TypeName: "validator", Validator: v}
	}

	if def, ok := lookup(node, "_def"); ok {
		if tn, ok := stringOf(def, "typeName"); ok {
			return normalizeLegacy(node, def, tn)
		}
	}
	if def, ok := path(node, "_zod", "def"); ok {
		if t, ok := stringOf(def, "type"); ok {
			return normalizeCurrent(node, def, t)
		}
	}
	if def, ok := lookup(node, "def"); ok {
		if t, ok := stringOf(def, "type"); ok {
			return normalizeCurrent(node, def, t)
		}
	}
	return Def{Kind: types.KindUnknown, TypeName: typeNameOf(node)}
}

func normalizeLegacy(node, def any, typeName string) Def {
	d := Def{Kind: legacyKinds[typeName], TypeName: typeName}

	switch d.Kind {
	case types.KindCustom:
		d.Validator = findValidator(def)
		d.Inner, _ = lookup(def, "schema")
	case types.KindString:
		d.Checks = legacyChecks(def, true)
	case types.KindNumber:
		d.Checks = legacyChecks(def, false)
		d.IsInt = detectInt(node, def, d.Checks)
	case types.KindArray:
		d.Element = element(def)
		d.Checks = legacyArrayChecks(def)
	case types.KindObject:
		d.Fields = shapeOf(node, def)
	case types.KindEnum:
		d.Values = enumValues(node, def)
	case types.KindLiteral:
		d.Literal, _ = lookup(def, "value")
		d.Literals = []any{d.Literal}
	case types.KindUnion:
		d.Options, _ = listAt(def, "options")
	case types.KindIntersection:
		d.Left, _ = lookup(def, "left")
		d.Right, _ = lookup(def, "right")
	case types.KindOptional, types.KindDefault, types.KindNullable, types.KindReadonly, types.KindCatch:
		d.Inner, _ = lookup(def, "innerType")
	case types.KindBranded:
		d.Inner, _ = lookup(def, "type")
	}
	return d
}

func normalizeCurrent(node, def any, typ string) Def {
	d := Def{Kind: kinds[typ], TypeName: typ}

	switch d.Kind {
	case types.KindCustom:
		d.Validator = findValidator(def)
		if d.Validator == nil {
			d.Validator = findValidator(node)
		}
		if d.Inner, _ = lookup(def, "schema"); d.Inner == nil {
			d.Inner, _ = lookup(def, "innerType")
		}
	case types.KindString:
		d.Checks = currentChecks(def)
		if f := str(def, "format"); f != "" && f != "regex" {
			d.Checks = append(d.Checks, Check{Kind: CheckFormat, Format: f})
		}
		if p, ok := stringOf(def, "pattern"); ok {
			d.Checks = append(d.Checks, Check{Kind: CheckPattern, Pattern: p})
		}
	case types.KindNumber:
		d.Checks = currentChecks(def)
		d.IsInt = typ == "int" || detectInt(node, def, d.Checks)
	case types.KindArray:
		d.Element = element(def)
		for _, c := range currentChecks(def) {
			switch c.Kind {
			case CheckMinLength, CheckMaxLength, CheckLength:
				d.Checks = append(d.Checks, c)
			}
		}
	case types.KindObject:
		d.Fields = shapeOf(node, def)
	case types.KindEnum:
		d.Values = enumValues(node, def)
	case types.KindLiteral:
		if vals, ok := listAt(def, "values"); ok && len(vals) > 0 {
			d.Literals = vals
			d.Literal = vals[0]
		} else {
			d.Literal, _ = lookup(def, "value")
			d.Literals = []any{d.Literal}
		}
	case types.KindUnion:
		d.Options, _ = listAt(def, "options")
	case types.KindIntersection:
		d.Left, _ = lookup(def, "left")
		d.Right, _ = lookup(def, "right")
	case types.KindOptional, types.KindDefault, types.KindNullable, types.KindReadonly, types.KindCatch:
		d.Inner, _ = lookup(def, "innerType")
	}
	return d
}

// IsOptional reports whether node is an optional wrapper, looking through
// one level of default, nullable, readonly, catch, branded or custom
// wrappers.
func IsOptional(node any) bool {
	d := Normalize(node)
	switch d.Kind {
	case types.KindOptional:
		return true
	case types.KindDefault, types.KindNullable, types.KindReadonly, types.KindCatch, types.KindBranded, types.KindCustom:
		return d.Inner != nil && Normalize(d.Inner).Kind == types.KindOptional
	}
	return false
}

func element(def any) any {
	if el, ok := lookup(def, "element"); ok {
		return el
	}
	// the older layout stores the element under "type", which must not be
	// confused with a type tag
	if el, ok := lookup(def, "type"); ok {
		if reflect.ValueOf(el).Kind() != reflect.String {
			return el
		}
	}
	return nil
}

func shapeOf(node, def any) []Field {
	if s, ok := lookup(def, "shape"); ok {
		if fs := fields(s); fs != nil {
			return fs
		}
	}
	if s, ok := lookup(node, "shape"); ok {
		return fields(s)
	}
	return nil
}

func enumValues(node, def any) []any {
	if vals, ok := listAt(def, "values"); ok {
		return vals
	}
	if vals, ok := listAt(node, "options"); ok {
		return vals
	}
	if entries, ok := lookup(def, "entries"); ok {
		fs := fields(entries)
		out := make([]any, 0, len(fs))
		for _, f := range fs {
			out = append(out, f.Schema)
		}
		return out
	}
	return nil
}

// findValidator locates a custom validator token in a definition
func findValidator(def any) *typereg.Validator {
	for _, p := range [][]string{{"fn"}, {"validator"}, {"refinement"}, {"effect", "refinement"}, {"effect"}} {
		if x, ok := path(def, p...); ok {
			if v, ok := x.(*typereg.Validator); ok {
				return v
			}
		}
	}
	return nil
}

func detectInt(node, def any, checks []Check) bool {
	if b, ok := boolOf(node, "isInt"); ok {
		return b
	}
	if b, ok := boolOf(def, "isInt"); ok {
		return b
	}
	for _, c := range checks {
		if c.Kind == CheckInt {
			return true
		}
	}
	return intFormats[str(def, "format")]
}

func listAt(v any, key string) ([]any, bool) {
	x, ok := lookup(v, key)
	if !ok {
		return nil, false
	}
	return list(x)
}

func legacyChecks(def any, isString bool) []Check {
	raw, _ := listAt(def, "checks")
	out := make([]Check, 0, len(raw))
	for _, c := range raw {
		kind := str(c, "kind")
		val, _ := lookup(c, "value")
		f, _ := asFloat(val)
		inclusive := true
		if b, ok := boolOf(c, "inclusive"); ok {
			inclusive = b
		}

		switch kind {
		case "min":
			if isString {
				out = append(out, Check{Kind: CheckMinLength, Value: f})
			} else {
				out = append(out, Check{Kind: CheckMin, Value: f, Inclusive: inclusive})
			}
		case "max":
			if isString {
				out = append(out, Check{Kind: CheckMaxLength, Value: f})
			} else {
				out = append(out, Check{Kind: CheckMax, Value: f, Inclusive: inclusive})
			}
		case "length":
			out = append(out, Check{Kind: CheckLength, Value: f})
		case "regex":
			if p, ok := stringOf(c, "regex"); ok {
				out = append(out, Check{Kind: CheckPattern, Pattern: p})
			}
		case "int":
			out = append(out, Check{Kind: CheckInt})
		case "multipleOf":
			out = append(out, Check{Kind: CheckMultiple, Value: f})
		case "email", "url", "uuid", "cuid", "datetime", "ip":
			out = append(out, Check{Kind: CheckFormat, Format: kind})
		}
	}
	return out
}

func legacyArrayChecks(def any) []Check {
	var out []Check
	for _, k := range [...]struct{ key, kind string }{
		{"minLength", CheckMinLength},
		{"maxLength", CheckMaxLength},
		{"exactLength", CheckLength},
	} {
		if v, ok := path(def, k.key, "value"); ok {
			if f, ok := asFloat(v); ok {
				out = append(out, Check{Kind: k.kind, Value: f})
			}
		}
	}
	return out
}

func currentChecks(def any) []Check {
	raw, _ := listAt(def, "checks")
	out := make([]Check, 0, len(raw))
	for _, c := range raw {
		cdef := c
		if d, ok := path(c, "_zod", "def"); ok {
			cdef = d
		} else if d, ok := lookup(c, "def"); ok {
			cdef = d
		}

		inclusive, _ := boolOf(cdef, "inclusive")
		switch str(cdef, "check") {
		case "min_length":
			if f, ok := numberAt(cdef, "minimum"); ok {
				out = append(out, Check{Kind: CheckMinLength, Value: f})
			}
		case "max_length":
			if f, ok := numberAt(cdef, "maximum"); ok {
				out = append(out, Check{Kind: CheckMaxLength, Value: f})
			}
		case "length_equals":
			if f, ok := numberAt(cdef, "length"); ok {
				out = append(out, Check{Kind: CheckLength, Value: f})
			}
		case "greater_than":
			if f, ok := numberAt(cdef, "value"); ok {
				out = append(out, Check{Kind: CheckMin, Value: f, Inclusive: inclusive})
			}
		case "less_than":
			if f, ok := numberAt(cdef, "value"); ok {
				out = append(out, Check{Kind: CheckMax, Value: f, Inclusive: inclusive})
			}
		case "multiple_of":
			if f, ok := numberAt(cdef, "value"); ok {
				out = append(out, Check{Kind: CheckMultiple, Value: f})
			}
		case "number_format":
			if intFormats[str(cdef, "format")] {
				out = append(out, Check{Kind: CheckInt})
			}
		case "string_format":
			if p, ok := stringOf(cdef, "pattern"); ok {
				out = append(out, Check{Kind: CheckPattern, Pattern: p})
			} else if f := str(cdef, "format"); f != "" {
				out = append(out, Check{Kind: CheckFormat, Format: f})
			}
		}
	}
	return out
}

func numberAt(v any, key string) (float64, bool) {
	x, ok := lookup(v, key)
	if !ok {
		return 0, false
	}
	return asFloat(x)
}

func typeNameOf(node any) string {
	t := reflect.TypeOf(node)
	if t == nil {
		return "nil"
	}
	if s, ok := lookup(node, "type"); ok {
		if name, ok := asString(s); ok {
			return name
		}
	}
	return strings.TrimPrefix(t.String(), "*")
}
