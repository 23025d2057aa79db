package schema

import (
	"errors"
	"fmt"
	"sort"

	"bsonschema/internal/schema/types"
)

// ErrIncompatible is returned when a validator change violates the
// collection's compatibility level
var ErrIncompatible = errors.New("incompatible validator")

// CheckValidators reports whether replacing the native validator old with
// next satisfies level. Backward means every document accepted by old is
// accepted by next; forward is the converse.
func CheckValidators(old, next types.Schema, level types.CompatibilityLevel) error {
	switch level {
	case types.None:
		return nil
	case types.Backward:
		return accepts(next, old, "")
	case types.Forward:
		return accepts(old, next, "")
	case types.Full:
		if err := accepts(next, old, ""); err != nil {
			return err
		}
		return accepts(old, next, "")
	}
	return fmt.Errorf("unsupported compatibility level: %s", level)
}

// numeric is the $jsonSchema alias matching every numeric BSON type
var numeric = map[string]bool{"int": true, "long": true, "double": true, "decimal": true}

// accepts checks that every document valid under narrow is valid under wide
func accepts(wide, narrow map[string]any, path string) error {
	for _, name := range requiredOf(wide) {
		if !contains(requiredOf(narrow), name) {
			return fmt.Errorf("%w: field %s is newly required", ErrIncompatible, join(path, name))
		}
	}

	if wt := bsonTypes(wide); wt != nil {
		nt := bsonTypes(narrow)
		if nt == nil {
			return fmt.Errorf("%w: %s gained a type restriction", ErrIncompatible, describe(path))
		}
		for _, t := range nt {
			if !typeAccepted(wt, t) {
				return fmt.Errorf("%w: %s changed type from %v to %v", ErrIncompatible, describe(path), nt, wt)
			}
		}
	}

	if we, ok := wide["enum"].([]any); ok {
		ne, ok := narrow["enum"].([]any)
		if !ok {
			return fmt.Errorf("%w: %s gained an enum restriction", ErrIncompatible, describe(path))
		}
		for _, v := range ne {
			if !containsValue(we, v) {
				return fmt.Errorf("%w: %s no longer allows %v", ErrIncompatible, describe(path), v)
			}
		}
	}

	wp, _ := asMap(wide["properties"])
	np, _ := asMap(narrow["properties"])
	names := make([]string, 0, len(wp))
	for name := range wp {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, ok := asMap(wp[name])
		if !ok {
			continue
		}
		n, ok := asMap(np[name])
		if !ok {
			continue
		}
		if err := accepts(w, n, join(path, name)); err != nil {
			return err
		}
	}

	if wi, ok := asMap(wide["items"]); ok {
		if ni, ok := asMap(narrow["items"]); ok {
			if err := accepts(wi, ni, path+"[]"); err != nil {
				return err
			}
		}
	}
	return nil
}

func requiredOf(s map[string]any) []string {
	var out []string
	switch r := s["required"].(type) {
	case []any:
		for _, v := range r {
			if name, ok := v.(string); ok {
				out = append(out, name)
			}
		}
	case []string:
		out = append(out, r...)
	}
	return out
}

func bsonTypes(s map[string]any) []string {
	switch t := s[types.NativeTypeKey].(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if name, ok := v.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

func typeAccepted(allowed []string, t string) bool {
	for _, a := range allowed {
		if a == t || (a == "number" && numeric[t]) {
			return true
		}
	}
	return false
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

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsValue(list []any, v any) bool {
	for _, x := range list {
		if fmt.Sprint(x) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func describe(path string) string {
	if path == "" {
		return "document"
	}
	return "field " + path
}
