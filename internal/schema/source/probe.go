package source

import (
	"reflect"
	"sort"
	"strings"
	"unsafe"

	json "github.com/goccy/go-json"
)

// lookup reads key from a map with string keys or from a struct field.
// Struct fields match by json tag, by exact name, or case-insensitively with
// a leading underscore dropped ("_def" matches Def). Unexported fields are
// readable. Nil values are reported as absent.
func lookup(v any, key string) (any, bool) {
	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return nil, false
		}
		return present(mv)
	case reflect.Struct:
		f, ok := structField(rv, key)
		if !ok {
			return nil, false
		}
		return present(f)
	}
	return nil, false
}

// path follows a sequence of keys
func path(v any, keys ...string) (any, bool) {
	cur := v
	for _, k := range keys {
		next, ok := lookup(cur, k)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func structField(rv reflect.Value, key string) (reflect.Value, bool) {
	t := rv.Type()
	alt := strings.TrimPrefix(key, "_")
	match := -1
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if tag, ok := sf.Tag.Lookup("json"); ok {
			if name, _, _ := strings.Cut(tag, ","); name == key {
				match = i
				break
			}
		}
		if sf.Name == key {
			match = i
			break
		}
		if match < 0 && strings.EqualFold(sf.Name, alt) {
			match = i
		}
	}
	if match < 0 {
		return reflect.Value{}, false
	}

	if !rv.CanAddr() {
		tmp := reflect.New(t).Elem()
		tmp.Set(rv)
		rv = tmp
	}
	f := rv.Field(match)
	if !f.CanInterface() {
		f = reflect.NewAt(f.Type(), unsafe.Pointer(f.UnsafeAddr())).Elem()
	}
	return f, true
}

func present(rv reflect.Value) (any, bool) {
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func:
		if rv.IsNil() {
			return nil, false
		}
	}
	return rv.Interface(), true
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

func str(v any, key string) string {
	s, _ := stringOf(v, key)
	return s
}

func stringOf(v any, key string) (string, bool) {
	x, ok := lookup(v, key)
	if !ok {
		return "", false
	}
	return asString(x)
}

func asString(x any) (string, bool) {
	if s, ok := x.(string); ok {
		return s, true
	}
	rv := reflect.ValueOf(x)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

func boolOf(v any, key string) (bool, bool) {
	x, ok := lookup(v, key)
	if !ok {
		return false, false
	}
	rv := reflect.ValueOf(x)
	if rv.Kind() != reflect.Bool {
		return false, false
	}
	return rv.Bool(), true
}

// asFloat converts any Go or JSON number to float64
func asFloat(x any) (float64, bool) {
	switch n := x.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// list returns the elements of any slice or array
func list(x any) ([]any, bool) {
	rv := indirect(reflect.ValueOf(x))
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, rv.Index(i).Interface())
	}
	return out, true
}

// fields turns an object shape into ordered fields. Ordered shapes keep
// their order; plain maps are sorted by key; zero-argument functions are
// called to obtain the shape.
func fields(x any) []Field {
	switch s := x.(type) {
	case Shape:
		return s
	case []Field:
		return s
	}

	rv := indirect(reflect.ValueOf(x))
	if !rv.IsValid() {
		return nil
	}
	switch rv.Kind() {
	case reflect.Func:
		if rv.Type().NumIn() != 0 || rv.Type().NumOut() == 0 || rv.IsNil() {
			return nil
		}
		out, ok := call(rv)
		if !ok {
			return nil
		}
		return fields(out)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		out := make([]Field, 0, len(keys))
		for _, k := range keys {
			mv := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))
			out = append(out, Field{Name: k, Schema: mv.Interface()})
		}
		return out
	}
	return nil
}

// call invokes a zero-argument function, swallowing panics
func call(fn reflect.Value) (out any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			out, ok = nil, false
		}
	}()
	res := fn.Call(nil)
	if len(res) == 0 {
		return nil, false
	}
	if len(res) > 1 {
		if err, isErr := res[len(res)-1].Interface().(error); isErr && err != nil {
			return nil, false
		}
	}
	return present(res[0])
}
