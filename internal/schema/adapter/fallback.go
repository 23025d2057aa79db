package adapter

import (
	"errors"
	"fmt"
	"reflect"

	"bsonschema/internal/schema/types"

	json "github.com/goccy/go-json"
)

// ErrNotSelfDescribing is returned by SelfDescribed for nodes without a
// JSONSchema method
var ErrNotSelfDescribing = errors.New("node has no JSONSchema method")

// SelfDescribed is the default fallback. It asks the node for its own JSON
// Schema through a JSONSchema() method returning any JSON-encodable value,
// optionally followed by an error, and decodes the result into a Schema.
func SelfDescribed(node any) (types.Schema, error) {
	rv := reflect.ValueOf(node)
	if !rv.IsValid() {
		return nil, ErrNotSelfDescribing
	}
	m := rv.MethodByName("JSONSchema")
	if !m.IsValid() || m.Type().NumIn() != 0 || m.Type().NumOut() == 0 {
		return nil, ErrNotSelfDescribing
	}

	res := m.Call(nil)
	if len(res) > 1 {
		if err, ok := res[len(res)-1].Interface().(error); ok && err != nil {
			return nil, fmt.Errorf("generate JSON schema: %w", err)
		}
	}

	switch s := res[0].Interface().(type) {
	case types.Schema:
		return s, nil
	case map[string]any:
		return types.Schema(s), nil
	}

	data, err := json.Marshal(res[0].Interface())
	if err != nil {
		return nil, fmt.Errorf("encode JSON schema: %w", err)
	}
	var out types.Schema
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode JSON schema: %w", err)
	}
	if out == nil {
		return nil, errors.New("JSON schema is null")
	}
	return out, nil
}
