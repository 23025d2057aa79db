// Package mongo builds MongoDB commands that install generated validators.
package mongo

import (
	"fmt"
	"math"
	"sort"

	"bsonschema/internal/schema/types"

	"go.mongodb.org/mongo-driver/bson"
)

// ValidationLevel controls which writes MongoDB validates
type ValidationLevel string

const (
	LevelStrict   ValidationLevel = "strict"
	LevelModerate ValidationLevel = "moderate"
	LevelOff      ValidationLevel = "off"
)

// ValidationAction controls what MongoDB does with invalid documents
type ValidationAction string

const (
	ActionError ValidationAction = "error"
	ActionWarn  ValidationAction = "warn"
)

// CommandOptions configures the validation settings of a command. Empty
// fields are left to the server default.
type CommandOptions struct {
	Level  ValidationLevel
	Action ValidationAction
}

func (o CommandOptions) validate() error {
	switch o.Level {
	case "", LevelStrict, LevelModerate, LevelOff:
	default:
		return fmt.Errorf("invalid validation level: %s", o.Level)
	}
	switch o.Action {
	case "", ActionError, ActionWarn:
	default:
		return fmt.Errorf("invalid validation action: %s", o.Action)
	}
	return nil
}

// CreateCollectionCommand returns a create command for collection with
// validator installed as its $jsonSchema rule
func CreateCollectionCommand(collection string, validator types.Schema, opts CommandOptions) (bson.D, error) {
	return command("create", collection, validator, opts)
}

// CollModCommand returns a collMod command replacing the validator of an
// existing collection
func CollModCommand(collection string, validator types.Schema, opts CommandOptions) (bson.D, error) {
	return command("collMod", collection, validator, opts)
}

func command(name, collection string, validator types.Schema, opts CommandOptions) (bson.D, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is empty")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	cmd := bson.D{
		{Key: name, Value: collection},
		{Key: "validator", Value: bson.D{{Key: "$jsonSchema", Value: Document(validator)}}},
	}
	if opts.Level != "" {
		cmd = append(cmd, bson.E{Key: "validationLevel", Value: string(opts.Level)})
	}
	if opts.Action != "" {
		cmd = append(cmd, bson.E{Key: "validationAction", Value: string(opts.Action)})
	}
	return cmd, nil
}

// Document converts a validator into an ordered BSON document. bsonType
// comes first; the other keys are sorted. Integral JSON numbers become
// BSON integers.
func Document(validator map[string]any) bson.D {
	keys := make([]string, 0, len(validator))
	for k := range validator {
		if k != types.NativeTypeKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	doc := make(bson.D, 0, len(validator))
	if t, ok := validator[types.NativeTypeKey]; ok {
		doc = append(doc, bson.E{Key: types.NativeTypeKey, Value: value(t)})
	}
	for _, k := range keys {
		doc = append(doc, bson.E{Key: k, Value: value(validator[k])})
	}
	return doc
}

func value(v any) any {
	switch x := v.(type) {
	case types.Schema:
		return Document(x)
	case map[string]any:
		return Document(x)
	case []any:
		out := make(bson.A, len(x))
		for i, item := range x {
			out[i] = value(item)
		}
		return out
	case []string:
		out := make(bson.A, len(x))
		for i, item := range x {
			out[i] = item
		}
		return out
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			if x >= math.MinInt32 && x <= math.MaxInt32 {
				return int32(x)
			}
			if x >= -(1<<63) && x < (1<<63) {
				return int64(x)
			}
		}
		return x
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return int32(x)
		}
		return int64(x)
	}
	return v
}

// ExtJSON renders a command as MongoDB extended JSON. Canonical output
// keeps exact BSON types ({"$numberInt": "1"}); relaxed output is plain JSON
// where possible.
func ExtJSON(cmd bson.D, canonical bool) ([]byte, error) {
	data, err := bson.MarshalExtJSON(cmd, canonical, false)
	if err != nil {
		return nil, fmt.Errorf("marshal extended JSON: %w", err)
	}
	return data, nil
}
