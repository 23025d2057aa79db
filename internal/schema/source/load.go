package source

import (
	"errors"
	"fmt"

	"bsonschema/internal/schema/typereg"

	"gopkg.in/yaml.v3"
)

// ErrEmptyDefinition is returned when a dump holds no document
var ErrEmptyDefinition = errors.New("empty definition")

// LoadOptions configures Load
type LoadOptions struct {
	// Validators binds the names used by custom nodes ("validator: objectId")
	// to the tokens registered under those names
	Validators *typereg.Registry
}

// Load reads a JSON or YAML dump of a definition tree. Object shapes and
// enum entries become Shape values so declaration order survives.
func Load(data []byte, opts LoadOptions) (any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}

	root := &doc
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil, ErrEmptyDefinition
		}
		root = doc.Content[0]
	}
	if root.Kind == 0 {
		return nil, ErrEmptyDefinition
	}

	l := loader{opts: opts}
	return l.value(root, "")
}

type loader struct {
	opts LoadOptions
}

func (l loader) value(n *yaml.Node, key string) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		if n.Alias == nil {
			return nil, fmt.Errorf("line %d: dangling alias", n.Line)
		}
		return l.value(n.Alias, key)

	case yaml.MappingNode:
		if key == "shape" || key == "entries" {
			return l.shape(n)
		}
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i].Value
			v, err := l.value(n.Content[i+1], k)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil

	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := l.value(c, "")
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case yaml.ScalarNode:
		if key == "validator" && n.Tag == "!!str" && l.opts.Validators != nil {
			if e, ok := l.opts.Validators.Get(n.Value); ok && e.Validator != nil {
				return e.Validator, nil
			}
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: decode scalar: %w", n.Line, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: unexpected node kind %d", n.Line, n.Kind)
}

func (l loader) shape(n *yaml.Node) (Shape, error) {
	out := make(Shape, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		v, err := l.value(n.Content[i+1], "")
		if err != nil {
			return nil, err
		}
		out = append(out, Field{Name: n.Content[i].Value, Schema: v})
	}
	return out, nil
}
