// Package schema implements the keyword-based validator over value trees.
//
// A schema is itself a value object carrying the keywords `type`,
// `properties`, `items` and `required`. Validation reports every violation
// with its dotted path; adjustment coerces numeric payloads losslessly
// toward the declared type.
package schema

import (
	"fmt"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/value"
)

// Schema is a compiled validator for one node of a value tree.
type Schema struct {
	typ        value.Type
	properties map[string]*Schema
	propOrder  []string
	items      *Schema
	required   []string
}

// Violation describes one failed check.
type Violation struct {
	Path   string
	Reason string
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Reason
	}
	return fmt.Sprintf("%s: %s", v.Path, v.Reason)
}

// Parse compiles a schema from its value-object form.
func Parse(spec *value.Value) (*Schema, error) {
	if spec == nil || spec.Type() != value.TypeObject {
		return nil, errors.WrapInvalid(errors.ErrSchemaViolation, "Schema", "Parse", "schema must be an object")
	}

	typNode := spec.Peek("type")
	if typNode == nil {
		return nil, errors.WrapInvalid(errors.ErrSchemaViolation, "Schema", "Parse", "missing type keyword")
	}
	typName, err := typNode.GetString()
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrSchemaViolation, "Schema", "Parse", "type keyword must be a string")
	}
	typ := value.TypeFromString(typName)
	if typ == value.TypeInvalid {
		return nil, errors.WrapInvalid(errors.ErrSchemaViolation, "Schema", "Parse",
			fmt.Sprintf("unknown type %q", typName))
	}

	s := &Schema{typ: typ}

	if propsNode := spec.Peek("properties"); propsNode != nil {
		if propsNode.Type() != value.TypeObject {
			return nil, errors.WrapInvalid(errors.ErrSchemaViolation, "Schema", "Parse",
				"properties keyword must be an object")
		}
		keys, _ := propsNode.ObjectKeys()
		s.properties = make(map[string]*Schema, len(keys))
		for _, key := range keys {
			member, _ := propsNode.ObjectGet(key)
			sub, err := Parse(member)
			if err != nil {
				return nil, errors.Wrap(err, "Schema", "Parse", fmt.Sprintf("property %q", key))
			}
			s.properties[key] = sub
			s.propOrder = append(s.propOrder, key)
		}
	}

	if itemsNode := spec.Peek("items"); itemsNode != nil {
		sub, err := Parse(itemsNode)
		if err != nil {
			return nil, errors.Wrap(err, "Schema", "Parse", "items")
		}
		s.items = sub
	}

	if reqNode := spec.Peek("required"); reqNode != nil {
		n, err := reqNode.ArrayLen()
		if err != nil {
			return nil, errors.WrapInvalid(errors.ErrSchemaViolation, "Schema", "Parse",
				"required keyword must be an array")
		}
		for i := 0; i < n; i++ {
			item, _ := reqNode.ArrayGet(i)
			name, err := item.GetString()
			if err != nil {
				return nil, errors.WrapInvalid(errors.ErrSchemaViolation, "Schema", "Parse",
					"required entries must be strings")
			}
			s.required = append(s.required, name)
		}
	}

	return s, nil
}

// ParseJSON compiles a schema from JSON text.
func ParseJSON(text string) (*Schema, error) {
	spec, err := value.FromJSON(text)
	if err != nil {
		return nil, errors.Wrap(err, "Schema", "ParseJSON", "decode")
	}
	return Parse(spec)
}

// Type returns the declared variant for this schema node.
func (s *Schema) Type() value.Type {
	return s.typ
}

// Validate checks v against the schema and returns every violation found.
// A nil result means the value conforms.
func (s *Schema) Validate(v *value.Value) []Violation {
	var out []Violation
	s.validateAt(v, "", &out)
	return out
}

func (s *Schema) validateAt(v *value.Value, path string, out *[]Violation) {
	if v == nil {
		*out = append(*out, Violation{Path: path, Reason: "value is absent"})
		return
	}

	if v.Type() != s.typ {
		*out = append(*out, Violation{
			Path:   path,
			Reason: fmt.Sprintf("expected %s, got %s", s.typ, v.Type()),
		})
		return
	}

	switch s.typ {
	case value.TypeObject:
		for _, name := range s.required {
			member, _ := v.ObjectGet(name)
			if member == nil {
				*out = append(*out, Violation{
					Path:   joinPath(path, name),
					Reason: "required property missing",
				})
			}
		}
		for _, name := range s.propOrder {
			member, _ := v.ObjectGet(name)
			if member == nil {
				continue
			}
			s.properties[name].validateAt(member, joinPath(path, name), out)
		}

	case value.TypeArray:
		if s.items == nil {
			return
		}
		n, _ := v.ArrayLen()
		for i := 0; i < n; i++ {
			item, _ := v.ArrayGet(i)
			s.items.validateAt(item, joinPath(path, fmt.Sprintf("%d", i)), out)
		}
	}
}

// Adjust coerces v in place toward the declared types where the conversion
// is lossless (int32 to int64, float32 to float64, and JSON-parsed int64
// down to a pinned narrower type when the payload fits). It reports a
// schema violation when a value cannot be brought to its declared type.
func (s *Schema) Adjust(v *value.Value) error {
	return s.adjustAt(v, "")
}

func (s *Schema) adjustAt(v *value.Value, path string) error {
	if v == nil {
		return nil
	}

	if v.Type() != s.typ {
		if !s.typ.IsNumeric() || v.Coerce(s.typ) != nil {
			return errors.WrapInvalid(errors.ErrSchemaViolation, "Schema", "Adjust",
				fmt.Sprintf("%s: cannot adjust %s to %s", path, v.Type(), s.typ))
		}
		return nil
	}

	switch s.typ {
	case value.TypeObject:
		if v.Type() != value.TypeObject {
			return nil
		}
		for _, name := range s.propOrder {
			member, _ := v.ObjectGet(name)
			if member == nil {
				continue
			}
			if err := s.properties[name].adjustAt(member, joinPath(path, name)); err != nil {
				return err
			}
		}
	case value.TypeArray:
		if s.items == nil || v.Type() != value.TypeArray {
			return nil
		}
		n, _ := v.ArrayLen()
		for i := 0; i < n; i++ {
			item, _ := v.ArrayGet(i)
			if err := s.items.adjustAt(item, joinPath(path, fmt.Sprintf("%d", i))); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinPath(base, seg string) string {
	if base == "" {
		return seg
	}
	return base + "." + seg
}
