package schema

import (
	"encoding/json"
	"fmt"
)

// ValidationKind classifies why a value failed schema validation.
type ValidationKind string

const (
	KindNotAnArray           ValidationKind = "not_an_array"
	KindElementNotAnObject   ValidationKind = "element_not_an_object"
	KindMissingRequiredField ValidationKind = "missing_required_field"
	KindTypeMismatch         ValidationKind = "type_mismatch"
)

// ValidationError is the first rule violation found in a decoded value.
type ValidationError struct {
	Kind     ValidationKind
	Index    int
	Field    string
	Expected FieldType
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindNotAnArray:
		return "expected a JSON array at the top level"
	case KindElementNotAnObject:
		return fmt.Sprintf("element %d is not an object", e.Index)
	case KindMissingRequiredField:
		return fmt.Sprintf("element %d: required field %q is missing or empty", e.Index, e.Field)
	case KindTypeMismatch:
		return fmt.Sprintf("element %d: field %q must be a %s", e.Index, e.Field, typeWord(e.Expected))
	}
	return string(e.Kind)
}

func typeWord(t FieldType) string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	}
	return string(t)
}

// Validate checks a decoded JSON value against the schema. Rules run in
// order and short-circuit on the first failure:
//
//  1. top level must be an array
//  2. every element must be an object
//  3. required fields must be present and neither null nor empty string
//  4. values of declared properties must match their declared type
//
// Keys absent from the schema are permitted and ignored. No coercion is
// performed.
func Validate(value any, s CompiledSchema) error {
	arr, ok := value.([]any)
	if !ok {
		return &ValidationError{Kind: KindNotAnArray}
	}

	for i, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			return &ValidationError{Kind: KindElementNotAnObject, Index: i}
		}

		for _, name := range s.Required {
			v, present := obj[name]
			if !present || v == nil || v == "" {
				return &ValidationError{Kind: KindMissingRequiredField, Index: i, Field: name}
			}
		}

		// Iterate in declaration order so the reported mismatch is
		// deterministic when several fields are wrong.
		for _, p := range s.Properties {
			v, present := obj[p.Name]
			if !present {
				continue
			}
			if !typeMatches(v, p.Type) {
				return &ValidationError{Kind: KindTypeMismatch, Index: i, Field: p.Name, Expected: p.Type}
			}
		}
	}

	return nil
}

func typeMatches(v any, t FieldType) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, int, int64, json.Number:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	}
	return false
}
