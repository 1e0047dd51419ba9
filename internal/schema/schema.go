package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldType is the closed set of value types a field can declare.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
)

func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean:
		return true
	}
	return false
}

// FieldDefinition is a user-authored field. The description is a
// prompt-only hint and never becomes part of the compiled schema.
type FieldDefinition struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

// Property is one compiled schema entry. Order follows the field list
// the schema was compiled from.
type Property struct {
	Name string
	Type FieldType
}

// CompiledSchema is the structural contract extracted data must satisfy:
// an array of flat objects with these properties, the named subset
// required. Treat values as immutable once compiled.
type CompiledSchema struct {
	Properties []Property
	Required   []string
}

// Compile builds a CompiledSchema from a field list. Pure and
// deterministic. Fields with blank names are dropped; an invalid type
// falls back to string. Duplicate names (which ValidateForSave rejects
// upstream) resolve last-write-wins on the type, keeping the first-seen
// position; required-ness is the union of occurrences.
func Compile(fields []FieldDefinition) CompiledSchema {
	props := make([]Property, 0, len(fields))
	index := make(map[string]int, len(fields))
	required := make([]string, 0)
	requiredSeen := make(map[string]bool)

	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		ft := f.Type
		if !ft.Valid() {
			ft = TypeString
		}
		if i, ok := index[name]; ok {
			props[i].Type = ft
		} else {
			index[name] = len(props)
			props = append(props, Property{Name: name, Type: ft})
		}
		if f.Required && !requiredSeen[name] {
			requiredSeen[name] = true
			required = append(required, name)
		}
	}

	return CompiledSchema{Properties: props, Required: required}
}

// ErrEmptyFieldSet rejects a field list with no usable names.
var ErrEmptyFieldSet = errors.New("at least one field with a non-empty name is required")

// DuplicateFieldNameError rejects a field list where two trimmed names collide.
type DuplicateFieldNameError struct {
	Name string
}

func (e *DuplicateFieldNameError) Error() string {
	return fmt.Sprintf("duplicate field name %q", e.Name)
}

// ValidateForSave checks a field list before it may be frozen into a
// template. This is the only place name-uniqueness is enforced; Compile
// itself does not re-validate.
func ValidateForSave(fields []FieldDefinition) error {
	seen := make(map[string]bool)
	named := 0
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		named++
		if seen[name] {
			return &DuplicateFieldNameError{Name: name}
		}
		seen[name] = true
	}
	if named == 0 {
		return ErrEmptyFieldSet
	}
	return nil
}

// PropertyType returns the declared type for a property name.
func (s CompiledSchema) PropertyType(name string) (FieldType, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p.Type, true
		}
	}
	return "", false
}

type orderedProperties []Property

// MarshalJSON writes properties as a JSON object preserving field order.
// encoding/json would sort a map's keys, losing the authored order.
func (p orderedProperties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(prop.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteString(`:{"type":"`)
		buf.WriteString(string(prop.Type))
		buf.WriteString(`"}`)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type itemsDocument struct {
	Type       string            `json:"type"`
	Properties orderedProperties `json:"properties"`
	Required   []string          `json:"required"`
}

type schemaDocument struct {
	Type  string        `json:"type"`
	Items itemsDocument `json:"items"`
}

// MarshalJSON renders the canonical array-of-objects schema document.
func (s CompiledSchema) MarshalJSON() ([]byte, error) {
	required := s.Required
	if required == nil {
		required = []string{}
	}
	return json.Marshal(schemaDocument{
		Type: "array",
		Items: itemsDocument{
			Type:       "object",
			Properties: orderedProperties(s.Properties),
			Required:   required,
		},
	})
}

// UnmarshalJSON parses a schema document back into a CompiledSchema.
// Accepts the legacy template form (a raw schema with no field
// metadata). Property order in the document is preserved.
func (s *CompiledSchema) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDocument(data)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Indented is the canonical indented serialization embedded verbatim in
// extraction prompts.
func (s CompiledSchema) Indented() string {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		// Marshal of a CompiledSchema cannot fail: all parts are plain values.
		return ""
	}
	return string(b)
}

// Check compiles the generated schema document with a real JSON-Schema
// compiler as a structural sanity check at save time. It does not
// replace Validate, whose rules (empty string counts as a missing
// required value) are not expressible in JSON Schema.
func (s CompiledSchema) Check() error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	if _, err := compiler.Compile("schema.json"); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return nil
}

// ParseDocument reads a schema document of the canonical shape
// {"type":"array","items":{"properties":...,"required":...}} keeping
// property order as written.
func ParseDocument(data []byte) (CompiledSchema, error) {
	var doc struct {
		Type  string `json:"type"`
		Items struct {
			Type       string          `json:"type"`
			Properties json.RawMessage `json:"properties"`
			Required   []string        `json:"required"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return CompiledSchema{}, fmt.Errorf("parse schema document: %w", err)
	}
	if doc.Type != "array" {
		return CompiledSchema{}, fmt.Errorf("schema document must have type \"array\", got %q", doc.Type)
	}

	props, err := parseProperties(doc.Items.Properties)
	if err != nil {
		return CompiledSchema{}, err
	}

	required := doc.Items.Required
	if required == nil {
		required = []string{}
	}
	names := make(map[string]bool, len(props))
	for _, p := range props {
		names[p.Name] = true
	}
	for _, r := range required {
		if !names[r] {
			return CompiledSchema{}, fmt.Errorf("required name %q has no property entry", r)
		}
	}

	return CompiledSchema{Properties: props, Required: required}, nil
}

// parseProperties walks the properties object token by token so the
// declaration order survives the round trip.
func parseProperties(raw json.RawMessage) ([]Property, error) {
	props := make([]Property, 0)
	if len(raw) == 0 {
		return props, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse properties: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("properties must be an object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse properties: %w", err)
		}
		name, ok := tok.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("property name must be a non-empty string")
		}

		var entry struct {
			Type FieldType `json:"type"`
		}
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("parse property %q: %w", name, err)
		}
		if !entry.Type.Valid() {
			return nil, fmt.Errorf("property %q has unsupported type %q", name, entry.Type)
		}
		props = append(props, Property{Name: name, Type: entry.Type})
	}

	return props, nil
}
