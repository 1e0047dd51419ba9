// Package session holds the per-session registry of templates and
// processed documents. State lives only in memory for the session's
// lifetime; there is no durable store.
package session

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmaksimov/structex/internal/schema"
)

// Template is a named, frozen field set with its compiled schema.
// Legacy templates carry a schema only; their Fields are empty and
// field hints default to none.
type Template struct {
	Name   string                   `json:"name"`
	Schema schema.CompiledSchema    `json:"schema"`
	Fields []schema.FieldDefinition `json:"fields,omitempty"`
}

// Table is the row/column projection of an extraction result: columns
// are the union of keys across rows in first-seen order.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// ProcessedDocument records one successful extraction. Immutable once
// registered.
type ProcessedDocument struct {
	ID           string                `json:"id"`
	Filename     string                `json:"filename"`
	TemplateName string                `json:"template_name"`
	Schema       schema.CompiledSchema `json:"schema"`
	RawText      string                `json:"-"`
	Result       []map[string]any      `json:"result"`
	Table        Table                 `json:"table"`
	CreatedAt    time.Time             `json:"created_at"`
}

var (
	ErrEmptyTemplateName = errors.New("template name must not be empty")
	ErrTemplateExists    = errors.New("a template with this name already exists")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrDocumentNotFound  = errors.New("document not found")
)

// Session is an explicitly owned registry scoped to one user session.
// All mutation goes through its mutex; the HTTP host serves sessions
// concurrently even though each interaction is synchronous.
type Session struct {
	mu sync.Mutex

	id        string
	createdAt time.Time
	lastUsed  time.Time

	templates     map[string]*Template
	templateOrder []string

	docs     []*ProcessedDocument
	docsByID map[string]*ProcessedDocument
}

func newSession() *Session {
	now := time.Now()
	return &Session{
		id:        uuid.NewString(),
		createdAt: now,
		lastUsed:  now,
		templates: make(map[string]*Template),
		docsByID:  make(map[string]*ProcessedDocument),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
}

// SaveTemplate validates and freezes a field set under a unique name.
// Field names and descriptions are trimmed; blank-named fields are
// dropped from the stored metadata, mirroring what Compile drops from
// the schema.
func (s *Session) SaveTemplate(name string, fields []schema.FieldDefinition) (*Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyTemplateName
	}
	if err := schema.ValidateForSave(fields); err != nil {
		return nil, err
	}

	compiled := schema.Compile(fields)
	if err := compiled.Check(); err != nil {
		return nil, fmt.Errorf("schema self-check: %w", err)
	}

	frozen := make([]schema.FieldDefinition, 0, len(fields))
	for _, f := range fields {
		fname := strings.TrimSpace(f.Name)
		if fname == "" {
			continue
		}
		ft := f.Type
		if !ft.Valid() {
			ft = schema.TypeString
		}
		frozen = append(frozen, schema.FieldDefinition{
			Name:        fname,
			Type:        ft,
			Required:    f.Required,
			Description: strings.TrimSpace(f.Description),
		})
	}

	tpl := &Template{Name: name, Schema: compiled, Fields: frozen}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.templates[name]; exists {
		return nil, ErrTemplateExists
	}
	s.templates[name] = tpl
	s.templateOrder = append(s.templateOrder, name)
	return tpl, nil
}

// SaveLegacyTemplate stores a schema-only template, the degenerate form
// older clients produced. Hints default to empty.
func (s *Session) SaveLegacyTemplate(name string, compiled schema.CompiledSchema) (*Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyTemplateName
	}
	if err := compiled.Check(); err != nil {
		return nil, fmt.Errorf("schema self-check: %w", err)
	}

	tpl := &Template{Name: name, Schema: compiled}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.templates[name]; exists {
		return nil, ErrTemplateExists
	}
	s.templates[name] = tpl
	s.templateOrder = append(s.templateOrder, name)
	return tpl, nil
}

// Template looks a template up by name.
func (s *Session) Template(name string) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[name]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return tpl, nil
}

// Templates lists templates in save order.
func (s *Session) Templates() []*Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Template, 0, len(s.templateOrder))
	for _, name := range s.templateOrder {
		out = append(out, s.templates[name])
	}
	return out
}

// Register stores a successful extraction as a ProcessedDocument with a
// fresh id and a derived tabular projection. The schema is kept by
// value so later template changes can never alias into the record.
func (s *Session) Register(filename, templateName string, compiled schema.CompiledSchema, rawText string, result []map[string]any) *ProcessedDocument {
	doc := &ProcessedDocument{
		ID:           uuid.NewString(),
		Filename:     filename,
		TemplateName: templateName,
		Schema:       compiled,
		RawText:      rawText,
		Result:       result,
		Table:        BuildTable(result),
		CreatedAt:    time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, doc)
	s.docsByID[doc.ID] = doc
	return doc
}

// Documents lists processed documents in registration order.
func (s *Session) Documents() []*ProcessedDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ProcessedDocument, len(s.docs))
	copy(out, s.docs)
	return out
}

// Document looks a processed document up by id.
func (s *Session) Document(id string) (*ProcessedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docsByID[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// BuildTable projects result rows onto columns in first-seen key order.
// Cells are stringified; missing keys render empty.
func BuildTable(result []map[string]any) Table {
	columns := make([]string, 0)
	seen := make(map[string]bool)
	for _, row := range result {
		// Keys within one row follow the schema-agnostic map order, so
		// sort new keys per row for a stable projection.
		newKeys := make([]string, 0)
		for k := range row {
			if !seen[k] {
				newKeys = append(newKeys, k)
			}
		}
		sort.Strings(newKeys)
		for _, k := range newKeys {
			seen[k] = true
			columns = append(columns, k)
		}
	}

	rows := make([][]string, 0, len(result))
	for _, row := range result {
		cells := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := row[col]; ok {
				cells[i] = formatCell(v)
			}
		}
		rows = append(rows, cells)
	}

	return Table{Columns: columns, Rows: rows}
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
