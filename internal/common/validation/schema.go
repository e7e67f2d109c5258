package validation

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Summary joins the errors into one deterministic line.
func (r *ValidationResult) Summary() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Field+": "+e.Message)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// SchemaSet compiles JSON schemas once and validates documents against them.
type SchemaSet struct {
	mu       sync.RWMutex
	sources  map[string]string
	compiled map[string]*gojsonschema.Schema
}

func NewSchemaSet(sources map[string]string) *SchemaSet {
	return &SchemaSet{
		sources:  sources,
		compiled: make(map[string]*gojsonschema.Schema),
	}
}

func (s *SchemaSet) schema(name string) (*gojsonschema.Schema, error) {
	s.mu.RLock()
	compiled, ok := s.compiled[name]
	s.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	src, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("no schema registered for %q", name)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}

	s.mu.Lock()
	s.compiled[name] = compiled
	s.mu.Unlock()
	return compiled, nil
}

// Validate checks a raw JSON document against the named schema.
func (s *SchemaSet) Validate(name string, document []byte) (*ValidationResult, error) {
	compiled, err := s.schema(name)
	if err != nil {
		return nil, err
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return nil, fmt.Errorf("validate against %q: %w", name, err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out, nil
}

// CompileAll compiles every registered schema so broken schemas fail at startup.
func (s *SchemaSet) CompileAll() error {
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := s.schema(name); err != nil {
			return err
		}
	}
	return nil
}
