package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks structured model output against a JSON Schema before
// it is allowed to drive orchestration decisions. Compiled schemas are
// cached by name.
type Validator struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles and caches a schema under name. Registering the same
// name twice replaces the previous schema.
func (v *Validator) Register(name, rawSchema string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", strings.NewReader(rawSchema)); err != nil {
		return fmt.Errorf("llm: add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name + ".json")
	if err != nil {
		return fmt.Errorf("llm: compile schema %s: %w", name, err)
	}

	v.mu.Lock()
	v.schemas[name] = schema
	v.mu.Unlock()
	return nil
}

// Validate checks raw JSON against the named schema.
func (v *Validator) Validate(name string, raw []byte) error {
	v.mu.Lock()
	schema, ok := v.schemas[name]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("llm: schema %s not registered", name)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("llm: response is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("llm: response failed schema %s: %w", name, err)
	}
	return nil
}

// DecodeValidated validates raw against the named schema and unmarshals
// it into out on success.
func (v *Validator) DecodeValidated(name string, raw []byte, out any) error {
	if err := v.Validate(name, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("llm: decode validated response: %w", err)
	}
	return nil
}
