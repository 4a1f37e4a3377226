// Package jsonschema validates JSON documents against JSON Schema,
// backed by santhosh-tekuri/jsonschema.
//
// Schemas used in response checks are compiled once with Compile and
// reused for every request; the compiled form is safe for concurrent use.
package jsonschema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors is a flattened list of schema violations.
type ValidationErrors []error

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled JSON Schema.
type Schema struct {
	compiled *jsonschema.Schema
}

// Compile parses and compiles a schema document.
func Compile(schemaStr string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// Validate checks a JSON document against the compiled schema. The error
// is only set when the document itself is not valid JSON; schema
// violations are reported through the boolean.
func (s *Schema) Validate(jsonStr string) (bool, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return false, fmt.Errorf("invalid JSON: %w", err)
	}
	return s.compiled.Validate(doc) == nil, nil
}

// ValidateWithErrors checks a JSON document and returns every violation.
func (s *Schema) ValidateWithErrors(jsonStr string) (bool, ValidationErrors) {
	var doc interface{}
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return false, ValidationErrors{fmt.Errorf("invalid JSON: %w", err)}
	}

	err := s.compiled.Validate(doc)
	if err == nil {
		return true, nil
	}
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		return false, flatten(verr)
	}
	return false, ValidationErrors{err}
}

// Validate compiles the schema and validates in one step. Prefer Compile
// plus Schema.Validate when the same schema is checked repeatedly.
func Validate(jsonStr, schemaStr string) (bool, error) {
	s, err := Compile(schemaStr)
	if err != nil {
		return false, err
	}
	return s.Validate(jsonStr)
}

// ValidateWithErrors compiles the schema and validates in one step,
// returning every violation.
func ValidateWithErrors(jsonStr, schemaStr string) (bool, ValidationErrors) {
	s, err := Compile(schemaStr)
	if err != nil {
		return false, ValidationErrors{err}
	}
	return s.ValidateWithErrors(jsonStr)
}

// flatten walks the violation tree into a flat list.
func flatten(err *jsonschema.ValidationError) ValidationErrors {
	var errs ValidationErrors
	if err.Message != "" {
		errs = append(errs, fmt.Errorf("validation error at %s: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		errs = append(errs, flatten(cause)...)
	}
	return errs
}
