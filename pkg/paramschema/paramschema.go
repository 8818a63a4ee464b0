// Package paramschema compiles a JSON Schema describing a tool's parameters
// and validates/normalizes call-site arguments against it, using the full
// JSON Schema draft the MCP ecosystem actually ships rather than a closed
// field/type map.
package paramschema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError is returned when Convert's arguments fail schema
// validation.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const errParamValidation = "ERR_PARAM_SCHEMA_VALIDATION"

// Converter validates parameter maps against one compiled JSON Schema.
type Converter struct {
	schema *jsonschema.Schema
}

// Compile parses and compiles a JSON Schema document describing a tool's
// expected parameters.
func Compile(schema []byte) (*Converter, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inputSchema.json", bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("paramschema: add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("inputSchema.json")
	if err != nil {
		return nil, fmt.Errorf("paramschema: compile schema: %w", err)
	}
	return &Converter{schema: compiled}, nil
}

// Convert validates params against the compiled schema and, on success,
// returns the copy produced by a round trip through encoding/json (numbers
// become float64, for instance), not the map passed in. That round trip mirrors the
// teacher's toMap helper, normalizing any struct or json.Number values into
// the plain map[string]any shape the schema validator expects.
func (c *Converter) Convert(params map[string]any) (map[string]any, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, &ValidationError{Code: errParamValidation, Message: fmt.Sprintf("marshal params: %v", err)}
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &ValidationError{Code: errParamValidation, Message: fmt.Sprintf("unmarshal params: %v", err)}
	}

	if err := c.schema.Validate(v); err != nil {
		return nil, &ValidationError{Code: errParamValidation, Message: err.Error()}
	}

	normalized, ok := v.(map[string]any)
	if !ok {
		return nil, &ValidationError{Code: errParamValidation, Message: "params must be a JSON object"}
	}
	return normalized, nil
}
