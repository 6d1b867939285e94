package util

import (
	"fmt"
	"slices"

	"github.com/hupe1980/agentgate/core"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ParamsSchema returns the JSON schema of an action's params object. Every
// param is required; literal params become enums.
func ParamsSchema(params []core.ActionParam) map[string]any {
	properties := make(map[string]any, len(params))
	required := make([]string, 0, len(params))

	for _, p := range params {
		prop := map[string]any{}
		switch p.Type {
		case core.ParamString:
			prop["type"] = "string"
		case core.ParamInt:
			prop["type"] = "integer"
		case core.ParamFloat:
			prop["type"] = "number"
		case core.ParamBool:
			prop["type"] = "boolean"
		case core.ParamLiteral:
			prop["enum"] = p.LiteralValues
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		required = append(required, p.Name)
	}

	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

// ValidateParameters validates parameters against a JSON schema produced by
// ParamsSchema. Unknown fields are allowed unless additionalProperties is false.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	for _, field := range requiredFields(schema["required"]) {
		if _, exists := params[field]; !exists {
			return &ValidationError{Field: field, Message: "required field is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	closed := schema["additionalProperties"] == false

	for field, value := range params {
		propSchema, exists := properties[field]
		if !exists {
			if closed {
				return &ValidationError{Field: field, Value: value, Message: "unknown field"}
			}
			continue
		}
		propMap, ok := propSchema.(map[string]any)
		if !ok {
			continue
		}

		if enum, ok := propMap["enum"].([]any); ok {
			if !inEnum(value, enum) {
				return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf("value must be one of %v", enum)}
			}
			continue
		}

		expectedType, _ := propMap["type"].(string)
		if !isValidType(value, expectedType) {
			return &ValidationError{
				Field:   field,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %T", expectedType, value),
			}
		}
	}

	return nil
}

func requiredFields(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// inEnum compares numbers by value so that 1 and 1.0 match.
func inEnum(value any, enum []any) bool {
	return slices.ContainsFunc(enum, func(e any) bool {
		if a, ok := toFloat(value); ok {
			b, ok := toFloat(e)
			return ok && a == b
		}
		return e == value
	})
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// isValidType checks if a value is valid according to the expected JSON schema type.
func isValidType(value any, expectedType string) bool {
	if value == nil {
		return false
	}

	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // JSON unmarshaling produces float64 for numbers
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
