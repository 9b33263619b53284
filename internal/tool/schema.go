package tool

import "fmt"

// Property describes one argument of a tool.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema is the minimal argument schema checked before a tool runs.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// Validate checks required fields and the JSON type of every declared
// property. Extra fields are allowed.
func (s Schema) Validate(tool string, args map[string]any) error {
	for _, field := range s.Required {
		if _, ok := args[field]; !ok {
			return &ValidationError{
				Tool:    tool,
				Field:   field,
				Message: "required field is missing",
				Err:     ErrMissingRequiredArg,
			}
		}
	}

	for field, prop := range s.Properties {
		value, ok := args[field]
		if !ok {
			continue
		}
		if !isValidType(value, prop.Type) {
			return &ValidationError{
				Tool:    tool,
				Field:   field,
				Message: fmt.Sprintf("expected type %s, got %T", prop.Type, value),
				Err:     ErrInvalidArgType,
			}
		}
	}

	return nil
}

func isValidType(value any, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}
