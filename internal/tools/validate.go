package tools

import (
	"fmt"
)

// validateArgs checks args against the tool's parameter schema before
// any handler runs. The schemas here are simple JSON Schema object
// definitions: required lists, scalar types, enums, and arrays.
func validateArgs(tool *Tool, args map[string]any) error {
	schema := tool.Parameters
	props, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]string); ok {
		for _, name := range required {
			if _, present := args[name]; !present {
				return &InvalidArgumentsError{
					ToolName: tool.Name,
					Reason:   fmt.Sprintf("missing required parameter %q", name),
				}
			}
		}
	}

	for name, raw := range args {
		propRaw, known := props[name]
		if !known {
			return &InvalidArgumentsError{
				ToolName: tool.Name,
				Reason:   fmt.Sprintf("unknown parameter %q", name),
			}
		}
		prop, _ := propRaw.(map[string]any)
		if err := checkValue(tool.Name, name, prop, raw); err != nil {
			return err
		}
	}

	return nil
}

func checkValue(toolName, param string, prop map[string]any, value any) error {
	wantType, _ := prop["type"].(string)

	switch wantType {
	case "string":
		s, ok := value.(string)
		if !ok {
			return typeError(toolName, param, "string", value)
		}
		if err := checkEnum(toolName, param, prop, s); err != nil {
			return err
		}

	case "number":
		if _, ok := value.(float64); !ok {
			return typeError(toolName, param, "number", value)
		}

	case "integer":
		f, ok := value.(float64)
		if !ok || f != float64(int64(f)) {
			return typeError(toolName, param, "integer", value)
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			return typeError(toolName, param, "boolean", value)
		}

	case "array":
		items, ok := value.([]any)
		if !ok {
			return typeError(toolName, param, "array", value)
		}
		itemProp, _ := prop["items"].(map[string]any)
		if itemProp != nil {
			for _, item := range items {
				if err := checkValue(toolName, param, itemProp, item); err != nil {
					return err
				}
			}
		}

	case "object":
		if _, ok := value.(map[string]any); !ok {
			return typeError(toolName, param, "object", value)
		}
	}

	return nil
}

func checkEnum(toolName, param string, prop map[string]any, s string) error {
	allowed, ok := prop["enum"].([]string)
	if !ok {
		return nil
	}
	for _, v := range allowed {
		if s == v {
			return nil
		}
	}
	return &InvalidArgumentsError{
		ToolName: toolName,
		Reason:   fmt.Sprintf("parameter %q must be one of %v, got %q", param, allowed, s),
	}
}

func typeError(toolName, param, want string, got any) error {
	return &InvalidArgumentsError{
		ToolName: toolName,
		Reason:   fmt.Sprintf("parameter %q must be a %s, got %T", param, want, got),
	}
}
