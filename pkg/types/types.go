// Package types provides the public types for declaring gateway tools.
package types

// Tool describes a tool that can be called by clients.
type Tool struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// ToolParameter defines a parameter for a tool.
type ToolParameter struct {
	Name        string
	Description string
	Type        string
	Required    bool
	// Items is the element type of an array parameter
	Items   string
	Enum    []string
	Default interface{}
	// Minimum is the smallest value a number parameter accepts
	Minimum *float64
}

// InputSchema renders the parameters as a JSON Schema object.
func (t *Tool) InputSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(t.Parameters))
	required := []string{}

	for _, p := range t.Parameters {
		prop := map[string]interface{}{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Type == "array" && p.Items != "" {
			prop["items"] = map[string]interface{}{"type": p.Items}
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ToolCall represents a request to execute a tool.
type ToolCall struct {
	Name      string
	Arguments map[string]interface{}
}

// String returns the named argument, or "" when absent or not a string.
func (c ToolCall) String(name string) string {
	s, _ := c.Arguments[name].(string)
	return s
}

// Number returns the named argument, or def when absent or not a number.
func (c ToolCall) Number(name string, def float64) float64 {
	if n, ok := c.Arguments[name].(float64); ok {
		return n
	}
	return def
}

// Bool returns the named argument, or false when absent.
func (c ToolCall) Bool(name string) bool {
	b, _ := c.Arguments[name].(bool)
	return b
}
