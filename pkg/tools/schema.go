// Package tools holds the local tools the model may call during an
// exchange. Each implements langchaingo's tools.Tool.
package tools

// JSONSchemaProperty describes one tool parameter
type JSONSchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
}

// SchemaProvider is implemented by tools that describe their parameters.
// Tools without it are offered with a single free-form "input" string.
type SchemaProvider interface {
	JSONSchema() map[string]any
}

// NewJSONSchema creates an empty object schema
func NewJSONSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": make(map[string]any),
		"required":   []string{},
	}
}

func AddProperty(schema map[string]any, name string, property JSONSchemaProperty) {
	if properties, ok := schema["properties"].(map[string]any); ok {
		properties[name] = property
	}
}

func AddRequired(schema map[string]any, field string) {
	if required, ok := schema["required"].([]string); ok {
		schema["required"] = append(required, field)
	}
}

// InputSchema is the schema offered for tools without their own
func InputSchema() map[string]any {
	schema := NewJSONSchema()
	AddProperty(schema, "input", JSONSchemaProperty{
		Type:        "string",
		Description: "Input for the tool",
	})
	AddRequired(schema, "input")
	return schema
}
