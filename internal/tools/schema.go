package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// generateSchema derives a tool's JSON Schema from the struct T. Fields
// without omitempty are required.
func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	b, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic("tools: encoding schema: " + err.Error())
	}
	var schema map[string]any
	if err := json.Unmarshal(b, &schema); err != nil {
		panic("tools: decoding schema: " + err.Error())
	}
	delete(schema, "$schema")
	delete(schema, "$id")

	// Adapters expect required as []string.
	if raw, ok := schema["required"].([]any); ok {
		req := make([]string, 0, len(raw))
		for _, r := range raw {
			if s, ok := r.(string); ok {
				req = append(req, s)
			}
		}
		schema["required"] = req
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema
}
