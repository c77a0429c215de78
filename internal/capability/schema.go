package capability

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// generateSchema creates an object schema from the exported fields of T.
//
// Fields are named by their json tag. Fields without omitempty are required,
// additional properties are rejected, and jsonschema tags may add a
// description or enum:
//
//	type args struct {
//	    Topic string `json:"topic" jsonschema:"description=Search category,enum=general,enum=news"`
//	}
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(new(T))

	m, err := schemaToMap(schema)
	if err != nil {
		return nil, fmt.Errorf("convert schema: %w", err)
	}
	if m["type"] != "object" {
		return nil, fmt.Errorf("argument type must be a struct, got %v", m["type"])
	}

	out := map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": false,
	}
	if props, ok := m["properties"].(map[string]any); ok {
		out["properties"] = props
	}
	if req, ok := m["required"].([]any); ok && len(req) > 0 {
		out["required"] = req
	}
	return out, nil
}

// schemaToMap converts a jsonschema.Schema to map[string]any.
func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	delete(result, "$schema")
	delete(result, "$id")
	return result, nil
}
