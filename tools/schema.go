package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

var reflector = &jsonschema.Reflector{
	Anonymous:      true,
	DoNotReference: true,
	ExpandedStruct: true,
}

// SchemaFor reflects the JSON Schema of an input struct into the plain map
// form published by tools/list.
func SchemaFor(input interface{}) map[string]interface{} {
	schema, err := schemaFor(input)
	if err != nil {
		panic(err)
	}
	return schema
}

func schemaFor(input interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(reflector.Reflect(input))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	delete(schema, "$schema")
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]interface{}{}
	}
	return schema, nil
}
