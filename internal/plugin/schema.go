// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// schemaCache holds the compiled schema to avoid recompilation.
var schemaCache *jschema.Schema

// SchemaID is the $id advertised in generated manifest schemas.
const SchemaID = "https://duskhall.dev/schemas/plugin.schema.json"

// GenerateSchema generates a JSON Schema from the Manifest struct, for
// editor tooling and the `duskhall plugins schema` command.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Manifest{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Duskhall Plugin Manifest"
	schema.Description = "Schema for plugin.yaml manifest files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// ValidateSchema validates raw plugin.yaml data against the manifest
// JSON Schema. ParseManifest performs the semantic checks; this catches
// structural mistakes (wrong types, unknown shapes) with better
// positions for tooling.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return &ManifestError{Field: "manifest", Reason: "data is empty"}
	}

	var yamlData any
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return &ManifestError{Field: "manifest", Reason: "invalid YAML: " + err.Error()}
	}

	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile manifest schema: %w", err)
	}

	if err := sch.Validate(jsonCompatible(yamlData)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	if schemaCache != nil {
		return schemaCache, nil
	}

	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, fmt.Errorf("parse schema JSON: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaData); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	schemaCache = sch
	return sch, nil
}

// jsonCompatible converts YAML-parsed values into the types the schema
// validator expects.
func jsonCompatible(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = jsonCompatible(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = jsonCompatible(item)
		}
		return result
	case int:
		return val
	case int64:
		return val
	default:
		return val
	}
}
