package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateParams checks execute-call parameters against a JSON Schema
// synthesized from the endpoint's parameter metadata: required parameters
// must be present, enumerated parameters must use a listed value, and
// parameters unknown to the endpoint are rejected.
func ValidateParams(ep Endpoint, params map[string]any) error {
	schemaDoc, err := buildSchema(ep)
	if err != nil {
		return fmt.Errorf("building parameter schema for %s: %w", ep.FunctionName, err)
	}

	compiler := jsonschema.NewCompiler()
	resource := ep.FunctionName + ".schema.json"
	if err := compiler.AddResource(resource, bytes.NewReader(schemaDoc)); err != nil {
		return fmt.Errorf("loading parameter schema for %s: %w", ep.FunctionName, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("compiling parameter schema for %s: %w", ep.FunctionName, err)
	}

	if params == nil {
		params = map[string]any{}
	}
	if err := schema.Validate(normalize(params)); err != nil {
		return fmt.Errorf("invalid parameters for %s: %w", ep.FunctionName, err)
	}
	return nil
}

// buildSchema synthesizes a draft JSON Schema document from appliance
// parameter metadata.
func buildSchema(ep Endpoint) ([]byte, error) {
	properties := make(map[string]any, len(ep.Parameters))
	var required []string
	for _, p := range ep.Parameters {
		prop := map[string]any{}
		if t := schemaType(p.Type); t != "" {
			prop["type"] = t
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Values) > 0 {
			enum := make([]any, len(p.Values))
			for i, v := range p.Values {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}

// schemaType maps an appliance parameter type (a Java class name such as
// java.lang.String) to a JSON Schema type. Unknown types validate as any.
func schemaType(applianceType string) string {
	short := applianceType
	if i := strings.LastIndex(applianceType, "."); i >= 0 {
		short = applianceType[i+1:]
	}
	switch short {
	case "String":
		return "string"
	case "Integer", "Long", "Short":
		return "integer"
	case "Boolean":
		return "boolean"
	case "Double", "Float", "BigDecimal":
		return "number"
	default:
		return ""
	}
}

// normalize round-trips params through encoding/json so the validator sees
// the same value shapes it would get from a decoded request body.
func normalize(params map[string]any) any {
	data, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return params
	}
	return out
}
