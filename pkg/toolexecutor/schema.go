package toolexecutor

import (
	"fmt"

	"github.com/harun/seance/pkg/llm"
	"github.com/xeipuuv/gojsonschema"
)

// ToModelSchema maps tool specs one-to-one onto the function-calling schema
// offered to the model.
func ToModelSchema(tools []ToolSpec) []llm.Tool {
	out := make([]llm.Tool, 0, len(tools))
	for _, t := range tools {
		props := t.Parameters.Properties
		if props == nil {
			props = map[string]any{}
		}
		required := t.Parameters.Required
		if required == nil {
			required = []string{}
		}
		out = append(out, llm.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters: llm.ToolParameters{
				Type:       "object",
				Properties: props,
				Required:   required,
			},
		})
	}
	return out
}

// compileArgumentSchema builds the validator used before invocation. Only
// object shape and required keys are enforced: property types are left to
// the tool service, which coerces string arguments itself.
func compileArgumentSchema(spec ToolSpec) (*gojsonschema.Schema, error) {
	schemaMap := map[string]interface{}{
		"type": "object",
	}
	if len(spec.Parameters.Required) > 0 {
		schemaMap["required"] = spec.Parameters.Required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func compileSchemas(tools []ToolSpec) map[string]*gojsonschema.Schema {
	schemas := make(map[string]*gojsonschema.Schema, len(tools))
	for _, t := range tools {
		schema, err := compileArgumentSchema(t)
		if err != nil {
			continue
		}
		schemas[t.Name] = schema
	}
	return schemas
}

// validateArguments validates arguments against a compiled schema
func validateArguments(schema *gojsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, e := range result.Errors() {
			errors = append(errors, e.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}
