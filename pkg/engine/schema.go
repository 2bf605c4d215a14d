package engine

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/decisiongraph/core/pkg/dgerr"
)

// rfaSchema is the strict top-level contract: the three required routing
// fields, four optional filters, everything a string, nothing else.
const rfaSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"namespace":           {"type": "string", "minLength": 1},
		"requester_namespace": {"type": "string", "minLength": 1},
		"requester_id":        {"type": "string", "minLength": 1},
		"subject":             {"type": "string"},
		"predicate":           {"type": "string"},
		"object":              {"type": "string"},
		"as_of_system_time":   {"type": "string"}
	},
	"required": ["namespace", "requester_namespace", "requester_id"],
	"additionalProperties": false
}`

var compiledRFASchema = mustCompileRFASchema()

func mustCompileRFASchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://decisiongraph.local/schemas/rfa.schema.json"
	if err := c.AddResource(url, strings.NewReader(rfaSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile(url)
}

// validateSchema enforces the top-level RFA shape. Everything it rejects is
// DG_SCHEMA_INVALID; field syntax comes later and fails DG_INPUT_INVALID.
func validateSchema(doc map[string]any) error {
	generic := make(map[string]any, len(doc))
	for k, v := range doc {
		generic[k] = v
	}
	if err := compiledRFASchema.Validate(generic); err != nil {
		ve := dgerr.Wrap(dgerr.KindSchemaInvalid, "rfa does not match schema", err)
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			leaf := verr
			for len(leaf.Causes) > 0 {
				leaf = leaf.Causes[0]
			}
			if loc := strings.TrimPrefix(leaf.InstanceLocation, "/"); loc != "" {
				ve = ve.WithDetail("field", loc)
			}
		}
		return ve
	}
	return nil
}
