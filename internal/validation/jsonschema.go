package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/weftlabs/weft/pkg/schema"
)

// irSchemaJSON is the JSON Schema for AutomationIR validation.
// Embedded as a constant to avoid filesystem dependencies.
const irSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://weftlabs.dev/schemas/automation-ir.json",
  "type": "object",
  "required": ["data_sources"],
  "properties": {
    "name": { "type": "string" },
    "goal": { "type": "string" },
    "grounded_facts": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    },
    "inputs": { "type": "object" },
    "data_sources": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/data_source" }
    },
    "transforms": {
      "type": "array",
      "items": { "$ref": "#/$defs/transform" }
    },
    "ai_operations": {
      "type": "array",
      "items": { "$ref": "#/$defs/ai_operation" }
    },
    "conditionals": {
      "type": "array",
      "items": { "$ref": "#/$defs/conditional" }
    },
    "loops": {
      "type": "array",
      "items": { "$ref": "#/$defs/loop" }
    },
    "delivery_rules": {
      "type": "array",
      "items": { "$ref": "#/$defs/delivery_rule" }
    },
    "edge_cases": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge_case" }
    },
    "infeasible": { "type": "boolean" }
  },
  "additionalProperties": false,
  "$defs": {
    "data_source": {
      "type": "object",
      "required": ["id", "type", "plugin_key"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["tabular", "api", "webhook", "database", "file", "stream"]
        },
        "plugin_key": { "type": "string", "minLength": 1 },
        "location": { "type": "string" },
        "role": { "type": "string" },
        "filters": {
          "type": "array",
          "items": { "$ref": "#/$defs/filter" }
        }
      },
      "additionalProperties": false
    },
    "filter": {
      "type": "object",
      "required": ["field", "operator"],
      "properties": {
        "field": { "type": "string", "minLength": 1 },
        "operator": { "type": "string", "minLength": 1 },
        "value": {}
      },
      "additionalProperties": false
    },
    "transform": {
      "type": "object",
      "required": ["id", "operation", "input"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "operation": { "type": "string", "minLength": 1 },
        "input": { "type": "string", "minLength": 1 },
        "config": {}
      },
      "additionalProperties": false
    },
    "ai_operation": {
      "type": "object",
      "required": ["id", "type", "instruction", "input_source", "output_schema"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["summarize", "extract", "classify", "sentiment", "generate", "decide"]
        },
        "instruction": { "type": "string", "minLength": 1 },
        "input_source": { "type": "string", "minLength": 1 },
        "output_schema": {
          "type": "object",
          "minProperties": 1,
          "additionalProperties": { "type": "string" }
        },
        "constraints": { "type": "object" }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "properties": {
        "field": { "type": "string" },
        "operator": { "type": "string" },
        "value": {},
        "condition_type": {
          "type": "string",
          "enum": ["complex_and", "complex_or", "complex_not"]
        },
        "conditions": {
          "type": "array",
          "items": { "$ref": "#/$defs/condition" }
        },
        "expression": { "type": "string" }
      },
      "additionalProperties": false
    },
    "intent": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {
          "type": "string",
          "enum": ["transform", "ai_operation", "delivery"]
        },
        "transform": { "$ref": "#/$defs/transform" },
        "ai_operation": { "$ref": "#/$defs/ai_operation" },
        "delivery": { "$ref": "#/$defs/delivery_rule" }
      },
      "additionalProperties": false
    },
    "conditional": {
      "type": "object",
      "required": ["id", "when", "then"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "when": { "$ref": "#/$defs/condition" },
        "then": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/intent" }
        },
        "else": {
          "type": "array",
          "items": { "$ref": "#/$defs/intent" }
        }
      },
      "additionalProperties": false
    },
    "loop": {
      "type": "object",
      "required": ["id", "for_each", "do", "max_iterations"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "for_each": { "type": "string", "minLength": 1 },
        "item_variable": { "type": "string" },
        "do": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/intent" }
        },
        "max_iterations": { "type": "integer", "minimum": 1 },
        "max_concurrency": { "type": "integer", "minimum": 1 }
      },
      "additionalProperties": false
    },
    "delivery_rule": {
      "type": "object",
      "required": ["id", "method"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "method": {
          "type": "string",
          "enum": ["email", "slack", "webhook", "database", "api_call", "file", "sms"]
        },
        "mode": {
          "type": "string",
          "enum": ["always", "per_group", "per_item"]
        },
        "input": { "type": "string" },
        "plugin_key": { "type": "string" },
        "config": {},
        "when": { "$ref": "#/$defs/condition" }
      },
      "additionalProperties": false
    },
    "edge_case": {
      "type": "object",
      "required": ["condition", "action"],
      "properties": {
        "condition": {
          "type": "string",
          "enum": ["no_rows_after_filter", "empty_data_source", "source_unavailable"]
        },
        "action": {
          "type": "string",
          "enum": ["send_empty_result_message", "skip_execution", "retry", "alert_admin"]
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates AutomationIR documents against the embedded
// JSON Schema (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	irSchema *jsonschema.Schema

	// mu guards the cache for dynamic schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a new JSONSchemaValidator with the IR schema
// pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(irSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal IR schema: %w", err)
	}
	if err := c.AddResource("https://weftlabs.dev/schemas/automation-ir.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add IR schema resource: %w", err)
	}

	irSchema, err := c.Compile("https://weftlabs.dev/schemas/automation-ir.json")
	if err != nil {
		return nil, fmt.Errorf("compile IR schema: %w", err)
	}

	return &JSONSchemaValidator{
		irSchema: irSchema,
		cache:    make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateIR validates an AutomationIR against the embedded JSON Schema.
func (v *JSONSchemaValidator) ValidateIR(ir *schema.AutomationIR) error {
	if ir == nil {
		return schema.NewError(schema.ErrCodeValidation, "automation IR is nil")
	}

	doc, err := toJSONValue(ir)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize automation IR").WithCause(err)
	}

	if err := v.irSchema.Validate(doc); err != nil {
		return toWeftError(err)
	}

	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw
// bytes. The schema is compiled and cached for subsequent calls.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toWeftError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid compiler collisions.
	url := fmt.Sprintf("weft://input-schema/%d", len(v.cache))

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toWeftError converts a jsonschema.ValidationError into a WeftError with
// clear, actionable messages.
func toWeftError(err error) *schema.WeftError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
