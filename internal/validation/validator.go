package validation

import "github.com/weftlabs/weft/pkg/schema"

// Validator checks automation IR documents for correctness before compilation.
// Uses JSON Schema Draft 2020-12 for the structural pass.
type Validator interface {
	ValidateIR(ir *schema.AutomationIR) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// IRValidator orchestrates the two-stage validation pipeline:
//  1. Structural (JSON Schema)
//  2. Semantic (references, operators, output schemas, loop bounds)
//
// Compiled step graphs get a third, separate pass (ValidateStepGraph) run by
// the compiler on its own output.
type IRValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewIRValidator creates an IRValidator.
func NewIRValidator() (*IRValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &IRValidator{jsonSchema: jsv}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: the semantic stage is skipped because the
// document shape cannot be trusted.
func (iv *IRValidator) Validate(ir *schema.AutomationIR) *schema.ValidationResult {
	if ir == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "automation IR is nil")
		return r
	}

	result := validateStructural(iv.jsonSchema, ir)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(ir))
	return result
}

// ValidateIR satisfies the Validator interface.
func (iv *IRValidator) ValidateIR(ir *schema.AutomationIR) error {
	return iv.Validate(ir).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (iv *IRValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return iv.jsonSchema.ValidateInput(input, inputSchema)
}

// validateStructural wraps JSONSchemaValidator.ValidateIR, converting its
// error output into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, ir *schema.AutomationIR) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateIR(ir)
	if err == nil {
		return result
	}

	werr, ok := err.(*schema.WeftError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if werr.Details != nil {
		if violations, ok := werr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, werr.Message)
	return result
}
