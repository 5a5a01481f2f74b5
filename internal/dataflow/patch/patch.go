// Package patch validates and applies JSON-Patch documents against a
// template node-prototype set (§2.3, §4.5): operator-supplied "template
// patches" are validated with the same shape rules the run-patch subsystem
// applies to workflow IR mutations, then applied via evanphx/json-patch/v5.
package patch

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

// Validator checks the shape of a JSON-Patch operation list before it is
// recorded as an apply_template_patch command.
type Validator struct{}

// NewValidator constructs a Validator.
func NewValidator() *Validator { return &Validator{} }

// ValidateOperations requires every operation to have a string "op" in
// {add, replace, remove} and a string "path"; add/replace additionally
// require a "value", which may be an object, an array or a scalar.
func (v *Validator) ValidateOperations(operations []map[string]any) error {
	if len(operations) == 0 {
		return model.NewError(model.ErrInvalidPipelineStep, "template patch must contain at least one operation")
	}
	for i, op := range operations {
		opType, ok := op["op"].(string)
		if !ok {
			return model.NewError(model.ErrInvalidPipelineStep, "operation %d: missing or invalid 'op' field", i)
		}
		if _, ok := op["path"].(string); !ok {
			return model.NewError(model.ErrInvalidPipelineStep, "operation %d: missing or invalid 'path' field", i)
		}
		switch opType {
		case "add", "replace":
			if value, ok := op["value"]; !ok {
				return model.NewError(model.ErrInvalidPipelineStep, "operation %d: 'value' required for %s", i, opType)
			} else if _, isMap := value.(map[string]any); !isMap {
				if _, isSlice := value.([]any); !isMap && !isSlice {
					// scalars are fine for leaf replacements such as config fields
					continue
				}
			}
		case "remove":
			// no value required
		default:
			return model.NewError(model.ErrInvalidPipelineStep, "operation %d: unsupported op %q", i, opType)
		}
	}
	return nil
}

// Apply marshals prototypes to JSON, applies operations as a JSON-Patch
// document, and unmarshals the result back into the same type. Prototypes
// must be JSON-marshalable; operations should already have passed
// ValidateOperations.
func Apply(prototypes []*model.Node, operations []map[string]any) ([]*model.Node, error) {
	if len(operations) == 0 {
		return prototypes, nil
	}

	docBytes, err := json.Marshal(operations)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidPipelineStep, err, "failed to marshal patch operations")
	}
	patchDoc, err := jsonpatch.DecodePatch(docBytes)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidPipelineStep, err, "failed to decode JSON patch document")
	}

	targetBytes, err := json.Marshal(prototypes)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidPipelineStep, err, "failed to marshal template prototypes")
	}
	patched, err := patchDoc.Apply(targetBytes)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidPipelineStep, err, "failed to apply template patch")
	}

	var out []*model.Node
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, model.WrapError(model.ErrInvalidPipelineStep, err, "failed to unmarshal patched prototypes")
	}
	return out, nil
}
