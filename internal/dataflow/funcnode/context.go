package funcnode

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

// resolveContext merges a node's static config.context map with the caller's
// invocation context, resolving any string value that looks like a gjson
// path (prefixed with "$.") against the node's input, the same way the
// workflow runner's resolver pulls "$.field" values out of upstream node
// output (cmd/workflow-runner/resolver/resolver.go). Values that are not
// "$."-prefixed strings pass through unchanged.
func resolveContext(configContext map[string]any, callerContext map[string]any, input any) (map[string]any, error) {
	merged := make(map[string]any, len(configContext)+len(callerContext))
	for k, v := range callerContext {
		merged[k] = v
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidInputStructure, err, "failed to marshal node input for context resolution")
	}

	for k, v := range configContext {
		str, ok := v.(string)
		if !ok || len(str) < 2 || str[:2] != "$." {
			merged[k] = v
			continue
		}
		path := str[2:]
		result := gjson.GetBytes(inputJSON, path)
		if !result.Exists() {
			return nil, model.NewError(model.ErrInvalidInputStructure, "context path %q not found in node input", str)
		}
		merged[k] = result.Value()
	}
	return merged, nil
}
