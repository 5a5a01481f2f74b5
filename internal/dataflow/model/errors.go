package model

import "fmt"

// ErrorCode is one of the error kinds enumerated in the error handling
// design; it is not a language type, just a stable string recorded on node
// records and surfaced to callers.
type ErrorCode string

const (
	// Configuration errors, surfaced at node startup before the node runs.
	ErrMissingFuncID              ErrorCode = "missing_func_id"
	ErrMissingSourceArrayKey      ErrorCode = "missing_source_array_key"
	ErrInvalidBatchSize           ErrorCode = "invalid_batch_size"
	ErrInvalidFailureStrategy     ErrorCode = "invalid_failure_strategy"
	ErrInvalidPipelineStep        ErrorCode = "invalid_pipeline_step"
	ErrInvalidExtractor           ErrorCode = "invalid_extractor"
	ErrIncompatiblePipelineData   ErrorCode = "incompatible_pipeline_data"

	// Structural errors, fail the owning node.
	ErrNoTemplates              ErrorCode = "no_templates"
	ErrTemplateDiscoveryFailed  ErrorCode = "template_discovery_failed"
	ErrInvalidInputStructure    ErrorCode = "invalid_input_structure"

	// Runtime errors, fail the owning node (or recorded in the aggregate
	// result under collect_errors).
	ErrNoInputData            ErrorCode = "no_input_data"
	ErrFunctionExecutionFailed ErrorCode = "function_execution_failed"
	ErrIterationFailed        ErrorCode = "iteration_failed"
	ErrPipelineFailed         ErrorCode = "pipeline_failed"
	ErrItemPipelineFailed     ErrorCode = "item_pipeline_failed"

	// Control errors, terminate the node with status canceled.
	ErrFunctionCanceled ErrorCode = "function_canceled"
	ErrNodeCanceled     ErrorCode = "node_canceled"

	// Store/backend errors.
	ErrNotFound       ErrorCode = "not_found"
	ErrConflict       ErrorCode = "conflict"
	ErrBackend        ErrorCode = "backend"
	ErrInvalidPayload ErrorCode = "invalid_payload"

	// State machine.
	ErrInvalidTransition ErrorCode = "invalid_transition"
)

// EngineError is the single error type carried across component boundaries;
// Code is the stable, loggable/storable identifier and Message is the
// one-line human description returned to API callers.
type EngineError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// NewError builds an EngineError with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an EngineError that carries an underlying cause.
func WrapError(code ErrorCode, cause error, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the error code from err if it (or something it wraps) is
// an *EngineError; otherwise it returns ErrBackend, since an un-coded error
// crossing a component boundary is always treated as a backend failure.
func CodeOf(err error) ErrorCode {
	var ee *EngineError
	for err != nil {
		if e, ok := err.(*EngineError); ok {
			ee = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ee != nil {
		return ee.Code
	}
	return ErrBackend
}
