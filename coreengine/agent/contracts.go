// Package agent contracts for dispatch results and the shared error
// taxonomy.
//
// Every failure surfaced through an envelope uses one shape:
//
//	{"status": "error", "message": "...", "error_type": "..."}
//
// The engine produces handler_not_found and processing_exception
// itself; the remaining kinds are a convention handlers follow so
// consumers can branch on error_type without knowing the unit.
package agent

import (
	"fmt"
	"strings"
)

// =============================================================================
// ENUMS
// =============================================================================

// Status represents the outcome of a dispatch or stage.
type Status string

const (
	// StatusSuccess indicates a completed dispatch.
	StatusSuccess Status = "success"
	// StatusError indicates a failed dispatch.
	StatusError Status = "error"
)

// StatusFromString parses a status string.
func StatusFromString(value string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "success":
		return StatusSuccess, nil
	case "error":
		return StatusError, nil
	default:
		return "", fmt.Errorf("invalid status '%s'. Must be one of: success, error", value)
	}
}

// Error kinds carried in the error_type field.
const (
	// ErrorTypeHandlerNotFound: no handler registered for the task type.
	ErrorTypeHandlerNotFound = "handler_not_found"
	// ErrorTypeProcessingException: a stage returned an error or panicked.
	ErrorTypeProcessingException = "processing_exception"
	// ErrorTypeInputValidation: required input was missing or malformed.
	ErrorTypeInputValidation = "input_validation"
	// ErrorTypeDataStructure: an intermediate had an unexpected shape.
	ErrorTypeDataStructure = "data_structure"
	// ErrorTypeDelegateFailure: a delegate reported or returned failure.
	ErrorTypeDelegateFailure = "delegate_failure"
	// ErrorTypeOutputStructure: a delegate result lacked required fields.
	ErrorTypeOutputStructure = "output_structure"
)

// errorTypes is the closed set of recognized kinds.
var errorTypes = map[string]bool{
	ErrorTypeHandlerNotFound:     true,
	ErrorTypeProcessingException: true,
	ErrorTypeInputValidation:     true,
	ErrorTypeDataStructure:       true,
	ErrorTypeDelegateFailure:     true,
	ErrorTypeOutputStructure:     true,
}

// IsKnownErrorType reports whether the value is one of the taxonomy kinds.
func IsKnownErrorType(errorType string) bool {
	return errorTypes[errorType]
}

// =============================================================================
// RESULT BUILDERS
// =============================================================================

// ErrorData builds the shared error payload shape.
func ErrorData(errorType, message string) map[string]any {
	return map[string]any{
		"status":     string(StatusError),
		"message":    message,
		"error_type": errorType,
	}
}

// SuccessData stamps the success status onto a result map. Fields the
// handler already set are kept; a nil map yields a bare success.
func SuccessData(fields map[string]any) map[string]any {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["status"] = string(StatusSuccess)
	return fields
}

// =============================================================================
// STAGE RESULT
// =============================================================================

// StageResult is a typed view over a stage's payload data.
type StageResult struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Validate checks cross-field constraints.
func (r *StageResult) Validate() error {
	if r.Status == StatusError && r.ErrorType == "" {
		return fmt.Errorf("error_type is required when status is 'error'")
	}
	if r.Status == StatusSuccess && r.ErrorType != "" {
		return fmt.Errorf("error_type must be empty when status is 'success'")
	}
	if r.Status == StatusError && !IsKnownErrorType(r.ErrorType) {
		return fmt.Errorf("unknown error_type '%s'", r.ErrorType)
	}
	return nil
}

// NormalizeStageResult converts a loose payload map into a StageResult.
// Maps without a status are treated as success with the map as data.
// Error maps get their message and error_type pulled out, defaulting
// the kind to processing_exception when absent or unrecognized.
func NormalizeStageResult(result map[string]any) (*StageResult, error) {
	if result == nil {
		return nil, fmt.Errorf("stage result must not be nil")
	}

	status := StatusSuccess
	if statusRaw, exists := result["status"]; exists {
		statusStr := strings.ToLower(fmt.Sprintf("%v", statusRaw))
		switch statusStr {
		case "success", "completed", "ok":
			status = StatusSuccess
		case "error", "failed", "failure":
			status = StatusError
		default:
			if _, hasError := result["error"]; hasError {
				status = StatusError
			}
		}
	} else if _, hasError := result["error"]; hasError {
		status = StatusError
	}

	if status == StatusSuccess {
		return &StageResult{Status: StatusSuccess, Data: result}, nil
	}

	message := "Unknown error"
	if m, ok := result["message"].(string); ok && m != "" {
		message = m
	} else if e, ok := result["error"].(string); ok && e != "" {
		message = e
	} else if e, exists := result["error"]; exists {
		message = fmt.Sprintf("%v", e)
	}

	errorType := ErrorTypeProcessingException
	if et, ok := result["error_type"].(string); ok && IsKnownErrorType(et) {
		errorType = et
	}

	return &StageResult{
		Status:    StatusError,
		Message:   message,
		ErrorType: errorType,
		Data:      result,
	}, nil
}

// ToMap converts the result back into the payload map shape.
func (r *StageResult) ToMap() map[string]any {
	if r.Status == StatusError {
		return ErrorData(r.ErrorType, r.Message)
	}
	if r.Data != nil {
		return SuccessData(r.Data)
	}
	return SuccessData(nil)
}
