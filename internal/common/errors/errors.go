// Package errors provides the error taxonomy shared by the signing pipeline,
// its HTTP surface and its Zeebe workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	ErrCodeTemplateField ErrorCode = "TEMPLATE_FIELD_ERROR"
	ErrCodeFieldNotFound ErrorCode = "FIELD_NOT_FOUND"
	ErrCodeInvalidOption ErrorCode = "INVALID_OPTION"

	ErrCodeProviderAPI ErrorCode = "PROVIDER_API_ERROR"
	ErrCodeAuth        ErrorCode = "AUTH_ERROR"
	ErrCodeStorage     ErrorCode = "STORAGE_ERROR"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error. Status, RemoteCode
// and RawBody carry the remote response for errors raised by external calls.
type StandardError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Status     int                    `json:"status,omitempty"`
	RemoteCode string                 `json:"remoteCode,omitempty"`
	RawBody    string                 `json:"rawBody,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("StandardError[%s]: %s (status %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata returns e with key set in its metadata map.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewValidationError reports a malformed intake. Never retryable.
func NewValidationError(message, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateFieldError reports a template/catalog mismatch found outside a fill call.
func NewTemplateFieldError(templateID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateField,
		Message:   fmt.Sprintf("Template %q does not match its field catalog", templateID),
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"templateId": templateID},
		Timestamp: time.Now().UTC(),
	}
}

// NewFieldNotFoundError is raised when a fill targets a field the template lacks.
func NewFieldNotFoundError(templateID, field string) *StandardError {
	return &StandardError{
		Code:      ErrCodeFieldNotFound,
		Message:   fmt.Sprintf("Field %q not found in template %q", field, templateID),
		Retryable: false,
		Metadata:  map[string]interface{}{"templateId": templateID, "field": field},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidOptionError is raised when a radio or choice field gets an undeclared value.
func NewInvalidOptionError(templateID, field, value string, options []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidOption,
		Message:   fmt.Sprintf("Value %q is not an option of field %q", value, field),
		Details:   "allowed: " + strings.Join(options, ", "),
		Retryable: false,
		Metadata:  map[string]interface{}{"templateId": templateID, "field": field},
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderAPIError normalizes a non-2xx response from an e-signature provider.
func NewProviderAPIError(provider string, status int, remoteCode, message, rawBody string) *StandardError {
	if message == "" {
		message = fmt.Sprintf("%s API request failed", provider)
	}
	return &StandardError{
		Code:       ErrCodeProviderAPI,
		Message:    message,
		Retryable:  IsTransientStatus(status),
		Status:     status,
		RemoteCode: remoteCode,
		RawBody:    rawBody,
		Metadata:   map[string]interface{}{"provider": provider},
		Timestamp:  time.Now().UTC(),
	}
}

// NewProviderTransportError wraps a network failure talking to a provider.
func NewProviderTransportError(provider string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderAPI,
		Message:   fmt.Sprintf("%s request failed", provider),
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"provider": provider},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewAuthError reports a failed token acquisition or a rejected token.
func NewAuthError(service string, status int, rawBody string, err error) *StandardError {
	e := &StandardError{
		Code:      ErrCodeAuth,
		Message:   fmt.Sprintf("Authentication with %s failed", service),
		Retryable: false,
		Status:    status,
		RawBody:   rawBody,
		Metadata:  map[string]interface{}{"service": service},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// NewStorageError reports a folder or upload failure in the cloud store.
func NewStorageError(op string, status int, remoteCode, rawBody string, retryable bool, err error) *StandardError {
	e := &StandardError{
		Code:       ErrCodeStorage,
		Message:    fmt.Sprintf("Cloud storage %s failed", op),
		Retryable:  retryable,
		Status:     status,
		RemoteCode: remoteCode,
		RawBody:    rawBody,
		Metadata:   map[string]interface{}{"operation": op},
		Timestamp:  time.Now().UTC(),
		cause:      err,
	}
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 4. Inspection Helpers
// ==========================

// AsStandard finds a *StandardError in err's chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// Normalize always returns a StandardError, wrapping unknown errors as internal.
func Normalize(err error) *StandardError {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr
	}
	return NewInternalError(err)
}

// IsCode reports whether err carries code.
func IsCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandard(err)
	return ok && stdErr.Code == code
}

// IsTemplateFieldError matches every template/field mismatch code.
func IsTemplateFieldError(err error) bool {
	stdErr, ok := AsStandard(err)
	return ok && GetErrorCategory(stdErr.Code) == "TEMPLATE"
}

// IsTransientStatus reports HTTP statuses worth retrying by an orchestrator.
func IsTransientStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// GetErrorCategory returns the taxonomy category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeValidation:
		return "VALIDATION"
	case ErrCodeTemplateField, ErrCodeFieldNotFound, ErrCodeInvalidOption:
		return "TEMPLATE"
	case ErrCodeProviderAPI:
		return "PROVIDER"
	case ErrCodeAuth:
		return "AUTH"
	case ErrCodeStorage:
		return "STORAGE"
	default:
		return "OTHER"
	}
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// GetRetryCount returns how many times an orchestrator may retry a job that
// failed with stdErr. Envelope creation is never retried here because a
// partially created envelope may already have reached the signer.
func GetRetryCount(stdErr *StandardError) int {
	if !stdErr.Retryable {
		return 0
	}
	switch stdErr.Code {
	case ErrCodeStorage:
		return 3
	case ErrCodeProviderAPI:
		if stdErr.Metadata != nil && stdErr.Metadata["operation"] == "createEnvelope" {
			return 0
		}
		return 2
	default:
		return 0
	}
}

// WithoutRetry returns a copy of err that no orchestrator retries. Steps that
// may already have created remote state use it so a job retry cannot repeat
// them.
func WithoutRetry(err error) *StandardError {
	orig := Normalize(err)
	cp := *orig
	cp.Retryable = false
	cp.Metadata = make(map[string]interface{}, len(orig.Metadata)+1)
	for k, v := range orig.Metadata {
		cp.Metadata[k] = v
	}
	cp.Metadata["retrySuppressed"] = true
	return &cp
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	if stdErr.Status != 0 {
		vars["remoteStatus"] = stdErr.Status
	}
	if stdErr.RemoteCode != "" {
		vars["remoteCode"] = stdErr.RemoteCode
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        GetRetryCount(stdErr),
		ErrorVariables: vars,
	}
}
