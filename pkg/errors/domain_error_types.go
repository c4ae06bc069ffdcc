package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DomainErrorType represents the category of domain error
type DomainErrorType string

const (
	// DomainValidationError indicates input validation failure
	DomainValidationError DomainErrorType = "VALIDATION_ERROR"

	// DomainBusinessRuleError indicates a business rule violation
	DomainBusinessRuleError DomainErrorType = "BUSINESS_RULE_ERROR"

	// DomainNotFoundError indicates a resource was not found
	DomainNotFoundError DomainErrorType = "NOT_FOUND"

	// DomainConflictError indicates a conflict with existing state
	DomainConflictError DomainErrorType = "CONFLICT"

	// DomainInfrastructureError indicates an infrastructure-level failure
	DomainInfrastructureError DomainErrorType = "INFRASTRUCTURE_ERROR"

	// DomainAuthorizationError indicates insufficient permissions
	DomainAuthorizationError DomainErrorType = "AUTHORIZATION_ERROR"

	// DomainRateLimitError indicates rate limit exceeded
	DomainRateLimitError DomainErrorType = "RATE_LIMIT_ERROR"
)

// DomainError represents a domain-specific error with rich context
type DomainError struct {
	Type       DomainErrorType        `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

// NewDomainError creates a new domain error
func NewDomainError(errorType DomainErrorType, code string, message string) *DomainError {
	return &DomainError{
		Type:       errorType,
		Code:       code,
		Message:    message,
		Details:    make(map[string]interface{}),
		StatusCode: domainErrorTypeToStatusCode(errorType),
	}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// WithCause adds a cause to the error
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	e.Details[key] = value
	return e
}

// WithRetryable sets whether the error is retryable
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

// WithStatusCode sets a custom HTTP status code
func (e *DomainError) WithStatusCode(code int) *DomainError {
	e.StatusCode = code
	return e
}

// Is matches on type and code so that freshly built errors compare equal
// to the package sentinels.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// GetDomainError extracts a DomainError from an error chain
func GetDomainError(err error) *DomainError {
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

func domainErrorTypeToStatusCode(errorType DomainErrorType) int {
	switch errorType {
	case DomainValidationError:
		return 400
	case DomainBusinessRuleError:
		return 422
	case DomainNotFoundError:
		return 404
	case DomainConflictError:
		return 409
	case DomainAuthorizationError:
		return 403
	case DomainRateLimitError:
		return 429
	default:
		return 500
	}
}

// Error codes for the link graph. Sentinels below are for errors.Is only;
// use the constructors to build an error that carries details.
const (
	CodeUnsupportedLinkPair  = "UNSUPPORTED_LINK_PAIR"
	CodeSelfLink             = "SELF_LINK"
	CodeDuplicateLink        = "DUPLICATE_LINK"
	CodeLinkNotFound         = "LINK_NOT_FOUND"
	CodeRecordNotFound       = "RECORD_NOT_FOUND"
	CodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	CodeMutationInFlight     = "MUTATION_IN_FLIGHT"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeInvalidStatusChange  = "INVALID_STATUS_CHANGE"
	CodeAuditFailed          = "AUDIT_FAILED"
	CodeNotAuthorized        = "NOT_AUTHORIZED"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
)

var (
	ErrUnsupportedLinkPair  = NewDomainError(DomainBusinessRuleError, CodeUnsupportedLinkPair, "these record kinds cannot be linked")
	ErrSelfLink             = NewDomainError(DomainBusinessRuleError, CodeSelfLink, "a record cannot be linked to itself")
	ErrDuplicateLink        = NewDomainError(DomainConflictError, CodeDuplicateLink, "a link between these records already exists")
	ErrLinkNotFound         = NewDomainError(DomainNotFoundError, CodeLinkNotFound, "the requested link does not exist")
	ErrRecordNotFound       = NewDomainError(DomainNotFoundError, CodeRecordNotFound, "the requested record does not exist")
	ErrConfirmationRequired = NewDomainError(DomainConflictError, CodeConfirmationRequired, "confirmation required")
	ErrMutationInFlight     = NewDomainError(DomainConflictError, CodeMutationInFlight, "another link operation is in progress")
	ErrInvalidTransition    = NewDomainError(DomainConflictError, CodeInvalidTransition, "operation not allowed in the current state")
	ErrInvalidStatusChange  = NewDomainError(DomainBusinessRuleError, CodeInvalidStatusChange, "status change not allowed")
	ErrAuditFailed          = NewDomainError(DomainValidationError, CodeAuditFailed, "record fails its audit and cannot be published")
	ErrNotAuthorized        = NewDomainError(DomainAuthorizationError, CodeNotAuthorized, "not authorized to perform this action")
	ErrSessionNotFound      = NewDomainError(DomainNotFoundError, CodeSessionNotFound, "the requested session does not exist")
)

// UnsupportedLinkPair reports that kinds a and b have no direction rule.
func UnsupportedLinkPair(a, b string) *DomainError {
	return NewDomainError(DomainBusinessRuleError, CodeUnsupportedLinkPair,
		fmt.Sprintf("record kinds %s and %s cannot be linked", a, b)).
		WithDetail("kindA", a).
		WithDetail("kindB", b)
}

// SelfLink reports an attempt to link a record to itself.
func SelfLink(id string) *DomainError {
	return NewDomainError(DomainBusinessRuleError, CodeSelfLink, "a record cannot be linked to itself").
		WithDetail("recordId", id)
}

// DuplicateLink reports an existing non-deleted link between the endpoints.
func DuplicateLink(fromID, toID string) *DomainError {
	return NewDomainError(DomainConflictError, CodeDuplicateLink, "a link between these records already exists").
		WithDetail("fromEntityId", fromID).
		WithDetail("toEntityId", toID)
}

// LinkNotFound reports a missing link.
func LinkNotFound(id string) *DomainError {
	return NewDomainError(DomainNotFoundError, CodeLinkNotFound, "the requested link does not exist").
		WithDetail("linkId", id)
}

// RecordNotFound reports a missing tracked record.
func RecordNotFound(id string) *DomainError {
	return NewDomainError(DomainNotFoundError, CodeRecordNotFound, "the requested record does not exist").
		WithDetail("recordId", id)
}

// ConfirmationRequired carries the prompt the caller must accept before retrying
// the same action with confirmation.
func ConfirmationRequired(action, prompt string) *DomainError {
	return NewDomainError(DomainConflictError, CodeConfirmationRequired, prompt).
		WithDetail("action", action).
		WithDetail("prompt", prompt)
}

// MutationInFlight reports that a session already has a mutation pending.
func MutationInFlight(sessionID string) *DomainError {
	return NewDomainError(DomainConflictError, CodeMutationInFlight, "another link operation is in progress").
		WithDetail("sessionId", sessionID).
		WithRetryable(true)
}

// InvalidTransition reports an action that is not legal in the given state.
func InvalidTransition(action, state, reason string) *DomainError {
	return NewDomainError(DomainConflictError, CodeInvalidTransition,
		fmt.Sprintf("cannot %s in %s state: %s", action, state, reason)).
		WithDetail("action", action).
		WithDetail("state", state)
}

// InvalidStatusChange reports an illegal status transition.
func InvalidStatusChange(from, to string) *DomainError {
	return NewDomainError(DomainBusinessRuleError, CodeInvalidStatusChange,
		fmt.Sprintf("cannot change status from %s to %s", from, to)).
		WithDetail("from", from).
		WithDetail("to", to)
}

// AuditFailed reports a publish attempt on a record whose audit fails.
func AuditFailed(recordID, reason string) *DomainError {
	return NewDomainError(DomainValidationError, CodeAuditFailed, reason).
		WithDetail("recordId", recordID)
}

// NotAuthorized reports a missing authority.
func NotAuthorized(authority string) *DomainError {
	return NewDomainError(DomainAuthorizationError, CodeNotAuthorized, "not authorized to perform this action").
		WithDetail("authority", authority)
}

// NotSessionOwner reports a caller acting on another user's session.
func NotSessionOwner(id string) *DomainError {
	return NewDomainError(DomainAuthorizationError, CodeNotAuthorized, "the session belongs to another user").
		WithDetail("sessionId", id)
}

// SessionNotFound reports an unknown link-manager or master-context session.
func SessionNotFound(id string) *DomainError {
	return NewDomainError(DomainNotFoundError, CodeSessionNotFound, "the requested session does not exist").
		WithDetail("sessionId", id)
}

// ValidationErrors aggregates multiple validation errors
type ValidationErrors struct {
	Errors []*DomainError `json:"errors"`
}

// NewValidationErrors creates a new validation errors collection
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make([]*DomainError, 0),
	}
}

// Add adds a validation error
func (v *ValidationErrors) Add(field string, message string) {
	err := NewDomainError(DomainValidationError, "FIELD_VALIDATION_ERROR", message).
		WithDetail("field", field)
	v.Errors = append(v.Errors, err)
}

// AddError adds a pre-existing domain error
func (v *ValidationErrors) AddError(err *DomainError) {
	v.Errors = append(v.Errors, err)
}

// HasErrors returns true if there are validation errors
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}

	messages := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		messages[i] = err.Message
	}
	return fmt.Sprintf("Validation failed: %s", strings.Join(messages, "; "))
}

// ToMap converts validation errors to a map for JSON serialization
func (v *ValidationErrors) ToMap() map[string][]string {
	result := make(map[string][]string)
	for _, err := range v.Errors {
		field, ok := err.Details["field"].(string)
		if !ok {
			field = "general"
		}
		result[field] = append(result[field], err.Message)
	}
	return result
}

// DomainErrorResponse represents the API error response format for domain errors
type DomainErrorResponse struct {
	Error     bool                   `json:"error"`
	Type      DomainErrorType        `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// NewDomainErrorResponse creates an error response from a domain error
func NewDomainErrorResponse(err *DomainError, requestID string) *DomainErrorResponse {
	return &DomainErrorResponse{
		Error:     true,
		Type:      err.Type,
		Code:      err.Code,
		Message:   err.Message,
		Details:   err.Details,
		Retryable: err.Retryable,
		RequestID: requestID,
		Timestamp: fmt.Sprintf("%d", timeNow().Unix()),
	}
}

var timeNow = func() time.Time {
	return time.Now()
}
