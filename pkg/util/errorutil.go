package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors of the moderation taxonomy. DomainError values wrap one of
// these so callers can branch with errors.Is.
var (
	ErrRemoteUnreachable       = errors.New("remote unreachable")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrInvalidSanctionData     = errors.New("invalid sanction data")
	ErrConcurrentModification  = errors.New("concurrent modification")
	ErrPermissionsInsufficient = errors.New("permissions insufficient")
	ErrFixedRole               = fmt.Errorf("fixed role: %w", ErrPermissionsInsufficient)
	ErrNotFound                = errors.New("not found")
	ErrValidation              = errors.New("validation failed")
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the operation unchanged.
func (e *DomainError) Retryable() bool {
	return e.Code == "REMOTE_UNREACHABLE" || e.Code == "CONCURRENT_MODIFICATION"
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return &DomainError{
		Code:       "VALIDATION_FAILED",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
		Err:        ErrValidation,
	}
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
		Err:        ErrNotFound,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewRateLimited() error {
	return NewDomainError("RATE_LIMITED", "too many requests", http.StatusTooManyRequests, nil)
}

func NewRemoteUnreachable(diagnostic string, cause error) error {
	return &DomainError{
		Code:       "REMOTE_UNREACHABLE",
		Message:    "authoritative store unreachable",
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"diagnostic": diagnostic},
		Err:        errors.Join(ErrRemoteUnreachable, cause),
	}
}

func NewPermissionDenied(message string) error {
	return &DomainError{
		Code:       "PERMISSION_DENIED",
		Message:    message,
		HTTPStatus: http.StatusForbidden,
		Err:        ErrPermissionDenied,
	}
}

func NewInvalidSanctionData(message string, details map[string]any) error {
	return &DomainError{
		Code:       "INVALID_SANCTION_DATA",
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    details,
		Err:        ErrInvalidSanctionData,
	}
}

func NewConcurrentModification(message string, cause error) error {
	return &DomainError{
		Code:       "CONCURRENT_MODIFICATION",
		Message:    message,
		HTTPStatus: http.StatusConflict,
		Err:        errors.Join(ErrConcurrentModification, cause),
	}
}

func NewPermissionsInsufficient(permission string) error {
	return &DomainError{
		Code:       "PERMISSIONS_INSUFFICIENT",
		Message:    "missing capability " + permission,
		HTTPStatus: http.StatusForbidden,
		Details:    map[string]any{"permission": permission},
		Err:        ErrPermissionsInsufficient,
	}
}

func NewFixedRoleError(roleID string) error {
	return &DomainError{
		Code:       "FIXED_ROLE",
		Message:    fmt.Sprintf("role %s cannot be assigned or revoked", roleID),
		HTTPStatus: http.StatusForbidden,
		Details:    map[string]any{"role_id": roleID},
		Err:        ErrFixedRole,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return NewNotFound("resource", nil).(*DomainError)
	case errors.Is(err, ErrRemoteUnreachable):
		return NewRemoteUnreachable(err.Error(), err).(*DomainError)
	case errors.Is(err, ErrConcurrentModification):
		return NewConcurrentModification("concurrent modification", err).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}
