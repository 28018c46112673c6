// Package apperr defines the structured error taxonomy for the ingestion core.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Run-fatal errors
	CodeAuthFailed     = "AUTH_FAILED"      // token acquisition or refresh failed
	CodeFolderNotFound = "FOLDER_NOT_FOUND" // configured folder cannot be resolved

	// Per-message errors
	CodeTransientNetwork  = "TRANSIENT_NETWORK"
	CodeMalformedContent  = "MALFORMED_CONTENT"
	CodePersistenceFailed = "PERSISTENCE_FAILED"

	// Expected outcomes, recorded but not errors
	CodeValidationRejected = "VALIDATION_REJECTED"

	// Generic
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeInternalError = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// AuthFailed aborts the current ingestion run; no partial state is written.
func AuthFailed(message string, err error) *AppError {
	if message == "" {
		message = "token acquisition failed"
	}
	return &AppError{
		Code:    CodeAuthFailed,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

// FolderNotFound aborts the run; the configured folder could not be resolved.
func FolderNotFound(reference string, err error) *AppError {
	return &AppError{
		Code:    CodeFolderNotFound,
		Message: fmt.Sprintf("mail folder %q not found", reference),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

// TransientNetwork marks a remote call failure that survived the retry
// policy; the message is counted as errored and the run continues.
func TransientNetwork(message string, err error) *AppError {
	return &AppError{
		Code:    CodeTransientNetwork,
		Message: message,
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

// MalformedContent marks an unparseable body or attachment.
func MalformedContent(message string, err error) *AppError {
	return &AppError{
		Code:    CodeMalformedContent,
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     err,
	}
}

// PersistenceFailed marks a storage write failure. The message was never
// marked persisted, so dedup state stays clean.
func PersistenceFailed(message string, err error) *AppError {
	return &AppError{
		Code:    CodePersistenceFailed,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// ValidationRejected records an expected trust-gate rejection.
func ValidationRejected(reason string) *AppError {
	return &AppError{
		Code:    CodeValidationRejected,
		Message: reason,
		Status:  http.StatusOK,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message, Status: http.StatusBadRequest}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{Code: CodeUnauthorized, Message: message, Status: http.StatusUnauthorized}
}

func NotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, Status: http.StatusConflict}
}

func Internal(message string, err error) *AppError {
	return &AppError{Code: CodeInternalError, Message: message, Status: http.StatusInternalServerError, Err: err}
}

// Code extracts the error code, or CodeInternalError for foreign errors.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return Code(err) == code
}

// IsRunFatal reports whether err must abort the whole ingestion run.
func IsRunFatal(err error) bool {
	code := Code(err)
	return code == CodeAuthFailed || code == CodeFolderNotFound
}
