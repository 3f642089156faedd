// Package apperr defines the error taxonomy shared by the realtime and
// request-style paths. The realtime path turns kinds into inline frames or a
// policy-violation close; the request path maps kinds to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error independently of how it is reported.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindNotFound
	KindConflict
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// Machine-readable codes surfaced to request-style callers.
const (
	CodeInvalidCredentials  = "InvalidCredentials"
	CodeInvalidToken        = "InvalidToken"
	CodeExpiredToken        = "ExpiredToken"
	CodeUserNotFound        = "UserNotFound"
	CodeUserAlreadyExists   = "UserAlreadyExists"
	CodeRoomNotFound        = "RoomNotFound"
	CodeRoomAlreadyExists   = "RoomAlreadyExists"
	CodeValidation          = "ValidationError"
	CodeInternalServerError = "InternalServerError"
)

// InternalMessage is the only text an unclassified failure ever exposes.
const InternalMessage = "Oops! An unexpected error occurred."

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by kind and code. A target without a code matches any error of
// the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Authentication reports a bad, expired or missing credential.
func Authentication(code, message string) *Error {
	return newError(KindAuthentication, code, message)
}

// NotFound reports a missing room or user.
func NotFound(code, message string) *Error {
	return newError(KindNotFound, code, message)
}

// Conflict reports a uniqueness violation.
func Conflict(code, message string) *Error {
	return newError(KindConflict, code, message)
}

// Validation reports a malformed frame or request payload.
func Validation(message string) *Error {
	return newError(KindValidation, CodeValidation, message)
}

// Internal wraps an unclassified failure. The cause is kept for logs only.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternalServerError, Message: InternalMessage, Cause: cause}
}

// Sentinels usable as errors.Is targets.
var (
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrInternal       = &Error{Kind: KindInternal}
)

// As extracts the classified error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf classifies any error; unclassified errors are internal.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to its fixed request-style status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Detail is the body callers receive for a failed request.
type Detail struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Response wraps Detail the way every failed request is rendered.
type Response struct {
	Detail Detail `json:"detail"`
}

// ToResponse returns the status and body for err. Internal errors never
// leak their cause.
func ToResponse(err error) (int, Response) {
	appErr, ok := As(err)
	if !ok || appErr.Kind == KindInternal {
		return http.StatusInternalServerError, Response{Detail: Detail{
			Error:   CodeInternalServerError,
			Message: InternalMessage,
		}}
	}
	return HTTPStatus(appErr.Kind), Response{Detail: Detail{
		Error:   appErr.Code,
		Message: appErr.Message,
	}}
}
