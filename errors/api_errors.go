package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failed backend call.
type Kind string

const (
	KindTransport  Kind = "transport"
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindServer     Kind = "server"
	KindUnknown    Kind = "unknown"
)

// User-facing copy for status codes whose backend message is replaced.
const (
	MsgAlreadyRegistered = "This email is already registered. Please log in instead."
	MsgInvalidInput      = "Invalid input. Please check your details and try again."
	MsgServerError       = "Server error. Please try again later."
	MsgUnauthorized      = "Your session has expired. Please log in again."
	MsgRequestFailed     = "Request failed. Please check your connection and try again."
)

var (
	ErrRequestFailed       = stderrors.New("request failed")
	ErrNoAuthToken         = stderrors.New("No authentication token received")
	ErrNotLoggedIn         = stderrors.New("not logged in")
	ErrUnsupportedCurrency = stderrors.New("unsupported currency")
	ErrUnknownPolicy       = stderrors.New("unknown policy")
)

// APIError is a normalized non-2xx response from the marketplace backend.
//
//nolint:errname
type APIError struct {
	Status  int      `json:"status"`
	Kind    Kind     `json:"kind"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
	Path    string   `json:"path,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindValidation
	default:
		return KindUnknown
	}
}

// NewAPIError builds an APIError for status using the backend supplied message and
// details where the status allows them to be shown verbatim.
func NewAPIError(status int, message string, details []string) *APIError {
	kind := KindForStatus(status)
	msg := strings.TrimSpace(message)
	if msg == "" && len(details) > 0 {
		msg = strings.Join(details, "; ")
	}

	switch {
	case status == http.StatusConflict:
		msg = MsgAlreadyRegistered
	case status >= 500:
		msg = MsgServerError
	case status == http.StatusBadRequest && msg == "":
		msg = MsgInvalidInput
	case status == http.StatusUnauthorized && msg == "":
		msg = MsgUnauthorized
	case msg == "":
		msg = fmt.Sprintf("Request failed with status %d", status)
	}

	return &APIError{
		Status:  status,
		Kind:    kind,
		Message: msg,
		Details: details,
	}
}

// NewTransportError wraps a network or decoding failure.
func NewTransportError(cause error) error {
	return fmt.Errorf("%w: %w", ErrRequestFailed, cause)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}

// UserMessage returns the copy that should be shown for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Message
	}
	if stderrors.Is(err, ErrRequestFailed) {
		return MsgRequestFailed
	}
	return err.Error()
}
