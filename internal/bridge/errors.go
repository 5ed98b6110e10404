package bridge

import (
	"fmt"
	"net/http"
)

// Error is a user-visible bridge failure: the HTTP status paired with the
// message reported in the error envelope. Kafka client failures that are not
// one of these are returned by session operations as they are; StatusOf reports
// them as internal errors carrying their own message.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds an Error with a formatted message.
func NewError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrConsumerNotFound is returned for any operation addressed to an instance
// the registry does not know, whether never created, deleted, or expired.
func ErrConsumerNotFound() *Error {
	return NewError(http.StatusNotFound, "The specified consumer instance was not found.")
}

// ErrConsumerAlreadyExists is returned when a creation request names a live
// instance.
func ErrConsumerAlreadyExists() *Error {
	return NewError(http.StatusConflict,
		"A consumer instance with the specified name already exists in the Kafka Bridge.")
}

// StatusOf maps any error to the HTTP status it is reported with. Errors that
// are not bridge errors are broker or library failures surfaced verbatim as
// internal errors.
func StatusOf(err error) int {
	if be, ok := err.(*Error); ok {
		return be.Code
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the wire shape of the error envelope. The error_code field
// repeats the HTTP status.
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// EnvelopeOf converts an error to its wire envelope.
func EnvelopeOf(err error) ErrorResponse {
	return ErrorResponse{ErrorCode: StatusOf(err), Message: err.Error()}
}
