// Package agenterr defines the structured errors reported by resolution, dispatch and registration.
package agenterr

import "fmt"

// Code identifies a class of failure.
type Code string

const (
	// CodeUnroutable means resolution found no endpoints for a destination.
	CodeUnroutable Code = "UNROUTABLE_ADDRESS"
	// CodeUndeliverable means no handler is registered for an inbound schema digest.
	CodeUndeliverable Code = "UNDELIVERABLE_MESSAGE"
	// CodeInvalidReply means a handler sent a message outside its declared replies.
	CodeInvalidReply Code = "INVALID_REPLY"
	// CodeHandlerFailure means a handler returned an error or panicked.
	CodeHandlerFailure Code = "HANDLER_FAILURE"
	// CodeRegistrationFailure means publishing to the almanac failed.
	CodeRegistrationFailure Code = "REGISTRATION_FAILURE"
	// CodeConfiguration means endpoint or service-location input was malformed.
	CodeConfiguration Code = "CONFIGURATION_ERROR"
	// CodeExpiredEnvelope means an inbound envelope was past its expiry.
	CodeExpiredEnvelope Code = "EXPIRED_ENVELOPE"
	// CodeInvalidEnvelope means an inbound envelope failed decoding, targeting or verification.
	CodeInvalidEnvelope Code = "INVALID_ENVELOPE"
)

// Sentinels for errors.Is; matching is by Code only.
var (
	ErrUnroutable          = &Error{Code: CodeUnroutable}
	ErrUndeliverable       = &Error{Code: CodeUndeliverable}
	ErrInvalidReply        = &Error{Code: CodeInvalidReply}
	ErrHandlerFailure      = &Error{Code: CodeHandlerFailure}
	ErrRegistrationFailure = &Error{Code: CodeRegistrationFailure}
	ErrConfiguration       = &Error{Code: CodeConfiguration}
	ErrExpiredEnvelope     = &Error{Code: CodeExpiredEnvelope}
	ErrInvalidEnvelope     = &Error{Code: CodeInvalidEnvelope}
)

// Error is a structured, reportable failure.
type Error struct {
	Code    Code        `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error carrying cause.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

// WithDetails attaches structured details and returns e.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf returns the Code of err if it is an *Error, or "" otherwise.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
