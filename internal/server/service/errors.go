package service

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed conversion.
type ErrorKind string

const (
	ConfigurationError    ErrorKind = "ConfigurationError"
	StagingError          ErrorKind = "StagingError"
	OCRBackendError       ErrorKind = "OCRBackendError"
	MalformedRequestError ErrorKind = "MalformedRequestError"
)

// ConversionError is the failure outcome of a conversion request.
type ConversionError struct {
	Kind      ErrorKind
	Message   string
	RequestID string
	Err       error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// NewConversionError builds a ConversionError. When msg is empty the
// cause's message is used, so backend messages reach the caller intact.
func NewConversionError(kind ErrorKind, requestID, msg string, cause error) *ConversionError {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &ConversionError{Kind: kind, Message: msg, RequestID: requestID, Err: cause}
}

// KindOf returns the kind of err, or "" when err is not a ConversionError.
func KindOf(err error) ErrorKind {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
