package models

import (
	"errors"
	"fmt"
)

// ErrorKind attributes a failed submission to one of the three failure classes.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindValidation ErrorKind = "validation"
	KindTransport  ErrorKind = "transport"
	KindParse      ErrorKind = "parse"
)

// ValidationError reports bad user input. No request is sent when one is returned.
type ValidationError struct {
	Field  string // "prompt", "max_tokens", "file", ...
	File   string // upload name when the error concerns one file
	Reason string
}

func (e *ValidationError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.File, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError reports a failed call to the inference endpoint.
// Message carries the provider's human-readable text when one was returned.
type TransportError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a reply that does not have the expected shape.
type ParseError struct {
	Reason string
	Body   []byte
}

func (e *ParseError) Error() string {
	return "unexpected model reply: " + e.Reason
}

// KindOf returns the failure class of err, or KindNone for nil and unknown errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return KindParse
	}
	var te *TransportError
	if errors.As(err, &te) {
		return KindTransport
	}
	return KindNone
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
