package xsi

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the sentinel every ConfigError unwraps to.
var ErrConfiguration = errors.New("xsi: configuration error")

// ConfigError reports an unsupported setting detected at construction time,
// before any network or document access.
type ConfigError struct {
	Field string
	Value string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("xsi: %s %q not supported: %s", e.Field, e.Value, e.Msg)
	}
	return fmt.Sprintf("xsi: %s %q not supported", e.Field, e.Value)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// TransportError reports a failed directory download.
//
// StatusCode is 0 when the request never produced a response (dial, TLS,
// timeout). Body holds at most maxErrorBody bytes of the response; Summary
// is a plain-text digest of Body when the server answered with HTML.
type TransportError struct {
	StatusCode int
	Status     string
	Body       string
	Summary    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		if e.StatusCode == 0 {
			return fmt.Sprintf("xsi: cannot download the directory: %v", e.Err)
		}
		return fmt.Sprintf("xsi: cannot download the directory (%s): %v", e.Status, e.Err)
	}
	body := e.Body
	if e.Summary != "" {
		body = e.Summary
	}
	return fmt.Sprintf("xsi: cannot download the directory, received response %s:\n%s", e.Status, body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MissingFieldError is returned when a display-name template references a
// field the record does not carry.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("xsi: record has no field %q required by display template", e.Field)
}
