package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoCredentials       = errors.New("no credentials available")
	ErrExpiredCredential   = errors.New("credential expired")
	ErrInvalidCredential   = errors.New("credential invalid")
	ErrNoMeasurementServer = errors.New("no measurement server available")
	ErrTransportTimeout    = errors.New("transport timeout")
	ErrTransportError      = errors.New("transport error")
	ErrSubmissionRejected  = errors.New("submission rejected")
	ErrSubmissionError     = errors.New("submission failed")

	// ErrProxyUnavailable is only ever logged: callers fall back to a direct connection.
	ErrProxyUnavailable = errors.New("no live proxy available")
)

// SubmissionRejectedError is returned when the report endpoint answered but refused the result,
// either with a non-success status or an explicit success=false payload.
type SubmissionRejectedError struct {
	StatusCode int
	Message    string
}

func (e *SubmissionRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", ErrSubmissionRejected, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", ErrSubmissionRejected, e.StatusCode, e.Message)
}

func (e *SubmissionRejectedError) Is(target error) bool {
	return target == ErrSubmissionRejected
}
