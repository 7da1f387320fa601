package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a detection failure
type ErrorKind string

const (
	// Capture source failures
	ErrorKindPermissionDenied  ErrorKind = "permission_denied"
	ErrorKindDeviceUnavailable ErrorKind = "device_unavailable"

	// Remote classifier failures
	ErrorKindTransport        ErrorKind = "transport"
	ErrorKindBadStatus        ErrorKind = "bad_status"
	ErrorKindMalformedPayload ErrorKind = "malformed_payload"

	// Policy rejections
	ErrorKindBusy               ErrorKind = "busy"
	ErrorKindServiceUnavailable ErrorKind = "service_unavailable"
	ErrorKindInvalidModel       ErrorKind = "invalid_model"
)

// DetectionError is the single error shape recorded on a DetectionSession
type DetectionError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	At         time.Time `json:"at"`
	Cause      error     `json:"-"`
}

// NewDetectionError creates a DetectionError stamped with the current time
func NewDetectionError(kind ErrorKind, message string, cause error) *DetectionError {
	return &DetectionError{
		Kind:    kind,
		Message: message,
		At:      time.Now(),
		Cause:   cause,
	}
}

// NewBadStatusError reports a non-success response from the remote service
func NewBadStatusError(statusCode int, message string) *DetectionError {
	err := NewDetectionError(ErrorKindBadStatus, message, nil)
	err.StatusCode = statusCode
	return err
}

func (e *DetectionError) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DetectionError) Unwrap() error {
	return e.Cause
}

// Persistent reports whether the error needs user action before detection can resume
func (e *DetectionError) Persistent() bool {
	return e.Kind == ErrorKindPermissionDenied
}

// MarshalJSON adds the derived persistent flag to the wire form
func (e *DetectionError) MarshalJSON() ([]byte, error) {
	type plain DetectionError
	return json.Marshal(struct {
		*plain
		Persistent bool `json:"persistent"`
	}{(*plain)(e), e.Persistent()})
}

// KindOf returns the kind of the first DetectionError in err's chain, or "" if there is none
func KindOf(err error) ErrorKind {
	var derr *DetectionError
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return ""
}

// AsDetectionError returns err as a DetectionError, wrapping unknown errors with fallback
func AsDetectionError(err error, fallback ErrorKind) *DetectionError {
	if err == nil {
		return nil
	}
	var derr *DetectionError
	if errors.As(err, &derr) {
		return derr
	}
	return NewDetectionError(fallback, err.Error(), err)
}
