package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoCredential     = errors.New("no API credential is configured")
	ErrTransportClosed  = errors.New("transport closed unexpectedly")
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrDeviceNotFound   = errors.New("audio input device not found")
	ErrDeviceBusy       = errors.New("audio input device is busy")
	ErrConstraint       = errors.New("audio constraints cannot be satisfied")
)

// HandshakeError reports a rejected or timed out session negotiation.
type HandshakeError struct {
	Status int
	Detail string
	Err    error
}

func (e *HandshakeError) Error() string {
	msg := "handshake failed"
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// CaptureErrorKind categorizes microphone capture failures.
type CaptureErrorKind string

const (
	CaptureErrorPermission     CaptureErrorKind = "permission"
	CaptureErrorDeviceNotFound CaptureErrorKind = "device_not_found"
	CaptureErrorDeviceBusy     CaptureErrorKind = "device_busy"
	CaptureErrorConstraint     CaptureErrorKind = "constraint"
	CaptureErrorUnknown        CaptureErrorKind = "unknown"
)

// CaptureError is returned when live audio cannot be enabled.
type CaptureError struct {
	Kind   CaptureErrorKind
	Detail string
	Err    error
}

func (e *CaptureError) Error() string {
	msg := "audio capture failed (" + string(e.Kind) + ")"
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Is lets callers match capture errors against the kind sentinels.
func (e *CaptureError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Kind == CaptureErrorPermission
	case ErrDeviceNotFound:
		return e.Kind == CaptureErrorDeviceNotFound
	case ErrDeviceBusy:
		return e.Kind == CaptureErrorDeviceBusy
	case ErrConstraint:
		return e.Kind == CaptureErrorConstraint
	}
	return false
}
