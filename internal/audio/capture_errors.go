package audio

import (
	"errors"
	"os"
	"os/exec"
	"strings"

	"voxsync/internal/domain"
)

var captureErrorPatterns = []struct {
	kind    domain.CaptureErrorKind
	needles []string
}{
	{domain.CaptureErrorPermission, []string{"permission denied", "operation not permitted", "not authorized"}},
	{domain.CaptureErrorDeviceBusy, []string{"device or resource busy", "resource busy", "device busy"}},
	{domain.CaptureErrorDeviceNotFound, []string{"no such device", "no such file or directory", "no such entity", "connection refused", "not found"}},
	{domain.CaptureErrorConstraint, []string{"invalid argument", "not supported", "unsupported", "unknown input format", "unknown encoder", "invalid sample rate"}},
}

// classifyCaptureError turns a capture failure and the ffmpeg stderr tail
// into a categorized CaptureError.
func classifyCaptureError(err error, stderr string) *domain.CaptureError {
	if errors.Is(err, os.ErrPermission) {
		return &domain.CaptureError{Kind: domain.CaptureErrorPermission, Detail: stderr, Err: err}
	}
	if errors.Is(err, exec.ErrNotFound) {
		return &domain.CaptureError{Kind: domain.CaptureErrorUnknown, Detail: "ffmpeg executable not found", Err: err}
	}

	haystack := strings.ToLower(stderr)
	for _, pattern := range captureErrorPatterns {
		for _, needle := range pattern.needles {
			if strings.Contains(haystack, needle) {
				return &domain.CaptureError{Kind: pattern.kind, Detail: stderr, Err: err}
			}
		}
	}
	return &domain.CaptureError{Kind: domain.CaptureErrorUnknown, Detail: stderr, Err: err}
}
