package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voxsync/internal/domain"
	"voxsync/internal/ports"
)

func TestFFMPEGCaptureStartAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nexec sleep 2\n")
	capture := NewFFMPEGCapture(script, zerolog.Nop())

	session, err := capture.Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if session.Track() == nil {
		t.Fatalf("expected live track")
	}
	if !strings.HasPrefix(session.Track().ID(), "mic-") {
		t.Fatalf("unexpected track id: %q", session.Track().ID())
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not finish after stop")
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestFFMPEGCaptureStartEarlyExitIsCategorized(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		stderr string
		kind   domain.CaptureErrorKind
		target error
	}{
		{"permission", "default: Permission denied", domain.CaptureErrorPermission, domain.ErrPermissionDenied},
		{"busy", "hw:0: Device or resource busy", domain.CaptureErrorDeviceBusy, domain.ErrDeviceBusy},
		{"missing", "hw:9: No such device", domain.CaptureErrorDeviceNotFound, domain.ErrDeviceNotFound},
		{"constraint", "Invalid sample rate 7", domain.CaptureErrorConstraint, domain.ErrConstraint},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho '"+tc.stderr+"' 1>&2\nexit 1\n")
			capture := NewFFMPEGCapture(script, zerolog.Nop())

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			_, err := capture.Start(ctx, ports.AudioConfig{})
			var captureErr *domain.CaptureError
			if !errors.As(err, &captureErr) {
				t.Fatalf("expected capture error, got %v", err)
			}
			if captureErr.Kind != tc.kind {
				t.Fatalf("unexpected kind %q", captureErr.Kind)
			}
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected errors.Is match for %v", tc.target)
			}
			if !strings.Contains(err.Error(), "exited before capture started") {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFFMPEGCaptureMissingBinary(t *testing.T) {
	t.Parallel()

	capture := NewFFMPEGCapture(filepath.Join(t.TempDir(), "nope"), zerolog.Nop())
	_, err := capture.Start(context.Background(), ports.AudioConfig{})
	var captureErr *domain.CaptureError
	if !errors.As(err, &captureErr) {
		t.Fatalf("expected capture error, got %v", err)
	}
}

func TestClassifyCaptureErrorFallsBackToUnknown(t *testing.T) {
	t.Parallel()

	err := classifyCaptureError(errors.New("boom"), "something odd happened")
	if err.Kind != domain.CaptureErrorUnknown {
		t.Fatalf("expected unknown kind, got %q", err.Kind)
	}
	if errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("unknown kind must not match permission sentinel")
	}

	err = classifyCaptureError(os.ErrPermission, "")
	if err.Kind != domain.CaptureErrorPermission {
		t.Fatalf("expected permission kind, got %q", err.Kind)
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func TestStringsTrimSpaceSafe(t *testing.T) {
	t.Parallel()

	if got := stringsTrimSpaceSafe("  hi\n"); got != "hi" {
		t.Fatalf("unexpected trim result: %q", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
