package main

import (
	"errors"
	"fmt"
	"testing"

	"voxsync/internal/domain"
	"voxsync/internal/usecase"
)

func TestSessionReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.SessionStateReason]string{
		domain.SessionReasonReady:           "Ready",
		domain.SessionReasonConnecting:      "Connecting...",
		domain.SessionReasonConnected:       "Connected",
		domain.SessionReasonChannelOpen:     "Conversation open",
		domain.SessionReasonStopped:         "Session stopped",
		domain.SessionReasonTokenFailed:     "Could not obtain a session token",
		domain.SessionReasonHandshakeFailed: "Connection handshake failed",
		domain.SessionReasonTransportClosed: "Connection lost",
	}

	for reason, want := range cases {
		reason := reason
		want := want
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			if got := sessionReasonMessage(reason); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := sessionReasonMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown reason message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:   "Startup failed",
		domain.ErrorCodeToken:     "Token request failed",
		domain.ErrorCodeHandshake: "Handshake failed",
		domain.ErrorCodeTransport: "Connection error",
		domain.ErrorCodeParse:     "Unreadable server event",
		domain.ErrorCodeRemote:    "Server reported an error",
		domain.ErrorCodeCapture:   "Microphone error",
		domain.ErrorCodeTurn:      "Turn timed out",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.StartSession(); !errors.Is(err, bootErr) {
		t.Fatalf("expected start to report boot error, got %v", err)
	}
	if err := app.SendText("hi"); !errors.Is(err, bootErr) {
		t.Fatalf("expected send to report boot error, got %v", err)
	}
}

func TestIsUserError(t *testing.T) {
	t.Parallel()

	for _, err := range []error{usecase.ErrEmptyText, usecase.ErrNoActiveSession, usecase.ErrTurnInProgress} {
		if !isUserError(fmt.Errorf("send: %w", err)) {
			t.Fatalf("expected %v to be a user error", err)
		}
	}
	if isUserError(errors.New("socket closed")) {
		t.Fatalf("transport failures must not be user errors")
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	status := app.GetStatus()
	if status.State != domain.SessionStateIdle || status.Active || status.Track != domain.TrackStateMuted {
		t.Fatalf("unexpected status: %+v", status)
	}
	if turns := app.GetTimeline(); turns == nil || len(turns) != 0 {
		t.Fatalf("expected empty non-nil timeline, got %+v", turns)
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.State != domain.SessionStateError || status.Active || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("unexpected runtime info: %+v", info)
	}
}

func TestEventSinkWithoutContextIsSilent(t *testing.T) {
	t.Parallel()

	app := &App{}
	app.TimelineChanged(nil)
	app.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
	app.TrackStateChanged(domain.TrackStateMuted)
	app.SessionError(domain.ErrorCodeStartup, "boom")
}
