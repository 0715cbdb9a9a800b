package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voxsync/internal/bootstrap"
	"voxsync/internal/domain"
	"voxsync/internal/usecase"
)

const (
	eventTimeline = "voxsync:timeline"
	eventSession  = "voxsync:session"
	eventTrack    = "voxsync:track"
	eventError    = "voxsync:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services   bootstrap.Services
	controller *usecase.SessionController
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.controller = services.Controller
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(context.Context) {
	if err := a.services.Close(); err != nil && a.services.Logger != nil {
		a.services.Logger.Warn().Err(err).Msg("shutdown did not complete cleanly")
	}
}

// StartSession opens a realtime conversation.
func (a *App) StartSession() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StartSession(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopSession closes the current conversation.
func (a *App) StopSession() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StopSession(); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// MuteSession replaces the microphone with silence.
func (a *App) MuteSession() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.MuteSession(); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// UnmuteSession attaches the microphone.
func (a *App) UnmuteSession() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.UnmuteSession(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// SendText sends a typed user message.
func (a *App) SendText(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	err := a.controller.SendText(a.ctx, text)
	if err != nil && !isUserError(err) {
		a.SessionError(domain.ErrorCodeTransport, err.Error())
	}
	return err
}

// GetTimeline returns the current conversation timeline.
func (a *App) GetTimeline() []domain.Turn {
	if a.controller == nil {
		return []domain.Turn{}
	}
	return a.controller.Timeline()
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Track: domain.TrackStateMuted, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Track: domain.TrackStateMuted}
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	cfg := a.services.Config
	credential := "missing"
	if cfg.OpenAI.APIKey != "" {
		credential = "configured"
	}
	return map[string]string{
		"provider":         "OpenAI Realtime",
		"model":            cfg.OpenAI.Model,
		"voice":            cfg.OpenAI.Voice,
		"transport":        cfg.OpenAI.Transport,
		"credential":       credential,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// TimelineChanged pushes a fresh timeline snapshot to the frontend.
func (a *App) TimelineChanged(turns []domain.Turn) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTimeline, turns)
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// TrackStateChanged tells the frontend whether the microphone is live.
func (a *App) TrackStateChanged(state domain.TrackState) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTrack, map[string]string{"state": string(state)})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonConnecting:
		return "Connecting..."
	case domain.SessionReasonConnected:
		return "Connected"
	case domain.SessionReasonChannelOpen:
		return "Conversation open"
	case domain.SessionReasonStopped:
		return "Session stopped"
	case domain.SessionReasonTokenFailed:
		return "Could not obtain a session token"
	case domain.SessionReasonHandshakeFailed:
		return "Connection handshake failed"
	case domain.SessionReasonTransportClosed:
		return "Connection lost"
	default:
		return ""
	}
}

// isUserError reports send failures caused by the request itself rather
// than the connection.
func isUserError(err error) bool {
	return errors.Is(err, usecase.ErrEmptyText) ||
		errors.Is(err, usecase.ErrNoActiveSession) ||
		errors.Is(err, usecase.ErrTurnInProgress)
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeToken:
		return "Token request failed"
	case domain.ErrorCodeHandshake:
		return "Handshake failed"
	case domain.ErrorCodeTransport:
		return "Connection error"
	case domain.ErrorCodeParse:
		return "Unreadable server event"
	case domain.ErrorCodeRemote:
		return "Server reported an error"
	case domain.ErrorCodeCapture:
		return "Microphone error"
	case domain.ErrorCodeTurn:
		return "Turn timed out"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
