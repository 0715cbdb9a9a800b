package usecase

import (
	"context"
	"sync"

	"voxsync/internal/domain"
	"voxsync/internal/ports"
	"voxsync/internal/protocol"
	"voxsync/internal/timeline"
	"voxsync/internal/track"
)

// activeSession is one open connection plus everything scoped to it. The
// synchronizer and router are touched only by the event-loop goroutine.
type activeSession struct {
	conn   ports.Connection
	tracks *track.Controller
	sync   *timeline.Synchronizer
	router *protocol.Router

	actions  chan func()
	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}

	finishOnce sync.Once

	stateMu   sync.Mutex
	state     domain.SessionState
	turnState domain.TurnState
}

func newActiveSession(conn ports.Connection, tracks *track.Controller) *activeSession {
	return &activeSession{
		conn:      conn,
		tracks:    tracks,
		actions:   make(chan func()),
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		state:     domain.SessionStateConnecting,
		turnState: domain.TurnStateIdle,
	}
}

func (s *activeSession) setState(state domain.SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

func (s *activeSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *activeSession) setTurnState(state domain.TurnState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.turnState = state
}

func (s *activeSession) getTurnState() domain.TurnState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.turnState
}

func (s *activeSession) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// post hands fn to the event loop without waiting for it to run.
func (s *activeSession) post(fn func()) {
	select {
	case s.actions <- fn:
	case <-s.loopDone:
	}
}

// do runs fn on the event loop and waits for its result.
func (s *activeSession) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	select {
	case s.actions <- func() { result <- fn() }:
	case <-s.loopDone:
		return ErrNoActiveSession
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-s.loopDone:
		select {
		case err := <-result:
			return err
		default:
			return ErrNoActiveSession
		}
	}
}
