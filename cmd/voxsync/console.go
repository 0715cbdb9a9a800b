package main

import (
	"fmt"
	"io"
	"sync"

	"voxsync/internal/domain"
)

// consoleSink prints closed turns and session events as plain text lines.
type consoleSink struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]domain.TurnStatus
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out, printed: make(map[string]domain.TurnStatus)}
}

func (s *consoleSink) TimelineChanged(turns []domain.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(turns) == 0 {
		s.printed = make(map[string]domain.TurnStatus)
		return
	}
	for _, turn := range turns {
		if turn.Status == domain.TurnStatusOpen {
			continue
		}
		if s.printed[turn.LocalID] == turn.Status {
			continue
		}
		s.printed[turn.LocalID] = turn.Status

		if user := turn.User(); user != "" {
			fmt.Fprintf(s.out, "you> %s\n", user)
		}
		bot := turn.Bot()
		switch {
		case turn.Status == domain.TurnStatusExpired:
			fmt.Fprintf(s.out, "bot> %s [incomplete]\n", bot)
		case bot != "":
			fmt.Fprintf(s.out, "bot> %s\n", bot)
		}
	}
}

func (s *consoleSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "-- session %s (%s)\n", state, reason)
}

func (s *consoleSink) TrackStateChanged(state domain.TrackState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "-- microphone %s\n", state)
}

func (s *consoleSink) SessionError(code domain.ErrorCode, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "!! %s: %s\n", code, detail)
}
