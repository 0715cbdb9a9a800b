// Package timeline merges the response stream and the transcription stream
// into one ordered list of turns.
//
// The two producers share no correlation id, so the Synchronizer tracks a
// single locally allocated turn id and only lets the next turn open once
// both producers have reported completion for the current one. Remote ids
// seen on events are remembered as aliases of the turn they landed in, so
// late completions for an older turn update that entry without touching
// the completion flags of the open turn.
//
// A Synchronizer is not safe for concurrent use. Callers serialize every
// call onto one goroutine.
package timeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voxsync/internal/domain"
)

// Final is the outcome of a finished response.
type Final struct {
	OutputID      string
	Transcript    string
	HasTranscript bool
}

// Option customizes a Synchronizer.
type Option func(*Synchronizer)

// WithIDGenerator overrides local turn id allocation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Synchronizer) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(fn func() time.Time) Option {
	return func(s *Synchronizer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithMaxTurns keeps only the newest n turns. Zero keeps everything.
func WithMaxTurns(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithLogger sets the logger used for dropped events.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Synchronizer) {
		s.log = logger
	}
}

// WithChangeHandler receives a fresh snapshot after every mutation.
func WithChangeHandler(fn func([]domain.Turn)) Option {
	return func(s *Synchronizer) {
		s.onChange = fn
	}
}

// WithTurnClosedHandler is called when a turn completes or expires.
func WithTurnClosedHandler(fn func(domain.Turn)) Option {
	return func(s *Synchronizer) {
		s.onClosed = fn
	}
}

// retiredRefs bounds how many remote ids of evicted turns are remembered
// so their late events can still be dropped.
const retiredRefs = 64

type producer int

const (
	producerUser producer = iota
	producerBot
)

type completion struct {
	responseDone      bool
	transcriptionDone bool
}

// Synchronizer owns the turn list and the completion state of the open turn.
type Synchronizer struct {
	turns   []*domain.Turn
	aliases map[string]string
	current string
	flags   completion

	retired      map[string]struct{}
	retiredOrder []string

	maxTurns int
	newID    func() string
	now      func() time.Time
	log      zerolog.Logger
	onChange func([]domain.Turn)
	onClosed func(domain.Turn)
}

func New(opts ...Option) *Synchronizer {
	s := &Synchronizer{
		aliases: make(map[string]string),
		retired: make(map[string]struct{}),
		newID:   uuid.NewString,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BotDelta appends partial response text. ref is the remote response id.
func (s *Synchronizer) BotDelta(ref string, text string) {
	s.appendDelta(producerBot, ref, text)
}

// UserDelta appends partial transcription text. ref is the remote item id.
func (s *Synchronizer) UserDelta(ref string, text string) {
	s.appendDelta(producerUser, ref, text)
}

// UserCompleted replaces the user text with the authoritative transcript
// and marks transcription done.
func (s *Synchronizer) UserCompleted(ref string, text string) {
	turn, isCurrent := s.resolve(ref, true)
	if turn == nil {
		return
	}
	turn.UserText = stringPtr(text)
	s.touch(turn)
	if isCurrent {
		s.flags.transcriptionDone = true
		s.checkJointCompletion()
	}
	s.publish()
}

// UserFailed marks transcription done without changing the user text.
func (s *Synchronizer) UserFailed(ref string) {
	turn, isCurrent := s.resolve(ref, false)
	if turn == nil || !isCurrent {
		return
	}
	s.flags.transcriptionDone = true
	s.touch(turn)
	s.checkJointCompletion()
	s.publish()
}

// ResponseDone applies the final response outcome and marks the response done.
func (s *Synchronizer) ResponseDone(ref string, final Final) {
	turn, isCurrent := s.resolve(ref, final.HasTranscript)
	if turn == nil {
		return
	}
	if final.HasTranscript {
		turn.BotText = stringPtr(final.Transcript)
		if final.OutputID != "" {
			turn.ID = final.OutputID
			s.aliases[final.OutputID] = turn.LocalID
		}
	}
	s.touch(turn)
	if isCurrent {
		s.flags.responseDone = true
		s.checkJointCompletion()
	}
	s.publish()
}

// Expire force-closes the open turn. It reports whether a turn was open.
func (s *Synchronizer) Expire() bool {
	if s.current == "" {
		return false
	}
	turn := s.find(s.current)
	s.current = ""
	s.flags = completion{}
	if turn != nil {
		turn.Status = domain.TurnStatusExpired
		s.touch(turn)
		s.closed(turn)
	}
	s.publish()
	return true
}

// State reports where the open turn is in its lifecycle.
func (s *Synchronizer) State() domain.TurnState {
	switch {
	case s.current == "":
		return domain.TurnStateIdle
	case s.flags.responseDone || s.flags.transcriptionDone:
		return domain.TurnStateAwaitingJointCompletion
	default:
		return domain.TurnStateAccumulating
	}
}

// CurrentTurnID returns the local id of the open turn, or "" when idle.
func (s *Synchronizer) CurrentTurnID() string {
	return s.current
}

// Snapshot returns a deep copy of the timeline.
func (s *Synchronizer) Snapshot() []domain.Turn {
	out := make([]domain.Turn, len(s.turns))
	for i, turn := range s.turns {
		out[i] = turn.Clone()
	}
	return out
}

func (s *Synchronizer) appendDelta(p producer, ref string, text string) {
	turn, _ := s.resolve(ref, true)
	if turn == nil {
		return
	}
	switch p {
	case producerUser:
		turn.UserText = appendText(turn.UserText, text)
	case producerBot:
		turn.BotText = appendText(turn.BotText, text)
	}
	s.touch(turn)
	s.publish()
}

// resolve finds the turn an event belongs to. isCurrent is false when the
// event was routed to an older turn by alias; such events never touch the
// completion flags.
func (s *Synchronizer) resolve(ref string, openIfIdle bool) (turn *domain.Turn, isCurrent bool) {
	if ref != "" {
		if _, ok := s.retired[ref]; ok {
			s.log.Debug().Str("ref", ref).Msg("dropping event for evicted turn")
			return nil, false
		}
		if local, ok := s.aliases[ref]; ok {
			return s.find(local), local == s.current
		}
	}

	if s.current == "" {
		if !openIfIdle {
			s.log.Debug().Str("ref", ref).Msg("dropping completion with no open turn")
			return nil, false
		}
		s.open()
	}
	if ref != "" {
		s.aliases[ref] = s.current
	}
	return s.find(s.current), true
}

func (s *Synchronizer) open() {
	id := s.newID()
	s.turns = append(s.turns, &domain.Turn{
		LocalID:   id,
		ID:        id,
		Status:    domain.TurnStatusOpen,
		UpdatedAt: s.now(),
	})
	s.current = id
	s.flags = completion{}

	if s.maxTurns > 0 && len(s.turns) > s.maxTurns {
		cut := len(s.turns) - s.maxTurns
		s.forget(s.turns[:cut])
		s.turns = append([]*domain.Turn(nil), s.turns[cut:]...)
	}
}

// forget moves the aliases of evicted turns into the bounded retired set.
func (s *Synchronizer) forget(evicted []*domain.Turn) {
	gone := make(map[string]struct{}, len(evicted))
	for _, turn := range evicted {
		gone[turn.LocalID] = struct{}{}
	}
	for ref, local := range s.aliases {
		if _, ok := gone[local]; !ok {
			continue
		}
		delete(s.aliases, ref)
		s.retired[ref] = struct{}{}
		s.retiredOrder = append(s.retiredOrder, ref)
	}
	for len(s.retiredOrder) > retiredRefs {
		delete(s.retired, s.retiredOrder[0])
		s.retiredOrder = s.retiredOrder[1:]
	}
}

func (s *Synchronizer) checkJointCompletion() {
	if !s.flags.responseDone || !s.flags.transcriptionDone {
		return
	}
	turn := s.find(s.current)
	s.current = ""
	s.flags = completion{}
	if turn != nil {
		turn.Status = domain.TurnStatusComplete
		s.closed(turn)
	}
}

func (s *Synchronizer) find(localID string) *domain.Turn {
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].LocalID == localID {
			return s.turns[i]
		}
	}
	return nil
}

func (s *Synchronizer) touch(turn *domain.Turn) {
	turn.UpdatedAt = s.now()
}

func (s *Synchronizer) closed(turn *domain.Turn) {
	if s.onClosed != nil {
		s.onClosed(turn.Clone())
	}
}

func (s *Synchronizer) publish() {
	if s.onChange != nil {
		s.onChange(s.Snapshot())
	}
}

func appendText(existing *string, text string) *string {
	if existing == nil {
		return stringPtr(text)
	}
	return stringPtr(*existing + text)
}

func stringPtr(s string) *string {
	return &s
}
