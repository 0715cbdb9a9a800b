package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voxsync/internal/domain"
	"voxsync/internal/metrics"
	"voxsync/internal/ports"
	"voxsync/internal/protocol"
	"voxsync/internal/timeline"
	"voxsync/internal/track"
)

var (
	ErrNoActiveSession = errors.New("no active realtime session")
	ErrNoAudioPath     = errors.New("session transport carries no audio")
	ErrEmptyText       = errors.New("text message is empty")
	ErrTurnInProgress  = errors.New("a turn is still in progress")
)

// Config controls realtime session behavior.
type Config struct {
	Endpoint    string
	Model       string
	Session     protocol.SessionConfig
	Audio       ports.AudioConfig
	TurnTimeout time.Duration
	MaxTurns    int
	StartLive   bool
}

// SessionController owns at most one realtime session and serializes every
// timeline mutation onto that session's event loop.
type SessionController struct {
	tokens    ports.TokenSource
	transport ports.Transport
	capture   ports.AudioCapture
	events    ports.EventSink
	cfg       Config
	log       zerolog.Logger

	// lifecycleMu orders session teardown against track changes.
	lifecycleMu sync.Mutex

	mu       sync.Mutex
	current  *activeSession
	timeline []domain.Turn
}

func NewSessionController(
	tokens ports.TokenSource,
	transport ports.Transport,
	capture ports.AudioCapture,
	events ports.EventSink,
	cfg Config,
	logger zerolog.Logger,
) *SessionController {
	if cfg.TurnTimeout < 0 {
		cfg.TurnTimeout = 0
	}
	return &SessionController{
		tokens:    tokens,
		transport: transport,
		capture:   capture,
		events:    events,
		cfg:       cfg,
		log:       logger.With().Str("component", "session").Logger(),
	}
}

// StartSession negotiates a new connection. It is a no-op while a session
// is already active.
func (c *SessionController) StartSession(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.active() != nil {
		return nil
	}

	c.events.SessionStateChanged(domain.SessionStateConnecting, domain.SessionReasonConnecting)

	token, err := c.tokens.EphemeralToken(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to obtain ephemeral token")
		c.events.SessionError(domain.ErrorCodeToken, err.Error())
		c.events.SessionStateChanged(domain.SessionStateError, domain.SessionReasonTokenFailed)
		return fmt.Errorf("failed to obtain session token: %w", err)
	}

	tracks := track.NewController(c.capture, c.cfg.Audio, c.log)
	placeholder, err := tracks.Placeholder()
	if err != nil {
		tracks.Close()
		c.events.SessionError(domain.ErrorCodeStartup, err.Error())
		c.events.SessionStateChanged(domain.SessionStateError, domain.SessionReasonHandshakeFailed)
		return fmt.Errorf("failed to build placeholder track: %w", err)
	}

	conn, err := c.transport.Open(ctx, ports.OpenRequest{
		Token:        token,
		Endpoint:     c.cfg.Endpoint,
		Model:        c.cfg.Model,
		InitialTrack: placeholder,
	})
	if err != nil {
		tracks.Close()
		c.log.Error().Err(err).Msg("handshake failed")
		c.events.SessionError(domain.ErrorCodeHandshake, err.Error())
		c.events.SessionStateChanged(domain.SessionStateError, domain.SessionReasonHandshakeFailed)
		return err
	}

	active := newActiveSession(conn, tracks)
	active.sync = timeline.New(
		timeline.WithMaxTurns(c.cfg.MaxTurns),
		timeline.WithLogger(c.log),
		timeline.WithChangeHandler(c.publishTimeline),
		timeline.WithTurnClosedHandler(c.turnClosed),
	)
	active.router = protocol.NewRouter(&timelineHandler{sync: active.sync, events: c.events, log: c.log},
		protocol.WithMessageObserver(c.observeMessage),
		protocol.WithParseErrorHandler(c.parseFailed),
	)
	active.setState(domain.SessionStateActive)

	c.mu.Lock()
	c.current = active
	c.timeline = nil
	c.mu.Unlock()
	metrics.ActiveSessions.Inc()

	c.events.TimelineChanged([]domain.Turn{})
	c.events.SessionStateChanged(domain.SessionStateActive, domain.SessionReasonConnected)
	c.events.TrackStateChanged(domain.TrackStateMuted)

	go c.run(active)

	if c.cfg.StartLive && len(conn.Senders()) > 0 {
		if err := c.enableLive(ctx, active); err != nil {
			c.log.Warn().Err(err).Msg("session started muted")
		}
	}
	return nil
}

// StopSession tears down the active session. Calling it without a session
// is a no-op.
func (c *SessionController) StopSession() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	active := c.detach(nil)
	if active == nil {
		return nil
	}

	active.setState(domain.SessionStateStopping)
	c.events.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonStopped)
	c.finish(active, domain.SessionStateIdle, domain.SessionReasonStopped)
	return nil
}

// MuteSession swaps the placeholder back onto every sender.
func (c *SessionController) MuteSession() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	active := c.active()
	if active == nil {
		return nil
	}
	if active.tracks.State() == domain.TrackStateMuted {
		return nil
	}
	if active.tracks.DisableLiveAudio(active.conn.Senders()) == nil {
		c.events.TrackStateChanged(domain.TrackStateMuted)
	}
	return nil
}

// UnmuteSession starts microphone capture and attaches it to every sender.
func (c *SessionController) UnmuteSession(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	active := c.active()
	if active == nil {
		return ErrNoActiveSession
	}
	if active.tracks.State() == domain.TrackStateLive {
		return nil
	}
	return c.enableLive(ctx, active)
}

// SendText adds a typed user message and asks for a response. The message
// opens a new turn keyed by its item id, with the typed text as the
// finished user side. It fails with ErrTurnInProgress while a turn is open.
func (c *SessionController) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	active := c.active()
	if active == nil {
		return ErrNoActiveSession
	}

	return active.do(ctx, func() error {
		if active.sync.State() != domain.TurnStateIdle {
			return ErrTurnInProgress
		}
		msg := protocol.NewUserMessage(text)
		active.sync.UserCompleted(msg.Item.ID, text)
		if err := c.send(active, msg); err != nil {
			return err
		}
		return c.send(active, protocol.NewResponseCreate())
	})
}

// Timeline returns a copy of the latest published timeline.
func (c *SessionController) Timeline() []domain.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CloneTurns(c.timeline)
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	active := c.active()
	if active == nil {
		return domain.Status{State: domain.SessionStateIdle, Track: domain.TrackStateMuted, Turn: domain.TurnStateIdle}
	}
	state := active.getState()
	status := domain.Status{
		State:  state,
		Active: state == domain.SessionStateActive,
		Track:  active.tracks.State(),
		Turn:   active.getTurnState(),
	}
	if len(active.conn.Senders()) == 0 {
		status.Message = "text only"
	}
	return status
}

func (c *SessionController) active() *activeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// detach clears the current session. A non-nil want only detaches that
// session.
func (c *SessionController) detach(want *activeSession) *activeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := c.current
	if active == nil || (want != nil && active != want) {
		return nil
	}
	c.current = nil
	return active
}

func (c *SessionController) finish(active *activeSession, state domain.SessionState, reason domain.SessionStateReason) {
	active.finishOnce.Do(func() {
		active.halt()
		<-active.loopDone

		if err := active.conn.Close(); err != nil {
			c.log.Warn().Err(err).Msg("connection did not close cleanly")
		}
		active.tracks.Close()
		active.setState(state)
		metrics.ActiveSessions.Dec()

		c.events.TrackStateChanged(domain.TrackStateMuted)
		c.events.SessionStateChanged(state, reason)
	})
}

func (c *SessionController) enableLive(ctx context.Context, active *activeSession) error {
	senders := active.conn.Senders()
	if len(senders) == 0 {
		return ErrNoAudioPath
	}

	if err := active.tracks.EnableLiveAudio(ctx, senders); err != nil {
		if errors.Is(err, track.ErrClosed) {
			return ErrNoActiveSession
		}
		c.log.Warn().Err(err).Msg("failed to enable live audio")
		c.events.SessionError(domain.ErrorCodeCapture, err.Error())
		return err
	}
	c.events.TrackStateChanged(domain.TrackStateLive)

	if done := active.tracks.LiveDone(); done != nil {
		go c.watchCapture(active, done)
	}
	return nil
}

// watchCapture falls back to the placeholder when the microphone capture
// ends without a mute request.
func (c *SessionController) watchCapture(active *activeSession, done <-chan struct{}) {
	select {
	case <-done:
	case <-active.stop:
		return
	}

	active.post(func() {
		if active.tracks.LiveDone() != done {
			return
		}
		if err := active.tracks.DisableLiveAudio(active.conn.Senders()); err != nil {
			return
		}
		c.events.TrackStateChanged(domain.TrackStateMuted)
		c.events.SessionError(domain.ErrorCodeCapture, "microphone capture ended unexpectedly")
	})
}

func (c *SessionController) run(active *activeSession) {
	lost := c.loop(active)
	close(active.loopDone)

	if !lost {
		return
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.detach(active) != nil {
		c.finish(active, domain.SessionStateIdle, domain.SessionReasonTransportClosed)
	}
}

// loop drains the connection until it ends or the session is stopped. It
// reports whether the connection ended on its own.
func (c *SessionController) loop(active *activeSession) bool {
	ready := active.conn.Ready()
	events := active.conn.Events()

	var turnTimer *time.Timer
	var turnExpired <-chan time.Time
	defer func() {
		if turnTimer != nil {
			turnTimer.Stop()
		}
	}()

	armTurnTimer := func() {
		state := active.sync.State()
		active.setTurnState(state)
		if c.cfg.TurnTimeout <= 0 {
			return
		}
		if state == domain.TurnStateIdle {
			if turnTimer != nil {
				turnTimer.Stop()
			}
			turnExpired = nil
			return
		}
		if turnTimer == nil {
			turnTimer = time.NewTimer(c.cfg.TurnTimeout)
		} else {
			turnTimer.Reset(c.cfg.TurnTimeout)
		}
		turnExpired = turnTimer.C
	}

	for {
		select {
		case <-active.stop:
			return false

		case <-ready:
			ready = nil
			c.configureSession(active)
			c.events.SessionStateChanged(domain.SessionStateActive, domain.SessionReasonChannelOpen)

		case payload := <-events:
			active.router.HandleRaw(payload)
			armTurnTimer()

		case fn := <-active.actions:
			fn()
			armTurnTimer()

		case <-turnExpired:
			turnExpired = nil
			if active.sync.Expire() {
				c.log.Warn().Dur("timeout", c.cfg.TurnTimeout).Msg("turn expired before both completions arrived")
			}
			active.setTurnState(active.sync.State())

		case <-active.conn.Done():
			for drained := false; !drained; {
				select {
				case payload := <-events:
					active.router.HandleRaw(payload)
				default:
					drained = true
				}
			}
			if err := active.conn.Err(); err != nil {
				c.log.Error().Err(err).Msg("connection closed unexpectedly")
				c.events.SessionError(domain.ErrorCodeTransport, err.Error())
			}
			return true
		}
	}
}

func (c *SessionController) configureSession(active *activeSession) {
	session := c.cfg.Session
	if session.InputAudioTranscription != nil {
		transcription := *session.InputAudioTranscription
		session.InputAudioTranscription = &transcription
	}
	session.Modalities = append([]string(nil), session.Modalities...)
	session.Tools = append([]protocol.Tool(nil), session.Tools...)

	if err := c.send(active, protocol.NewSessionUpdate(session)); err != nil {
		c.events.SessionError(domain.ErrorCodeTransport, err.Error())
	}
}

func (c *SessionController) send(active *activeSession, event protocol.ClientEvent) error {
	id := protocol.EnsureEventID(event)
	if err := active.conn.Send(event); err != nil {
		c.log.Warn().Err(err).Str("type", event.EventType()).Str("event_id", id).Msg("failed to send event")
		return err
	}
	c.log.Debug().Str("type", event.EventType()).Str("event_id", id).Msg("event sent")
	return nil
}

func (c *SessionController) publishTimeline(turns []domain.Turn) {
	c.mu.Lock()
	c.timeline = domain.CloneTurns(turns)
	c.mu.Unlock()
	c.events.TimelineChanged(turns)
}

func (c *SessionController) turnClosed(turn domain.Turn) {
	metrics.ClosedTurns.WithLabelValues(string(turn.Status)).Inc()
	if turn.Status == domain.TurnStatusExpired {
		c.events.SessionError(domain.ErrorCodeTurn, fmt.Sprintf("turn %s expired before both completions arrived", turn.LocalID))
	}
}

func (c *SessionController) observeMessage(eventType string, _ []byte) {
	metrics.InboundEvents.WithLabelValues(eventType).Inc()
	c.log.Trace().Str("type", eventType).Msg("inbound event")
}

func (c *SessionController) parseFailed(err error, payload []byte) {
	metrics.ParseFailures.Inc()
	c.log.Warn().Err(err).Int("bytes", len(payload)).Msg("dropping malformed inbound event")
	c.events.SessionError(domain.ErrorCodeParse, err.Error())
}
