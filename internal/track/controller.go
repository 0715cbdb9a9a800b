// Package track decides what the outbound audio senders carry: the live
// microphone track or a silent placeholder. Every sender always has one of
// the two attached; the remote side treats a track-less sender as a fatal
// degradation of the media line.
package track

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"voxsync/internal/audio"
	"voxsync/internal/domain"
	"voxsync/internal/ports"
)

// ErrClosed is returned by a Controller after Close.
var ErrClosed = errors.New("track controller is closed")

// Placeholder is a synthetic track used while muted.
type Placeholder interface {
	Track() webrtc.TrackLocal
	Valid() bool
	Stop()
}

// Option customizes a Controller.
type Option func(*Controller)

// WithPlaceholderFactory overrides how silent placeholder tracks are built.
func WithPlaceholderFactory(fn func() (Placeholder, error)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newPlaceholder = fn
		}
	}
}

// Controller owns the live capture and the placeholder track.
type Controller struct {
	capture ports.AudioCapture
	cfg     ports.AudioConfig
	log     zerolog.Logger

	newPlaceholder func() (Placeholder, error)

	mu          sync.Mutex
	placeholder Placeholder
	live        ports.LiveAudio
	state       domain.TrackState
	closed      bool
}

func NewController(capture ports.AudioCapture, cfg ports.AudioConfig, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		capture: capture,
		cfg:     cfg,
		log:     logger.With().Str("component", "track").Logger(),
		state:   domain.TrackStateMuted,
		newPlaceholder: func() (Placeholder, error) {
			return audio.NewSilentTrack()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Placeholder returns the silent track, building a new one when the
// previous placeholder was stopped.
func (c *Controller) Placeholder() (webrtc.TrackLocal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	ph, err := c.placeholderLocked()
	if err != nil {
		return nil, err
	}
	return ph.Track(), nil
}

// EnableLiveAudio starts microphone capture and attaches the live track to
// every sender. Capture failures come back as *domain.CaptureError.
func (c *Controller) EnableLiveAudio(ctx context.Context, senders []ports.Sender) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state == domain.TrackStateLive && c.live != nil {
		return nil
	}
	if c.capture == nil {
		return &domain.CaptureError{Kind: domain.CaptureErrorDeviceNotFound, Detail: "no audio capture configured"}
	}

	live, err := c.capture.Start(ctx, c.cfg)
	if err != nil {
		var captureErr *domain.CaptureError
		if errors.As(err, &captureErr) {
			return err
		}
		return &domain.CaptureError{Kind: domain.CaptureErrorUnknown, Err: err}
	}

	c.replaceAll(senders, live.Track())
	c.live = live
	c.state = domain.TrackStateLive
	c.log.Info().Int("senders", len(senders)).Msg("live audio attached")
	return nil
}

// DisableLiveAudio attaches the placeholder to every sender and stops the
// live capture. Problems swapping tracks are logged; the only error is
// ErrClosed, in which case nothing is touched.
func (c *Controller) DisableLiveAudio(senders []ports.Sender) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	ph, err := c.placeholderLocked()
	if err != nil {
		c.log.Error().Err(err).Msg("failed to build placeholder track, keeping current tracks")
	} else {
		c.replaceAll(senders, ph.Track())
	}

	c.stopLiveLocked()
	c.state = domain.TrackStateMuted
	return nil
}

// State reports whether senders carry live or placeholder audio.
func (c *Controller) State() domain.TrackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LiveDone is closed when the running live capture ends on its own. It is
// nil while muted.
func (c *Controller) LiveDone() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return nil
	}
	return c.live.Done()
}

// Close stops both the live capture and the placeholder. Every later call
// that would attach a track fails with ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.stopLiveLocked()
	if c.placeholder != nil {
		c.placeholder.Stop()
		c.placeholder = nil
	}
	c.state = domain.TrackStateMuted
}

func (c *Controller) placeholderLocked() (Placeholder, error) {
	if c.placeholder != nil && c.placeholder.Valid() {
		return c.placeholder, nil
	}
	ph, err := c.newPlaceholder()
	if err != nil {
		return nil, err
	}
	c.placeholder = ph
	return ph, nil
}

func (c *Controller) stopLiveLocked() {
	if c.live == nil {
		return
	}
	if err := c.live.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("live audio capture did not stop cleanly")
	}
	c.live = nil
}

func (c *Controller) replaceAll(senders []ports.Sender, next webrtc.TrackLocal) {
	for i, sender := range senders {
		if sender == nil || sender.Track() == next {
			continue
		}
		if err := sender.ReplaceTrack(next); err != nil {
			c.log.Warn().Err(err).Int("sender", i).Msg("failed to replace sender track")
		}
	}
}
