package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"voxsync/internal/domain"
	"voxsync/internal/ports"
)

// FFMPEGCapture captures the microphone with ffmpeg, encodes it to Ogg/Opus
// and exposes the result as an outbound WebRTC track.
type FFMPEGCapture struct {
	command string
	log     zerolog.Logger
}

func NewFFMPEGCapture(command string, logger zerolog.Logger) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command, log: logger.With().Str("component", "capture").Logger()}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.LiveAudio, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = opusSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = 32000
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-c:a", "libopus",
		"-b:a", strconv.Itoa(cfg.Bitrate),
		"-frame_duration", "20",
		"-page_duration", "20000",
		"-f", "ogg",
		"-",
	}

	track, err := newOpusTrack("mic")
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &domain.CaptureError{Kind: domain.CaptureErrorUnknown, Detail: "failed to create ffmpeg stdout pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyCaptureError(err, "")
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err == nil {
			err = errors.New("ffmpeg exited before capture started")
		}
		return nil, classifyCaptureError(fmt.Errorf("ffmpeg exited before capture started: %w", err), stringsTrimSpaceSafe(stderr.String()))
	case <-time.After(250 * time.Millisecond):
	}

	session := &ffmpegSession{
		track:   track,
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(session.done)
		if err := pumpOggPages(stdout, track); err != nil && !errors.Is(err, os.ErrClosed) {
			c.log.Warn().Err(err).Msg("live audio pump stopped")
		}
	}()

	c.log.Info().Str("device", cfg.InputDevice).Str("format", cfg.InputFormat).Msg("live audio capture started")
	return session, nil
}

type ffmpegSession struct {
	track *webrtc.TrackLocalStaticSample

	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error
	done    chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Track() webrtc.TrackLocal {
	return s.track
}

func (s *ffmpegSession) Done() <-chan struct{} {
	return s.done
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})

	return s.stopErr
}

func newOpusTrack(prefix string) (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2},
		prefix+"-"+uuid.NewString(),
		"voxsync",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", prefix, err)
	}
	return track, nil
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
