package audio

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const silenceFrame = 20 * time.Millisecond

// SilentTrack is a synthetic outbound track that only ever carries silence.
// It keeps the media line alive while the microphone is off.
type SilentTrack struct {
	track *webrtc.TrackLocalStaticSample

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewSilentTrack() (*SilentTrack, error) {
	track, err := newOpusTrack("silence")
	if err != nil {
		return nil, err
	}
	s := &SilentTrack{
		track: track,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *SilentTrack) Track() webrtc.TrackLocal {
	return s.track
}

// Valid reports whether the track is still producing frames.
func (s *SilentTrack) Valid() bool {
	select {
	case <-s.stop:
		return false
	default:
		return true
	}
}

func (s *SilentTrack) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

func (s *SilentTrack) run() {
	defer close(s.done)

	ticker := time.NewTicker(silenceFrame)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.track.WriteSample(media.Sample{Data: opusSilence, Duration: silenceFrame})
		}
	}
}
