package audio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"voxsync/internal/ports"
)

// NewPlaybackSink returns a sink that records remote audio to an Ogg/Opus
// file, or discards it when path is empty.
func NewPlaybackSink(path string) (ports.AudioSink, error) {
	if path == "" {
		return discardSink{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create playback directory: %w", err)
	}
	writer, err := oggwriter.New(path, opusSampleRate, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to open playback file %q: %w", path, err)
	}
	return writer, nil
}

type discardSink struct{}

func (discardSink) WriteRTP(*rtp.Packet) error { return nil }
func (discardSink) Close() error               { return nil }
