package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusSampleRate = 48000

var opusTagsSignature = []byte("OpusTags")

type sampleWriter interface {
	WriteSample(sample media.Sample) error
}

// pumpOggPages forwards each Ogg page of a live Opus stream to the track.
// ffmpeg is told to emit one 20ms packet per page, so a page is a sample.
func pumpOggPages(r io.Reader, track sampleWriter) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("failed to read ogg header: %w", err)
	}

	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("failed to read ogg page: %w", err)
		}
		if bytes.HasPrefix(page, opusTagsSignature) {
			lastGranule = header.GranulePosition
			continue
		}

		var duration time.Duration
		if header.GranulePosition > lastGranule {
			duration = time.Duration(header.GranulePosition-lastGranule) * time.Second / opusSampleRate
		}
		lastGranule = header.GranulePosition

		if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return fmt.Errorf("failed to write opus sample: %w", err)
		}
	}
}
