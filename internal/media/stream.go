// Package media holds the local media handle an orchestrator attaches to a
// call. Capture is the caller's business; this package only owns the
// lifecycle of already-acquired tracks.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Stream bundles the local tracks for one call with whatever needs stopping
// when the call is torn down.
type Stream struct {
	tracks []webrtc.TrackLocal

	stopOnce sync.Once
	stop     func()
}

// NewStream wraps caller-acquired tracks. stop is invoked exactly once on
// Close and may be nil.
func NewStream(tracks []webrtc.TrackLocal, stop func()) *Stream {
	return &Stream{tracks: tracks, stop: stop}
}

// Tracks returns the local tracks to attach to a peer session.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

// Close stops all track sources. Safe to call more than once.
func (s *Stream) Close() {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// opusSilence is a single Opus DTX frame. Decoders render it as silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const silenceFrameDuration = 20 * time.Millisecond

// NewSilentAudioStream returns a Stream with one Opus audio track fed
// silence frames at the usual 20 ms cadence. It stands in for real capture
// when all that matters is an end-to-end media path, as in the CLI.
func NewSilentAudioStream() (*Stream, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "duocall",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(silenceFrameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				// Errors here mean the track is not attached yet or the
				// session is gone; either way the next tick retries.
				_ = track.WriteSample(pmedia.Sample{
					Data:     opusSilence,
					Duration: silenceFrameDuration,
				})
			case <-ctx.Done():
				return
			}
		}
	}()

	return NewStream([]webrtc.TrackLocal{track}, cancel), nil
}
