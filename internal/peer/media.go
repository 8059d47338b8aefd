package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// SampleMedia is a MediaSource backed by static sample tracks (silent
// audio, blank video). It stands in for real capture devices in the CLI
// harness; in a browser client the equivalent is getUserMedia. Like a
// real device it is exclusive: a second Acquire before Release fails.
type SampleMedia struct {
	mu       sync.Mutex
	acquired bool
}

func NewSampleMedia() *SampleMedia {
	return &SampleMedia{}
}

func (s *SampleMedia) Acquire(ctx context.Context) ([]webrtc.TrackLocal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		return nil, fmt.Errorf("media device already in use")
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "relay-peer")
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "relay-peer")
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	s.acquired = true
	return []webrtc.TrackLocal{audio, video}, nil
}

// Release frees the device for the next acquisition. Idempotent.
func (s *SampleMedia) Release() {
	s.mu.Lock()
	s.acquired = false
	s.mu.Unlock()
}
