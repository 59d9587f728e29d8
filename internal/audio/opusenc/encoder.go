// Package opusenc wraps libopus for the voice stream. It is the only package
// that needs cgo.
package opusenc

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/rampart-project/rampart/internal/audio"
)

// Encoder encodes mono 20 ms frames at audio.SampleRate.
type Encoder struct {
	enc *opus.Encoder
}

// New creates a VoIP-tuned mono encoder. A non-positive bitrate leaves the
// libopus default.
func New(bitrate int) (*Encoder, error) {
	enc, err := opus.NewEncoder(audio.SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("failed to set opus bitrate %d: %w", bitrate, err)
		}
	}
	return &Encoder{enc: enc}, nil
}

// Encode writes one frame of pcm into out and returns the packet length.
func (e *Encoder) Encode(pcm []int16, out []byte) (int, error) {
	if len(pcm) != audio.FrameSize {
		return 0, fmt.Errorf("frame has %d samples, want %d", len(pcm), audio.FrameSize)
	}
	return e.enc.Encode(pcm, out)
}
