package opusenc

import (
	"math"
	"testing"

	"github.com/rampart-project/rampart/internal/audio"
)

func TestEncodeFrame(t *testing.T) {
	enc, err := New(24000)
	if err != nil {
		t.Skipf("opus encoder unavailable: %v", err)
	}

	pcm := make([]int16, audio.FrameSize)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}

	out := make([]byte, 1275)
	n, err := enc.Encode(pcm, out)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if n <= 0 || n > len(out) {
		t.Errorf("Encode() length = %d", n)
	}
}

func TestEncodeRejectsWrongFrameSize(t *testing.T) {
	enc, err := New(0)
	if err != nil {
		t.Skipf("opus encoder unavailable: %v", err)
	}
	if _, err := enc.Encode(make([]int16, 100), make([]byte, 1275)); err == nil {
		t.Error("Encode() accepted a short frame")
	}
}
