package audio

import (
	"strings"
	"testing"
	"time"
)

func TestDownmix(t *testing.T) {
	got := Downmix([]int16{100, 300, -200, 200, 32767, 32767, 5})
	want := []int16{200, 0, 32767}
	if len(got) != len(want) {
		t.Fatalf("Downmix() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Downmix()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		inLen    int
		wantLen  int
	}{
		{"identity", 48000, 48000, 480, 480},
		{"upsample 44.1k", 44100, 48000, 44100, 48000},
		{"upsample 24k", 24000, 48000, 100, 200},
		{"downsample", 96000, 48000, 200, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]int16, tt.inLen)
			for i := range in {
				in[i] = 1000
			}
			out := Resample(in, tt.from, tt.to)
			if len(out) != tt.wantLen {
				t.Fatalf("Resample() len = %d, want %d", len(out), tt.wantLen)
			}
			for i, v := range out {
				if v != 1000 {
					t.Fatalf("Resample()[%d] = %d, want 1000 for constant input", i, v)
				}
			}
		})
	}
}

func TestResampleInterpolates(t *testing.T) {
	out := Resample([]int16{0, 100}, 1, 2)
	if len(out) != 4 || out[1] != 50 {
		t.Errorf("Resample() = %v, want midpoint 50 at index 1", out)
	}
}

func TestMaxSamplesAndTruncate(t *testing.T) {
	if got := MaxSamples(10 * time.Second); got != 480000 {
		t.Errorf("MaxSamples(10s) = %d", got)
	}
	if got := len(Truncate(make([]int16, 10), 4)); got != 4 {
		t.Errorf("Truncate() len = %d, want 4", got)
	}
	if got := len(Truncate(make([]int16, 3), 4)); got != 3 {
		t.Errorf("Truncate() len = %d, want 3", got)
	}
}

func TestDecodeMP3RejectsGarbage(t *testing.T) {
	if _, err := DecodeMP3(strings.NewReader("definitely not an mp3"), time.Second); err == nil {
		t.Error("DecodeMP3() accepted garbage input")
	}
}

func TestFrameSize(t *testing.T) {
	if FrameSize != 960 {
		t.Errorf("FrameSize = %d, want 960", FrameSize)
	}
}
