package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

const (
	// SampleRate is the rate every clip is converted to before encoding.
	SampleRate = 48000
	// FrameSize is the number of samples in one 20 ms voice frame.
	FrameSize = SampleRate / 50
	// FrameDuration is the playback time of one frame.
	FrameDuration = 20 * time.Millisecond
)

// ErrEmptyAudio is returned when a clip decodes to no samples.
var ErrEmptyAudio = errors.New("no audio samples decoded")

// DecodeFile decodes the MP3 at path. See DecodeMP3.
func DecodeFile(path string, maxDuration time.Duration) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open clip: %w", err)
	}
	defer f.Close()

	return DecodeMP3(bufio.NewReader(f), maxDuration)
}

// DecodeMP3 decodes r to mono PCM at SampleRate, keeping at most maxDuration
// of audio. A zero maxDuration keeps everything.
func DecodeMP3(r io.Reader, maxDuration time.Duration) ([]int16, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open mp3 stream: %w", err)
	}

	srcRate := dec.SampleRate()
	if srcRate <= 0 {
		return nil, fmt.Errorf("invalid source sample rate %d", srcRate)
	}

	// Source frames needed to cover the cap, plus one for interpolation.
	limit := -1
	if maxDuration > 0 {
		limit = int(maxDuration*time.Duration(srcRate)/time.Second) + 1
	}

	stereo, err := readStereo(dec, limit)
	if err != nil {
		return nil, err
	}

	mono := Resample(Downmix(stereo), srcRate, SampleRate)
	if maxDuration > 0 {
		mono = Truncate(mono, MaxSamples(maxDuration))
	}
	if len(mono) == 0 {
		return nil, ErrEmptyAudio
	}
	return mono, nil
}

// readStereo reads interleaved 16-bit stereo frames until EOF or limit frames.
func readStereo(r io.Reader, limit int) ([]int16, error) {
	const bytesPerFrame = 4

	var out []int16
	buf := make([]byte, 4096*bytesPerFrame)
	var carry []byte

	for limit < 0 || len(out)/2 < limit {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			whole := len(data) - len(data)%bytesPerFrame
			for i := 0; i < whole; i += 2 {
				out = append(out, int16(binary.LittleEndian.Uint16(data[i:])))
			}
			carry = append(carry[:0], data[whole:]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode mp3: %w", err)
		}
	}

	if limit >= 0 && len(out)/2 > limit {
		out = out[:limit*2]
	}
	return out, nil
}

// Downmix averages interleaved left/right samples into one channel.
func Downmix(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		mono[i] = int16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}
	return mono
}

// Resample converts in from one rate to another by linear interpolation.
func Resample(in []int16, from, to int) []int16 {
	if from == to || len(in) == 0 {
		return in
	}

	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)

	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		a, b := float64(in[idx]), float64(in[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// MaxSamples returns how many samples at SampleRate fit in d.
func MaxSamples(d time.Duration) int {
	return int(int64(d) * SampleRate / int64(time.Second))
}

// Truncate shortens pcm to at most n samples.
func Truncate(pcm []int16, n int) []int16 {
	if n >= 0 && len(pcm) > n {
		return pcm[:n]
	}
	return pcm
}
