package audio

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/wav"
)

// Expected WAV layout for classifier input.
const (
	ExpectedChannels = 1
	ExpectedBitDepth = 16
)

// ErrFormatMismatch is returned when a decoded WAV does not match the expected format.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// PCM is a decoded mono 16-bit clip.
type PCM struct {
	SampleRate int
	Samples    []int16
}

// DecodeWAV decodes WAV bytes into 16-bit PCM samples. It requires mono,
// 16-bit PCM. When sampleRate is non-zero the file must match it.
func DecodeWAV(data []byte, sampleRate int) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return PCM{}, errors.New("invalid WAV file")
	}

	if sampleRate > 0 && int(dec.SampleRate) != sampleRate {
		return PCM{}, fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, dec.SampleRate, sampleRate)
	}
	if dec.NumChans != ExpectedChannels {
		return PCM{}, fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, dec.NumChans, ExpectedChannels)
	}
	if dec.BitDepth != ExpectedBitDepth {
		return PCM{}, fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, dec.BitDepth, ExpectedBitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("reading PCM data: %w", err)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = floatToPCM16(v)
	}

	return PCM{SampleRate: int(dec.SampleRate), Samples: samples}, nil
}

// floatToPCM16 maps a full-scale float in [-1, 1] back onto the int16 grid.
func floatToPCM16(v float32) int16 {
	s := math.Round(float64(v) * 32768)
	switch {
	case s > math.MaxInt16:
		return math.MaxInt16
	case s < math.MinInt16:
		return math.MinInt16
	default:
		return int16(s)
	}
}
