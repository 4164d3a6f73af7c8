package audio

import "math"

// Sine returns n samples of a sine wave at freq Hz, scaled to amplitude
// (0..1 of full scale) at the given sample rate.
func Sine(n int, freq float64, sampleRate int, amplitude float64) []int16 {
	if n < 1 || sampleRate < 1 {
		return nil
	}

	out := make([]int16, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = int16(amplitude * math.MaxInt16 * math.Sin(2*math.Pi*freq*t))
	}

	return out
}
