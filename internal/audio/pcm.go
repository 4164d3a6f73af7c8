package audio

// InputLen is the number of samples one classification window holds. The
// model's input tensor is trained against exactly this many floats.
const InputLen = 512

// Normalize converts a window of 16-bit PCM samples into a freshly allocated
// buffer of InputLen floats scaled so the loudest consumed sample reaches
// magnitude 1.0.
//
// Only the first min(length, len(samples), InputLen) samples are consumed;
// the rest of the buffer is zero. A negative length consumes nothing. Silent
// input yields an all-zero buffer.
func Normalize(samples []int16, length int) []float32 {
	out := make([]float32, InputLen)
	NormalizeInto(out, samples, length)

	return out
}

// NormalizeInto is Normalize writing into dst, which is zeroed first. At most
// len(dst) samples are consumed. It returns the peak absolute amplitude seen
// before scaling.
func NormalizeInto(dst []float32, samples []int16, length int) float32 {
	clear(dst)

	n := consumed(len(dst), samples, length)

	var peak float32
	for i := range n {
		v := float32(samples[i])
		dst[i] = v
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}

	if peak > 0 {
		for i := range n {
			dst[i] /= peak
		}
	}

	return peak
}

func consumed(capacity int, samples []int16, length int) int {
	n := length
	if n < 0 {
		return 0
	}
	if n > len(samples) {
		n = len(samples)
	}
	if n > capacity {
		n = capacity
	}

	return n
}

// Windows slices samples into consecutive windows of size samples that
// start hop samples apart. The final window may be shorter than size; a
// trailing window is only emitted when it holds at least one sample not
// covered by an earlier window. Windows alias samples.
func Windows(samples []int16, size, hop int) [][]int16 {
	if size < 1 || hop < 1 || len(samples) == 0 {
		return nil
	}

	var out [][]int16
	for start := 0; start < len(samples); start += hop {
		end := min(start+size, len(samples))
		out = append(out, samples[start:end])
		if end == len(samples) {
			break
		}
	}

	return out
}
