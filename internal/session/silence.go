package session

import "math"

// trimSilence removes leading and trailing 10ms frames whose RMS falls
// below threshold, leaving speech (plus whatever falls in the last
// partial frame) untouched. An all-silent buffer trims to nil.
func trimSilence(samples []float32, sampleRate int, threshold float64) []float32 {
	if len(samples) == 0 || threshold <= 0 {
		return samples
	}
	frame := sampleRate / 100
	if frame <= 0 {
		frame = 1
	}

	start := 0
	for start < len(samples) {
		end := start + frame
		if end > len(samples) {
			end = len(samples)
		}
		if rms(samples[start:end]) >= threshold {
			break
		}
		start = end
	}

	end := len(samples)
	for end > start {
		begin := end - frame
		if begin < start {
			begin = start
		}
		if rms(samples[begin:end]) >= threshold {
			break
		}
		end = begin
	}

	if start >= end {
		return nil
	}
	return samples[start:end]
}

func rms(s []float32) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(s)))
}
