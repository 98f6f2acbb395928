package dsp

import "math"

// Gate is a per-session noise gate with hysteresis and hold, smoothed by
// an exponential attack/release envelope. It is stateful: repeated calls
// to Process on chunks of the same recording continue the envelope and
// hold timer from where the previous chunk left off.
type Gate struct {
	openThreshold  float64
	closeThreshold float64
	attackMS       float64
	releaseMS      float64
	holdMS         float64

	envelope      float64
	open          bool
	holdRemaining int
}

// NewGate builds a Gate from threshold/timing parameters expressed in
// dBFS and milliseconds, mirroring the constructor of the original
// NoiseGate.
func NewGate(openThresholdDB, closeThresholdDB, attackMS, releaseMS, holdMS float64) *Gate {
	return &Gate{
		openThreshold:  dbToLinear(openThresholdDB),
		closeThreshold: dbToLinear(closeThresholdDB),
		attackMS:       attackMS,
		releaseMS:      releaseMS,
		holdMS:         holdMS,
	}
}

// Reset clears envelope, open state and hold timer, starting a fresh session.
func (g *Gate) Reset() {
	g.envelope = 0
	g.open = false
	g.holdRemaining = 0
}

// Process applies the gate to audio in place-compatible fashion, returning
// a new slice of the same length. sampleRate is used to convert the
// configured millisecond timings into sample counts.
func (g *Gate) Process(audio []float32, sampleRate int) []float32 {
	n := len(audio)
	out := make([]float32, n)
	if n == 0 {
		return out
	}

	holdSamples := int(g.holdMS * float64(sampleRate) / 1000.0)
	releaseSamples := math.Max(1.0, g.releaseMS*float64(sampleRate)/1000.0)
	releaseCoeff := math.Exp(-1.0 / releaseSamples)
	attackSamples := math.Max(1.0, g.attackMS*float64(sampleRate)/1000.0)
	attackCoeff := math.Exp(-1.0 / attackSamples)

	win := clampInt(int(float64(sampleRate)*0.025), 2, n)
	rms := slidingRMS(audio, win)

	blockSize := clampInt(int(float64(sampleRate)*0.010), 1, n)
	gateState := make([]bool, n)
	open := g.open
	holdRemaining := g.holdRemaining

	for start := 0; start < n; start += blockSize {
		end := start + blockSize
		if end > n {
			end = n
		}
		blockRMS := meanRange(rms, start, end)

		switch {
		case blockRMS >= g.openThreshold:
			open = true
			holdRemaining = holdSamples
		case blockRMS < g.closeThreshold:
			if holdRemaining > 0 {
				holdRemaining -= end - start
				if holdRemaining < 0 {
					holdRemaining = 0
				}
			} else {
				open = false
			}
		}

		for i := start; i < end; i++ {
			gateState[i] = open
		}
	}
	g.open = open
	g.holdRemaining = holdRemaining

	envelope := g.envelope
	segStart := 0
	for i := 1; i <= n; i++ {
		if i == n || gateState[i] != gateState[segStart] {
			envelope = applyGateSegment(audio, out, segStart, i, gateState[segStart], envelope, attackCoeff, releaseCoeff)
			segStart = i
		}
	}
	g.envelope = envelope

	return out
}

func applyGateSegment(audio, out []float32, start, end int, isOpen bool, envelope, attackCoeff, releaseCoeff float64) float64 {
	if isOpen {
		for i := start; i < end; i++ {
			envelope = attackCoeff*envelope + (1 - attackCoeff)
			out[i] = float32(float64(audio[i]) * envelope)
		}
	} else {
		for i := start; i < end; i++ {
			envelope *= releaseCoeff
			out[i] = float32(float64(audio[i]) * envelope)
		}
	}
	return envelope
}

func slidingRMS(audio []float32, win int) []float64 {
	n := len(audio)
	cumsum := make([]float64, n+1)
	for i, s := range audio {
		v := float64(s)
		cumsum[i+1] = cumsum[i] + v*v
	}
	rms := make([]float64, n)
	for i := 0; i < n; i++ {
		lo := i - win + 1
		if lo < 0 {
			lo = 0
		}
		count := i - lo + 1
		sum := cumsum[i+1] - cumsum[lo]
		rms[i] = math.Sqrt(sum / float64(count))
	}
	return rms
}

func meanRange(values []float64, start, end int) float64 {
	if end <= start {
		return 0
	}
	sum := 0.0
	for i := start; i < end; i++ {
		sum += values[i]
	}
	return sum / float64(end-start)
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20.0)
}

func linearToDB(v float64) float64 {
	if v < 1e-10 {
		v = 1e-10
	}
	return 20 * math.Log10(v)
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
