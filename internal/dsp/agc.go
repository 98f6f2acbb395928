package dsp

import "math"

// AGC is a sliding-window automatic gain control stage. Gain is tracked
// across calls to Process so consecutive chunks of the same recording
// converge smoothly rather than re-deriving gain from scratch each time.
//
// Per the explicit spec requirement, desired gain is 1.0 (no amplification)
// whenever the windowed RMS falls below 1e-8 — digital silence is never
// boosted, even though the reference implementation instead holds the
// previously tracked gain in that case.
type AGC struct {
	targetLinear float64
	maxGain      float64
	minGain      float64
	attackMS     float64
	releaseMS    float64
	windowMS     float64

	currentGain float64
}

// NewAGC builds an AGC stage. targetRMS is the desired linear RMS level
// (0..1); maxGain bounds the boost applied to quiet signals and minGain
// bounds the attenuation applied to loud ones.
func NewAGC(targetRMS, maxGain, minGain, attackMS, releaseMS, windowMS float64) *AGC {
	return &AGC{
		targetLinear: targetRMS,
		maxGain:      maxGain,
		minGain:      minGain,
		attackMS:     attackMS,
		releaseMS:    releaseMS,
		windowMS:     windowMS,
		currentGain:  1.0,
	}
}

// Reset returns tracked gain to unity for a fresh session.
func (a *AGC) Reset() {
	a.currentGain = 1.0
}

// Process applies gain-controlled amplification/attenuation to audio.
func (a *AGC) Process(audio []float32, sampleRate int) []float32 {
	n := len(audio)
	out := make([]float32, n)
	if n == 0 {
		return out
	}

	windowSamples := clampInt(int(a.windowMS*float64(sampleRate)/1000.0), 1, n)
	rms := slidingRMS(audio, windowSamples)

	desired := make([]float64, n)
	for i, r := range rms {
		if r > 1e-8 {
			desired[i] = clampFloat(a.targetLinear/math.Max(r, 1e-8), a.minGain, a.maxGain)
		} else {
			desired[i] = 1.0
		}
	}

	blockSize := clampInt(int(float64(sampleRate)*0.010), 1, n)
	tauAttack := math.Max(1.0, a.attackMS*float64(sampleRate)/1000.0)
	tauRelease := math.Max(1.0, a.releaseMS*float64(sampleRate)/1000.0)
	blockAttackCoeff := math.Exp(-float64(blockSize) / tauAttack)
	blockReleaseCoeff := math.Exp(-float64(blockSize) / tauRelease)

	gain := a.currentGain
	for start := 0; start < n; start += blockSize {
		end := start + blockSize
		if end > n {
			end = n
		}
		blockTarget := meanRange(desired, start, end)
		coeff := blockReleaseCoeff
		if blockTarget < gain {
			coeff = blockAttackCoeff
		}
		gain = coeff*gain + (1-coeff)*blockTarget
		for i := start; i < end; i++ {
			out[i] = float32(float64(audio[i]) * gain)
		}
	}
	a.currentGain = gain

	return out
}
