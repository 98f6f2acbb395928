// Package dsp implements the per-session audio processing pipeline:
// noise gate, automatic gain control, spectral denoising, and peak
// limiting. Each stage is independently toggleable and carries its own
// state across chunks of the same recording; a fresh Pipeline (or a
// Reset call) must be used per session.
package dsp

import "github.com/fede/whisperaloud/internal/config"

// Pipeline chains gate -> AGC -> denoiser -> limiter, skipping any stage
// disabled in config.
type Pipeline struct {
	gate     *Gate
	agc      *AGC
	denoiser *Denoiser
	limiter  *Limiter
}

// NewPipeline builds a Pipeline from processing configuration.
func NewPipeline(cfg config.ProcessingConfig) *Pipeline {
	p := &Pipeline{}
	if cfg.GateEnabled {
		p.gate = NewGate(cfg.GateOpenThreshDB, cfg.GateCloseThreshDB, cfg.GateAttackMS, cfg.GateReleaseMS, float64(cfg.GateHoldMS))
	}
	if cfg.AGCEnabled {
		p.agc = NewAGC(cfg.AGCTargetRMS, cfg.AGCMaxGain, cfg.AGCMinGain, cfg.AGCAttackMS, cfg.AGCReleaseMS, float64(cfg.AGCWindowMS))
	}
	if cfg.DenoiseEnabled {
		p.denoiser = NewDenoiser(cfg.DenoiseStrength)
	}
	if cfg.LimiterEnabled {
		p.limiter = NewLimiter(cfg.LimiterCeiling, cfg.LimiterMode, cfg.LimiterKneeDB)
	}
	return p
}

// Reset clears all stage state, starting a fresh session.
func (p *Pipeline) Reset() {
	if p.gate != nil {
		p.gate.Reset()
	}
	if p.agc != nil {
		p.agc.Reset()
	}
	if p.denoiser != nil {
		p.denoiser.Reset()
	}
}

// Process runs audio through every enabled stage in order.
func (p *Pipeline) Process(audio []float32, sampleRate int) []float32 {
	result := audio
	if p.gate != nil {
		result = p.gate.Process(result, sampleRate)
	}
	if p.agc != nil {
		result = p.agc.Process(result, sampleRate)
	}
	if p.denoiser != nil {
		result = p.denoiser.Process(result, sampleRate)
	}
	if p.limiter != nil {
		result = p.limiter.Process(result)
	}
	return result
}
