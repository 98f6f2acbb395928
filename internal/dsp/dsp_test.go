package dsp

import (
	"math"
	"testing"

	"github.com/fede/whisperaloud/internal/config"
)

func TestPipelineIdempotentOnSilence(t *testing.T) {
	cfg := config.Default().Processing
	p := NewPipeline(cfg)

	silence := make([]float32, 16000)
	out := p.Process(silence, 16000)

	var maxAbs float32
	for _, s := range out {
		if a := float32(math.Abs(float64(s))); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs > 1e-6 {
		t.Fatalf("expected near-silent output on silent input, got max abs %v", maxAbs)
	}
}

func TestLimiterCeilingHard(t *testing.T) {
	l := NewLimiter(0.9, "hard", -3)
	loud := make([]float32, 100)
	for i := range loud {
		loud[i] = 5.0
	}
	out := l.Process(loud)
	for _, s := range out {
		if math.Abs(float64(s)) > 0.9+1e-6 {
			t.Fatalf("hard limiter exceeded ceiling: %v", s)
		}
	}
}

func TestLimiterCeilingSoft(t *testing.T) {
	l := NewLimiter(0.9, "soft", -3)
	loud := make([]float32, 100)
	for i := range loud {
		loud[i] = 5.0
	}
	out := l.Process(loud)
	for _, s := range out {
		if math.Abs(float64(s)) > 0.9+1e-6 {
			t.Fatalf("soft limiter exceeded ceiling: %v", s)
		}
	}
}

func TestGateClickless(t *testing.T) {
	g := NewGate(-45, -50, 5, 120, 300)
	sampleRate := 16000
	n := sampleRate * 2
	audio := make([]float32, n)
	for i := n / 2; i < n; i++ {
		audio[i] = 0.5
	}
	out := g.Process(audio, sampleRate)

	var maxDelta float32
	for i := 1; i < len(out); i++ {
		delta := float32(math.Abs(float64(out[i] - out[i-1])))
		if delta > maxDelta {
			maxDelta = delta
		}
	}
	if maxDelta >= 0.15 {
		t.Fatalf("expected clickless transition (<0.15 delta), got %v", maxDelta)
	}
}

func TestAGCGainBounds(t *testing.T) {
	a := NewAGC(0.1, 6.0, 0.1, 50, 300, 500)
	sampleRate := 16000
	quiet := make([]float32, sampleRate)
	for i := range quiet {
		quiet[i] = 0.001
	}
	out := a.Process(quiet, sampleRate)
	for i, s := range out {
		if quiet[i] == 0 {
			continue
		}
		gain := float64(s) / float64(quiet[i])
		if gain > 6.0+1e-6 {
			t.Fatalf("AGC gain exceeded max at sample %d: %v", i, gain)
		}
	}
}

func TestAGCSilenceGainIsUnity(t *testing.T) {
	a := NewAGC(0.1, 6.0, 0.1, 50, 300, 500)
	sampleRate := 16000
	digitalSilence := make([]float32, sampleRate)
	out := a.Process(digitalSilence, sampleRate)
	for _, s := range out {
		if s != 0 {
			t.Fatalf("expected digital silence to remain silent, got %v", s)
		}
	}
}

func TestDenoiserNoOpWhenStrengthZero(t *testing.T) {
	d := NewDenoiser(0)
	audio := make([]float32, 4000)
	for i := range audio {
		audio[i] = float32(math.Sin(float64(i) * 0.1))
	}
	out := d.Process(audio, 16000)
	for i := range audio {
		if out[i] != audio[i] {
			t.Fatalf("expected passthrough at strength 0, differs at %d", i)
		}
	}
}

func TestDenoiserPassesThroughShortBuffers(t *testing.T) {
	d := NewDenoiser(0.8)
	audio := make([]float32, 10)
	out := d.Process(audio, 16000)
	if len(out) != len(audio) {
		t.Fatalf("expected same length output, got %d want %d", len(out), len(audio))
	}
}

func TestDenoiserRoundTripPreservesMagnitude(t *testing.T) {
	d := NewDenoiser(0.5)
	sampleRate := 16000
	n := sampleRate // 1 second, well over the 512-sample frame size
	tone := make([]float32, n)
	for i := range tone {
		tone[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	out := d.Process(tone, sampleRate)

	var inPeak, outPeak float32
	for i, s := range tone {
		if a := float32(math.Abs(float64(s))); a > inPeak {
			inPeak = a
		}
		if a := float32(math.Abs(float64(out[i]))); a > outPeak {
			outPeak = a
		}
	}
	if outPeak > inPeak*2 {
		t.Fatalf("denoiser amplified signal: input peak %v, output peak %v", inPeak, outPeak)
	}
	if outPeak < inPeak*0.1 {
		t.Fatalf("denoiser collapsed signal: input peak %v, output peak %v", inPeak, outPeak)
	}
}
