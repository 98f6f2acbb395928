package levelmeter

import (
	"math"
	"testing"
)

func TestMeasureEmptyChunk(t *testing.T) {
	m := New(0.3)
	l := m.Measure(nil)
	if l.RMS != 0 || l.Peak != 0 || l.DB != -100.0 {
		t.Fatalf("unexpected level for empty chunk: %+v", l)
	}
}

func TestMeasureClampsToUnitRange(t *testing.T) {
	m := New(0.3)
	loud := make([]float32, 100)
	for i := range loud {
		loud[i] = 5.0
	}
	l := m.Measure(loud)
	if l.RMS > 1.0 || l.Peak > 1.0 {
		t.Fatalf("expected clamped level, got %+v", l)
	}
}

func TestMeasureSmoothsAcrossCalls(t *testing.T) {
	m := New(0.9)
	loud := make([]float32, 100)
	for i := range loud {
		loud[i] = 1.0
	}
	quiet := make([]float32, 100)

	first := m.Measure(loud)
	second := m.Measure(quiet)

	if second.RMS <= 0 {
		t.Fatalf("expected smoothed RMS to retain some energy from prior loud chunk, got %v (first=%v)", second.RMS, first.RMS)
	}
}

func TestMeasureDBFormula(t *testing.T) {
	m := New(0)
	chunk := make([]float32, 100)
	for i := range chunk {
		chunk[i] = 0.5
	}
	l := m.Measure(chunk)
	expected := 20 * math.Log10(0.5)
	if math.Abs(l.DB-expected) > 1e-6 {
		t.Fatalf("expected db %v, got %v", expected, l.DB)
	}
}

func TestResetClearsHistory(t *testing.T) {
	m := New(0.9)
	loud := make([]float32, 100)
	for i := range loud {
		loud[i] = 1.0
	}
	m.Measure(loud)
	m.Reset()

	quiet := make([]float32, 100)
	l := m.Measure(quiet)
	if l.RMS != 0 {
		t.Fatalf("expected reset meter to report 0 RMS on silence, got %v", l.RMS)
	}
}
