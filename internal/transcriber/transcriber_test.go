package transcriber

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestConfidenceFormula(t *testing.T) {
	got := Confidence([]float64{-0.1, -0.3})
	want := math.Exp((-0.1 + -0.3) / 2)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestConfidenceNoSegments(t *testing.T) {
	if got := Confidence(nil); got != 0 {
		t.Fatalf("expected 0 confidence with no segments, got %v", got)
	}
}

func TestIsCUDALibraryError(t *testing.T) {
	if !isCUDALibraryError(errors.New("unable to load libcudnn.so.9")) {
		t.Fatal("expected cuda library error to be detected")
	}
	if isCUDALibraryError(errors.New("model file not found")) {
		t.Fatal("expected non-cuda error to not match")
	}
}

func TestResolveDeviceFallsBackOnCUDAError(t *testing.T) {
	attempted := []string{}
	device, err := resolveDevice(context.Background(), "auto", func(_ context.Context, candidate string) error {
		attempted = append(attempted, candidate)
		if candidate == "cuda" {
			return errors.New("cannot load symbol cublasCreate")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if device != "cpu" {
		t.Fatalf("expected fallback to cpu, got %s", device)
	}
	if len(attempted) != 2 || attempted[0] != "cuda" || attempted[1] != "cpu" {
		t.Fatalf("expected cuda then cpu attempts, got %v", attempted)
	}
}

func TestResolveDevicePropagatesNonCUDAError(t *testing.T) {
	_, err := resolveDevice(context.Background(), "cuda", func(_ context.Context, candidate string) error {
		return errors.New("model file corrupt")
	})
	if err == nil {
		t.Fatal("expected error to propagate for non-cuda failure")
	}
}

func TestMockTranscribe(t *testing.T) {
	m := NewMock()
	res, err := m.Transcribe(context.Background(), make([]float32, 16000), 16000, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text == "" {
		t.Fatal("expected non-empty mock transcript")
	}
	if !m.IsLoaded() {
		t.Fatal("expected mock to report loaded after transcribing")
	}
}

func TestMockCancel(t *testing.T) {
	m := NewMock()
	m.Cancel()
	res, err := m.Transcribe(context.Background(), make([]float32, 100), 16000, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Cancelled {
		t.Fatal("expected cancelled result after Cancel()")
	}
}
