package transcriber

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Mock is a deterministic test double for Transcriber.
type Mock struct {
	loaded    atomic.Bool
	cancelled atomic.Bool
	Response  Result
}

// NewMock builds a Mock transcriber. If Response is left zero-valued,
// Transcribe synthesizes a result describing the input length.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (Result, error) {
	m.loaded.Store(true)
	if m.cancelled.Load() {
		return Result{Cancelled: true}, nil
	}
	if m.Response.Text != "" || m.Response.Confidence != 0 {
		return m.Response, nil
	}
	return Result{
		Text:        fmt.Sprintf("[mock transcript samples=%d]", len(samples)),
		Language:    language,
		Confidence:  0.9,
		DurationSec: float64(len(samples)) / float64(sampleRate),
		Device:      "cpu",
	}, nil
}

// Cancel makes every later Transcribe call return a cancelled result,
// whether or not a call was in flight when it was made.
func (m *Mock) Cancel()          { m.cancelled.Store(true) }
func (m *Mock) IsLoaded() bool   { return m.loaded.Load() }
func (m *Mock) Unload()          { m.loaded.Store(false) }
