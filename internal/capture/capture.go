// Package capture abstracts microphone acquisition so the session
// controller never depends on a concrete audio backend.
package capture

import "context"

// Frame is a chunk of mono float32 PCM samples delivered by a Source
// while a capture session is active.
type Frame struct {
	Samples    []float32
	SampleRate int
}

// Source abstracts an audio input device. Implementations deliver Frames
// to onFrame from their own capture thread until the returned Stream is
// stopped, matching the "audio thread publishes, dispatcher consumes"
// concurrency model.
type Source interface {
	// Open starts capturing from deviceID (-1 selects the configured
	// default) at sampleRate/channels and invokes onFrame for every
	// chunk captured until the context is cancelled or the Stream is
	// closed.
	Open(ctx context.Context, deviceID, sampleRate, channels int, onFrame func(Frame)) (Stream, error)
}

// Stream represents one active capture session.
type Stream interface {
	// Close stops the underlying device stream. It is safe to call
	// multiple times.
	Close() error
}
