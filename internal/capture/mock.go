package capture

import (
	"context"
	"sync"
	"time"
)

// Mock is a test-double Source that synthesizes silence (or a supplied
// waveform) at a fixed cadence instead of opening a real device.
type Mock struct {
	mu       sync.Mutex
	Waveform []float32 // if empty, silence is generated
	chunkMS  int
}

// NewMock builds a Mock capture source emitting chunkMS-sized frames.
func NewMock(chunkMS int) *Mock {
	if chunkMS <= 0 {
		chunkMS = 100
	}
	return &Mock{chunkMS: chunkMS}
}

type mockStream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (m *Mock) Open(ctx context.Context, _ int, sampleRate, _ int, onFrame func(Frame)) (Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	chunkSamples := sampleRate * m.chunkMS / 1000
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Duration(m.chunkMS) * time.Millisecond)
		defer ticker.Stop()
		offset := 0
		for {
			select {
			case <-streamCtx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				wave := m.Waveform
				m.mu.Unlock()

				chunk := make([]float32, chunkSamples)
				if len(wave) > 0 {
					for i := range chunk {
						chunk[i] = wave[(offset+i)%len(wave)]
					}
					offset += chunkSamples
				}
				onFrame(Frame{Samples: chunk, SampleRate: sampleRate})
			}
		}
	}()

	return &mockStream{cancel: cancel, done: done}, nil
}

func (m *mockStream) Close() error {
	m.cancel()
	<-m.done
	return nil
}

// SetWaveform swaps the waveform emitted by subsequent chunks, letting
// tests simulate speech arriving mid-session.
func (m *Mock) SetWaveform(w []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Waveform = w
}
