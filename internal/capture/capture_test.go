package capture

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMockEmitsFrames(t *testing.T) {
	m := NewMock(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan Frame, 8)
	stream, err := m.Open(ctx, -1, 16000, 1, func(f Frame) {
		select {
		case frames <- f:
		default:
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	select {
	case f := <-frames:
		if f.SampleRate != 16000 {
			t.Fatalf("expected sample rate 16000, got %d", f.SampleRate)
		}
		if len(f.Samples) == 0 {
			t.Fatal("expected non-empty frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
}

func TestMockCloseStopsEmission(t *testing.T) {
	m := NewMock(10)
	var mu sync.Mutex
	count := 0
	stream, err := m.Open(context.Background(), -1, 16000, 1, func(Frame) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("unexpected error closing stream: %v", err)
	}

	mu.Lock()
	before := count
	mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	after := count
	mu.Unlock()
	if after != before {
		t.Fatalf("expected no frames after Close, got %d more", after-before)
	}
}
