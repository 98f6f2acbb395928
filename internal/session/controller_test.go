package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fede/whisperaloud/internal/capture"
	"github.com/fede/whisperaloud/internal/clipboard"
	"github.com/fede/whisperaloud/internal/config"
	"github.com/fede/whisperaloud/internal/history"
	"github.com/fede/whisperaloud/internal/transcriber"
)

func newTestController(t *testing.T) (*Controller, *capture.Mock, *transcriber.Mock, *clipboard.Mock) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Persistence.DBPath = filepath.Join(dir, "history.db")
	cfg.Audio.SampleRate = 16000
	cfg.Audio.ChunkDurationMS = 20
	cfg.Audio.MaxRecordingSeconds = 60
	cfg.Processing.GateEnabled = false
	cfg.Processing.AGCEnabled = false
	cfg.Processing.LimiterEnabled = false

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := history.Open(context.Background(), cfg.Persistence, log)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	archiver := history.NewArchiver(config.PersistenceConfig{ArchivePath: filepath.Join(dir, "archive"), CompressArchive: false})

	mockCapture := capture.NewMock(cfg.Audio.ChunkDurationMS)
	mockTrans := transcriber.NewMock()
	mockClip := clipboard.NewMock()

	c := New(cfg, mockCapture, mockTrans, store, archiver, nil, mockClip, nil, log)
	return c, mockCapture, mockTrans, mockClip
}

func TestStartStopRecordingHappyPath(t *testing.T) {
	c, mockCapture, mockTrans, mockClip := newTestController(t)
	ctx := context.Background()

	mockTrans.Response = transcriber.Result{Text: "hello world", Language: "en", Confidence: 0.95, DurationSec: 1}

	if err := c.StartRecording(ctx); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if c.Status().State != StateRecording {
		t.Fatalf("expected state recording, got %v", c.Status().State)
	}

	time.Sleep(60 * time.Millisecond)
	mockCapture.SetWaveform(nil)

	result, err := c.StopRecording(ctx)
	if err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if result.Text != "hello world" {
		t.Fatalf("expected mocked transcript, got %q", result.Text)
	}
	if result.HistoryID == 0 {
		t.Fatal("expected non-empty transcription to be saved to history")
	}
	if c.Status().State != StateIdle {
		t.Fatalf("expected state idle after stop, got %v", c.Status().State)
	}
	if mockClip.Text != "hello world" {
		t.Fatalf("expected transcript copied to clipboard, got %q", mockClip.Text)
	}
}

func TestStopRecordingWithoutStartingErrors(t *testing.T) {
	c, _, _, _ := newTestController(t)
	if _, err := c.StopRecording(context.Background()); err == nil {
		t.Fatal("expected error stopping without an active recording")
	}
}

func TestEmptyTranscriptionNotSavedBySaveEmptyDefault(t *testing.T) {
	c, _, mockTrans, _ := newTestController(t)
	ctx := context.Background()
	// A non-zero field keeps the mock from synthesizing its own transcript.
	mockTrans.Response = transcriber.Result{Text: "", Confidence: 0.1}

	if err := c.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	result, err := c.StopRecording(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if result.HistoryID != 0 {
		t.Fatalf("expected empty transcription to be skipped, got history id %d", result.HistoryID)
	}

	entries, err := c.GetHistory(ctx, 10)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no history entries, got %d", len(entries))
	}
}

func TestCancelRecordingDiscardsBuffer(t *testing.T) {
	c, _, _, _ := newTestController(t)
	ctx := context.Background()

	if err := c.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	cancelled, err := c.CancelRecording(ctx)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("expected cancel to succeed while recording")
	}
	if c.Status().State != StateIdle {
		t.Fatalf("expected idle after cancel, got %v", c.Status().State)
	}
	c.mu.Lock()
	buffered := len(c.buffer)
	c.mu.Unlock()
	if buffered != 0 {
		t.Fatalf("expected cancel to discard captured audio, %d samples remain", buffered)
	}

	cancelled, err = c.CancelRecording(ctx)
	if err != nil {
		t.Fatalf("cancel again: %v", err)
	}
	if cancelled {
		t.Fatal("expected second cancel with nothing in progress to report false")
	}
}

func TestStartRecordingFromNonIdleStateErrors(t *testing.T) {
	c, _, _, _ := newTestController(t)
	ctx := context.Background()

	if err := c.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.StartRecording(ctx); err == nil {
		t.Fatal("expected starting an already-recording session to error")
	}
}

func TestHistoryRoundTripThroughController(t *testing.T) {
	c, _, mockTrans, _ := newTestController(t)
	ctx := context.Background()
	mockTrans.Response = transcriber.Result{Text: "searchable phrase", Confidence: 0.8}

	if err := c.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	result, err := c.StopRecording(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	found, err := c.SearchHistory(ctx, "searchable", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected one search hit, got %d", len(found))
	}

	fav, err := c.ToggleHistoryFavorite(ctx, result.HistoryID)
	if err != nil || !fav {
		t.Fatalf("toggle favorite: fav=%v err=%v", fav, err)
	}

	favorites, err := c.GetFavoriteHistory(ctx, 10)
	if err != nil || len(favorites) != 1 {
		t.Fatalf("expected one favorite, got %d entries err=%v", len(favorites), err)
	}

	deleted, err := c.DeleteHistoryEntry(ctx, result.HistoryID)
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
}

func TestTrimSilenceRemovesQuietEdges(t *testing.T) {
	silence := make([]float32, 1600)
	loud := make([]float32, 1600)
	for i := range loud {
		loud[i] = 0.5
	}
	samples := append(append(append([]float32{}, silence...), loud...), silence...)

	trimmed := trimSilence(samples, 16000, 0.05)
	if len(trimmed) == 0 {
		t.Fatal("expected loud middle section to survive trimming")
	}
	if len(trimmed) >= len(samples) {
		t.Fatal("expected trimming to shrink the buffer")
	}
}

func TestTrimSilenceAllSilentReturnsNil(t *testing.T) {
	samples := make([]float32, 3200)
	if trimSilence(samples, 16000, 0.05) != nil {
		t.Fatal("expected all-silent buffer to trim to nil")
	}
}
