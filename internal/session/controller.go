// Package session implements the Session Controller: the state machine
// that drives record -> process -> transcribe -> persist, wiring capture,
// the DSP pipeline, level metering, the transcriber and the history store
// together and reporting every transition on the internal bus.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/fede/whisperaloud/internal/bus"
	"github.com/fede/whisperaloud/internal/capture"
	"github.com/fede/whisperaloud/internal/clipboard"
	"github.com/fede/whisperaloud/internal/config"
	"github.com/fede/whisperaloud/internal/corerr"
	"github.com/fede/whisperaloud/internal/dsp"
	"github.com/fede/whisperaloud/internal/history"
	"github.com/fede/whisperaloud/internal/levelmeter"
	"github.com/fede/whisperaloud/internal/protocol"
	"github.com/fede/whisperaloud/internal/transcriber"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// State is a Controller lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
	StateShutdown     State = "shutdown"
)

// Result is a completed transcription plus the history row it landed in.
// HistoryID is 0 when the result was empty and save_empty is disabled.
type Result struct {
	transcriber.Result
	HistoryID int64
}

// Status is a point-in-time snapshot for status-reporting callers.
type Status struct {
	State         State
	SessionID     string
	Uptime        time.Duration
	Device        string
	ModelID       string
	HotkeyBackend string
}

// Controller owns the capture device and transcriber for the lifetime of
// the daemon and serializes all state transitions through mu; the audio
// capture callback and StartRecording/StopRecording/CancelRecording calls
// from the control surface can all fire concurrently.
type Controller struct {
	log          *slog.Logger
	source       capture.Source
	store        *history.Store
	archiver     *history.Archiver
	busc         *bus.Client
	clip         clipboard.Writer
	transFactory func(config.TranscriberConfig) (transcriber.Transcriber, error)

	mu          sync.Mutex
	cfg         config.Config
	trans       transcriber.Transcriber
	state       State
	stream      capture.Stream
	sessionID   string
	startedAt   time.Time
	buffer      []float32
	pipeline    *dsp.Pipeline
	meter       *levelmeter.Meter
	lastLevelAt time.Time
	pendingPeak float64
	announced   bool
	autoStop    *time.Timer

	recordingsStarted       metric.Int64Counter
	transcriptionsCompleted metric.Int64Counter
	transcriptionDuration   metric.Float64Histogram
}

// New builds a Controller. cfg is the initial configuration; SetConfig
// applies later changes without requiring a restart. transFactory builds a
// fresh Transcriber from a TranscriberConfig; SetConfig calls it to rebuild
// the transcriber when model, device or mode changed. It may be nil, in
// which case transcriber-affecting config changes take effect only after
// a restart.
func New(cfg config.Config, source capture.Source, trans transcriber.Transcriber, store *history.Store, archiver *history.Archiver, busc *bus.Client, clip clipboard.Writer, transFactory func(config.TranscriberConfig) (transcriber.Transcriber, error), log *slog.Logger) *Controller {
	c := &Controller{
		log:          log,
		source:       source,
		trans:        trans,
		store:        store,
		archiver:     archiver,
		busc:         busc,
		clip:         clip,
		transFactory: transFactory,
		cfg:          cfg,
		state:        StateIdle,
		meter:        levelmeter.New(0.3),
	}
	c.initMetrics()
	return c
}

// initMetrics registers the Controller's OpenTelemetry instruments against
// the process-wide meter provider runtime.setupTelemetry installed. Failure
// is non-fatal: the daemon runs with metrics disabled rather than refusing
// to start.
func (c *Controller) initMetrics() {
	m := otel.Meter("github.com/fede/whisperaloud/internal/session")
	var err error
	if c.recordingsStarted, err = m.Int64Counter("whisperaloud.recordings.started",
		metric.WithDescription("Number of recording sessions started")); err != nil {
		c.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if c.transcriptionsCompleted, err = m.Int64Counter("whisperaloud.transcriptions.completed",
		metric.WithDescription("Number of transcriptions written to history")); err != nil {
		c.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if c.transcriptionDuration, err = m.Float64Histogram("whisperaloud.transcription.duration_seconds",
		metric.WithDescription("Wall-clock time spent inside the transcriber"),
		metric.WithUnit("s")); err != nil {
		c.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
}

// SetConfig swaps the configuration used for the next recording; it does
// not affect a recording already in progress. If the transcriber-relevant
// fields changed, the transcriber itself is rebuilt via transFactory so a
// new model id, device or mode takes effect on the very next recording
// rather than requiring a daemon restart.
func (c *Controller) SetConfig(cfg config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	transChanged := c.cfg.Transcriber != cfg.Transcriber
	c.cfg = cfg

	if !transChanged || c.transFactory == nil {
		return
	}
	next, err := c.transFactory(cfg.Transcriber)
	if err != nil {
		c.log.Warn("rebuild transcriber failed, keeping previous transcriber",
			slog.String("error", err.Error()))
		return
	}
	c.trans.Unload()
	c.trans = next
}

// Config returns the configuration currently in effect.
func (c *Controller) Config() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Status reports the controller's current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:         c.state,
		SessionID:     c.sessionID,
		Device:        c.cfg.Transcriber.Device,
		ModelID:       c.cfg.Transcriber.ModelPath,
		HotkeyBackend: "none",
	}
	if !c.startedAt.IsZero() {
		st.Uptime = time.Since(c.startedAt)
	}
	return st
}

func (c *Controller) publishStatus(state State) {
	if err := c.busc.PublishJSON(protocol.SubjectStatusChanged, protocol.StatusChanged{State: string(state)}); err != nil {
		c.log.Warn("publish status", slog.String("error", err.Error()))
	}
}

// StartRecording opens the capture device and begins accumulating and
// processing audio for a new session.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return corerr.New(corerr.CodeInvalidState, fmt.Sprintf("cannot start recording from state %q", state))
	}
	cfg := c.cfg
	c.sessionID = uuid.NewString()
	c.buffer = nil
	c.pipeline = dsp.NewPipeline(cfg.Processing)
	c.meter.Reset()
	c.lastLevelAt = time.Time{}
	c.pendingPeak = 0
	c.announced = false
	c.startedAt = time.Now()
	c.state = StateRecording
	sessionID := c.sessionID
	startedAt := c.startedAt
	c.mu.Unlock()

	stream, err := c.source.Open(ctx, cfg.Audio.DeviceID, cfg.Audio.SampleRate, cfg.Audio.Channels, func(f capture.Frame) {
		c.onFrame(sessionID, f)
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		code, ok := corerr.CodeOf(err)
		if !ok {
			code = corerr.CodeAudioDevice
			err = corerr.Wrap(code, "open capture device", err)
		}
		if pubErr := c.busc.PublishJSON(protocol.SubjectError, protocol.ErrorEvent{Code: string(code), Message: err.Error()}); pubErr != nil {
			c.log.Warn("publish error event", slog.String("error", pubErr.Error()))
		}
		return err
	}

	c.mu.Lock()
	c.stream = stream
	c.announced = true
	if cfg.Audio.MaxRecordingSeconds > 0 {
		limit := time.Duration(cfg.Audio.MaxRecordingSeconds * float64(time.Second))
		c.autoStop = time.AfterFunc(limit, func() {
			c.log.Info("max recording duration reached, auto-stopping", slog.String("session_id", sessionID))
			if _, err := c.StopRecording(context.Background()); err != nil {
				c.log.Warn("auto-stop failed", slog.String("error", err.Error()))
			}
		})
	}
	c.mu.Unlock()

	if err := c.busc.PublishJSON(protocol.SubjectRecordingStarted, protocol.RecordingStarted{SessionID: sessionID, Timestamp: startedAt}); err != nil {
		c.log.Warn("publish recording started", slog.String("error", err.Error()))
	}
	c.publishStatus(StateRecording)
	if c.recordingsStarted != nil {
		c.recordingsStarted.Add(ctx, 1)
	}
	return nil
}

// onFrame runs on the capture device's own goroutine; it must not block.
func (c *Controller) onFrame(sessionID string, f capture.Frame) {
	c.mu.Lock()
	if c.state != StateRecording || c.sessionID != sessionID {
		c.mu.Unlock()
		return
	}

	samples, dirty := sanitizeSamples(f.Samples)
	processed := samples
	if c.pipeline != nil {
		processed = c.pipeline.Process(processed, f.SampleRate)
	}
	c.buffer = append(c.buffer, processed...)
	level := c.meter.Measure(processed)
	if level.Peak > c.pendingPeak {
		c.pendingPeak = level.Peak
	}

	emit := c.announced && time.Since(c.lastLevelAt) >= 100*time.Millisecond
	var peak float64
	if emit {
		c.lastLevelAt = time.Now()
		peak = c.pendingPeak
		c.pendingPeak = 0
	}
	c.mu.Unlock()

	if dirty {
		c.log.Warn("non-finite audio samples replaced with silence", slog.String("session_id", sessionID))
		if err := c.busc.PublishJSON(protocol.SubjectError, protocol.ErrorEvent{
			Code:    string(corerr.CodeAudioFormat),
			Message: "non-finite audio samples replaced with silence",
		}); err != nil {
			c.log.Warn("publish audio format warning", slog.String("error", err.Error()))
		}
	}

	if emit {
		if err := c.busc.PublishJSON(protocol.SubjectLevelUpdate, protocol.LevelUpdate{SessionID: sessionID, Level: peak}); err != nil {
			c.log.Warn("publish level update", slog.String("error", err.Error()))
		}
	}
}

// sanitizeSamples zero-fills any NaN or infinite value in samples before
// they reach the DSP pipeline or the transcriber, reporting whether it had
// to replace anything. samples is copied on first write so a clean chunk
// is never reallocated.
func sanitizeSamples(samples []float32) ([]float32, bool) {
	var dirty bool
	for i, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			if !dirty {
				samples = append([]float32(nil), samples...)
				dirty = true
			}
			samples[i] = 0
		}
	}
	return samples, dirty
}

// StopRecording stops capture and runs transcription to completion,
// returning the final result. It is a blocking call: ToggleRecording and
// the auto-stop timer await the return value directly, while the D-Bus control
// surface calls it from a goroutine to honor its fire-and-forget
// StopRecording contract and relies on the TranscriptionReady/Error bus
// events it publishes along the way.
func (c *Controller) StopRecording(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		return Result{}, corerr.New(corerr.CodeInvalidState, fmt.Sprintf("cannot stop recording from state %q", state))
	}
	if c.autoStop != nil {
		c.autoStop.Stop()
		c.autoStop = nil
	}
	stream := c.stream
	c.stream = nil
	buffer := c.buffer
	sessionID := c.sessionID
	cfg := c.cfg
	trans := c.trans
	startedAt := c.startedAt
	c.state = StateTranscribing
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}

	duration := time.Since(startedAt).Seconds()
	if err := c.busc.PublishJSON(protocol.SubjectRecordingStopped, protocol.RecordingStopped{SessionID: sessionID, Timestamp: time.Now(), DurationSec: duration}); err != nil {
		c.log.Warn("publish recording stopped", slog.String("error", err.Error()))
	}
	c.publishStatus(StateTranscribing)

	if cfg.Audio.VADEnabled {
		buffer = trimSilence(buffer, cfg.Audio.SampleRate, cfg.Audio.VADThreshold)
	}

	result, histID, err := c.transcribeAndSave(ctx, sessionID, buffer, cfg, trans)

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	c.publishStatus(StateIdle)

	if err != nil {
		code, _ := corerr.CodeOf(err)
		if code == "" {
			code = corerr.CodeTranscription
		}
		if pubErr := c.busc.PublishJSON(protocol.SubjectError, protocol.ErrorEvent{Code: string(code), Message: err.Error()}); pubErr != nil {
			c.log.Warn("publish error event", slog.String("error", pubErr.Error()))
		}
		return Result{}, err
	}

	if result.Cancelled {
		c.log.Info("dropping cancelled transcription", slog.String("session_id", sessionID))
		return Result{}, nil
	}

	if pubErr := c.busc.PublishJSON(protocol.SubjectTranscriptionReady, protocol.TranscriptionReady{
		SessionID:      sessionID,
		Text:           result.Text,
		Language:       result.Language,
		Confidence:     result.Confidence,
		DurationSec:    result.DurationSec,
		ProcessingTime: result.ProcessingTime,
		HistoryID:      histID,
	}); pubErr != nil {
		c.log.Warn("publish transcription ready", slog.String("error", pubErr.Error()))
	}

	if strings.TrimSpace(result.Text) != "" && c.clip != nil {
		if err := c.clip.Copy(result.Text); err != nil {
			c.log.Warn("copy transcript to clipboard failed", slog.String("error", err.Error()))
		} else if err := c.clip.Paste(); err != nil {
			c.log.Warn("auto-paste transcript failed", slog.String("error", err.Error()))
		}
	}

	return Result{Result: result, HistoryID: histID}, nil
}

func (c *Controller) transcribeAndSave(ctx context.Context, sessionID string, buffer []float32, cfg config.Config, trans transcriber.Transcriber) (transcriber.Result, int64, error) {
	start := time.Now()
	res, err := trans.Transcribe(ctx, buffer, cfg.Audio.SampleRate, cfg.Transcriber.Language)
	if err != nil {
		return transcriber.Result{}, 0, corerr.Wrap(corerr.CodeTranscription, "transcribe recording", err)
	}
	res.ProcessingTime = time.Since(start).Seconds()
	if c.transcriptionDuration != nil {
		c.transcriptionDuration.Record(ctx, res.ProcessingTime)
	}

	if res.Cancelled {
		c.log.Debug("discarding cancelled transcription", slog.String("session_id", sessionID))
		return res, 0, nil
	}

	if strings.TrimSpace(res.Text) == "" && !cfg.Persistence.SaveEmpty {
		c.log.Debug("discarding empty transcription", slog.String("session_id", sessionID))
		return res, 0, nil
	}

	entry := history.Entry{
		Text:           res.Text,
		Language:       res.Language,
		Confidence:     res.Confidence,
		DurationSec:    res.DurationSec,
		ProcessingTime: res.ProcessingTime,
		SessionID:      sessionID,
		Status:         history.StatusCompleted,
	}
	for _, seg := range res.Segments {
		entry.Segments = append(entry.Segments, history.Segment{
			Text: seg.Text, StartSec: seg.StartSec, EndSec: seg.EndSec, Confidence: seg.Confidence,
		})
	}

	now := time.Now()
	if len(buffer) > 0 && cfg.Persistence.SaveAudio {
		entry.AudioHash = history.HashSamples(buffer)
		entry.Timestamp = now
		if c.archiver != nil {
			entry.AudioPath = c.archiver.PathFor(entry.AudioHash, now)
		}
	}

	id, newAudio, err := c.store.Insert(ctx, entry)
	if err != nil {
		return res, 0, corerr.Wrap(corerr.CodeHistory, "save transcription", err)
	}
	if c.transcriptionsCompleted != nil {
		c.transcriptionsCompleted.Add(ctx, 1)
	}

	if newAudio && entry.AudioHash != "" && c.archiver != nil {
		if _, err := c.archiver.Save(entry.AudioHash, buffer, cfg.Audio.SampleRate, now); err != nil {
			c.log.Warn("archive recording failed", slog.String("error", err.Error()))
		}
	}

	return res, id, nil
}

// ToggleRecording starts a new recording from idle, or stops and
// transcribes an in-progress one.
func (c *Controller) ToggleRecording(ctx context.Context) (State, *Result, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == StateRecording {
		res, err := c.StopRecording(ctx)
		if err != nil {
			return state, nil, err
		}
		return StateTranscribing, &res, nil
	}

	if err := c.StartRecording(ctx); err != nil {
		return state, nil, err
	}
	return StateRecording, nil, nil
}

// CancelRecording aborts an in-progress recording (discarding captured
// audio) or an in-flight transcription (via the transcriber's own
// cancellation), returning false if there was nothing to cancel.
func (c *Controller) CancelRecording(ctx context.Context) (bool, error) {
	c.mu.Lock()
	switch c.state {
	case StateRecording:
		if c.autoStop != nil {
			c.autoStop.Stop()
			c.autoStop = nil
		}
		stream := c.stream
		c.stream = nil
		c.buffer = nil
		c.state = StateIdle
		c.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		c.publishStatus(StateIdle)
		return true, nil
	case StateTranscribing:
		trans := c.trans
		c.mu.Unlock()
		trans.Cancel()
		return true, nil
	default:
		c.mu.Unlock()
		return false, nil
	}
}

// Shutdown runs the graceful-termination sequence: it stops any
// in-progress recording, archives whatever audio was captured as a
// failed history entry instead of discarding it, and announces the
// shutdown state. The caller releases its own resources (bus, D-Bus
// name, history store) after Shutdown returns.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	if c.autoStop != nil {
		c.autoStop.Stop()
		c.autoStop = nil
	}
	stream := c.stream
	c.stream = nil
	buffer := c.buffer
	sessionID := c.sessionID
	cfg := c.cfg
	c.buffer = nil
	c.state = StateIdle
	c.mu.Unlock()

	if state != StateRecording {
		c.publishStatus(StateShutdown)
		return nil
	}

	if stream != nil {
		_ = stream.Close()
	}

	if cfg.Audio.VADEnabled {
		buffer = trimSilence(buffer, cfg.Audio.SampleRate, cfg.Audio.VADThreshold)
	}

	if len(buffer) > 0 && cfg.Persistence.SaveAudio {
		now := time.Now()
		hash := history.HashSamples(buffer)
		entry := history.Entry{
			Timestamp:  now,
			SessionID:  sessionID,
			AudioHash:  hash,
			Status:     history.StatusFailed,
			FailReason: "shutdown",
		}
		if c.archiver != nil {
			entry.AudioPath = c.archiver.PathFor(hash, now)
		}
		if _, _, err := c.store.Insert(ctx, entry); err != nil {
			c.log.Warn("record shutdown history entry failed", slog.String("error", err.Error()))
		} else if c.archiver != nil {
			if _, err := c.archiver.Save(hash, buffer, cfg.Audio.SampleRate, now); err != nil {
				c.log.Warn("archive audio on shutdown failed", slog.String("error", err.Error()))
			}
		}
	}

	c.publishStatus(StateShutdown)
	return nil
}

// GetHistory returns the most recent transcriptions, newest first.
func (c *Controller) GetHistory(ctx context.Context, limit int) ([]history.Entry, error) {
	return c.store.List(ctx, limit, 0)
}

// SearchHistory runs a full-text search over past transcriptions.
func (c *Controller) SearchHistory(ctx context.Context, query string, limit int) ([]history.Entry, error) {
	if strings.TrimSpace(query) == "" {
		return c.GetHistory(ctx, limit)
	}
	return c.store.Search(ctx, query, limit)
}

// GetFavoriteHistory returns favorited transcriptions, newest first.
func (c *Controller) GetFavoriteHistory(ctx context.Context, limit int) ([]history.Entry, error) {
	return c.store.GetFavorites(ctx, limit)
}

// ToggleHistoryFavorite flips the favorite flag on a history entry.
func (c *Controller) ToggleHistoryFavorite(ctx context.Context, id int64) (bool, error) {
	return c.store.ToggleFavorite(ctx, id)
}

// DeleteHistoryEntry removes a history entry and, if it held the last
// reference to its archived audio, the archived file too.
func (c *Controller) DeleteHistoryEntry(ctx context.Context, id int64) (bool, error) {
	path, deleted, err := c.store.Delete(ctx, id)
	if err != nil {
		return false, corerr.Wrap(corerr.CodeHistory, "delete history entry", err)
	}
	if deleted && path != "" && c.archiver != nil {
		if err := c.archiver.Remove(path); err != nil {
			c.log.Warn("remove archived audio failed", slog.String("error", err.Error()))
		}
	}
	return deleted, nil
}
