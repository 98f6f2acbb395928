package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/fede/whisperaloud/internal/config"
	"github.com/fede/whisperaloud/internal/corerr"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"
)

// execTranscriber wraps an external whisper-cli-style binary, in the
// same shell-out shape as the reference STT recognizer: the caller's PCM
// is written to a temp WAV file, the command is invoked with that file as
// input, and its JSON stdout is decoded into a Result.
type execTranscriber struct {
	baseCmd []string
	cfg     config.TranscriberConfig

	mu         sync.Mutex
	loaded     bool
	device     string
	cancelFunc context.CancelFunc
}

type execSegment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	AvgLogprob float64 `json:"avg_logprob"`
}

type execResponse struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Segments []execSegment `json:"segments"`
	Duration float64       `json:"duration"`
}

// NewExecTranscriber builds a Transcriber that shells out to cfg.Command.
func NewExecTranscriber(cfg config.TranscriberConfig) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, corerr.Wrap(corerr.CodeConfiguration, "parse transcriber command", err)
	}
	if len(args) == 0 {
		return nil, corerr.New(corerr.CodeConfiguration, "transcriber command is empty")
	}
	return &execTranscriber{baseCmd: args, cfg: cfg}, nil
}

func (t *execTranscriber) IsLoaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded
}

func (t *execTranscriber) Unload() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loaded = false
	t.device = ""
}

func (t *execTranscriber) Cancel() {
	t.mu.Lock()
	cancel := t.cancelFunc
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *execTranscriber) ensureLoaded(ctx context.Context) error {
	t.mu.Lock()
	if t.loaded {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	silence := make([]float32, 1600)
	device, err := resolveDevice(ctx, t.cfg.Device, func(probeCtx context.Context, candidate string) error {
		_, runErr := t.run(probeCtx, silence, 16000, "en", candidate)
		return runErr
	})
	if err != nil {
		return corerr.Wrap(corerr.CodeModelLoad, fmt.Sprintf("load model %q", t.cfg.ModelPath), err)
	}

	t.mu.Lock()
	t.loaded = true
	t.device = device
	t.mu.Unlock()
	return nil
}

func (t *execTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (Result, error) {
	if len(samples) == 0 {
		return Result{DurationSec: 0}, nil
	}

	if err := t.ensureLoaded(ctx); err != nil {
		return Result{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancelFunc = cancel
	device := t.device
	t.mu.Unlock()
	defer cancel()

	resp, err := t.run(runCtx, samples, sampleRate, language, device)
	if err != nil {
		if runCtx.Err() != nil {
			return Result{Cancelled: true, Device: device}, nil
		}
		return Result{}, corerr.Wrap(corerr.CodeTranscription, "transcribe audio", err)
	}

	segments := make([]Segment, 0, len(resp.Segments))
	var logprobs []float64
	for _, s := range resp.Segments {
		segments = append(segments, Segment{
			Text:       s.Text,
			StartSec:   s.Start,
			EndSec:     s.End,
			Confidence: expf(s.AvgLogprob),
		})
		logprobs = append(logprobs, s.AvgLogprob)
	}

	return Result{
		Text:        resp.Text,
		Language:    resp.Language,
		Segments:    segments,
		Confidence:  Confidence(logprobs),
		DurationSec: resp.Duration,
		Device:      device,
	}, nil
}

func (t *execTranscriber) run(ctx context.Context, samples []float32, sampleRate int, language, device string) (execResponse, error) {
	tmp, err := os.CreateTemp("", "whisperaloud_asr_*.wav")
	if err != nil {
		return execResponse{}, fmt.Errorf("create temp wav: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := writeWav(tmp, samples, sampleRate); err != nil {
		return execResponse{}, err
	}

	args := append([]string{}, t.baseCmd[1:]...)
	args = append(args, "--audio", tmp.Name(), "--device", device)
	if t.cfg.ModelPath != "" {
		args = append(args, "--model", t.cfg.ModelPath)
	}
	if language != "" {
		args = append(args, "--language", language)
	}

	cmd := exec.CommandContext(ctx, t.baseCmd[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return execResponse{}, ctx.Err()
		}
		return execResponse{}, fmt.Errorf("%w: %s", err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return execResponse{}, fmt.Errorf("decode transcriber response: %w", err)
	}
	return resp, nil
}

func writeWav(f *os.File, samples []float32, sampleRate int) error {
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	buf.Data = make([]int, len(samples))
	for i, s := range samples {
		v := int(s * 32767)
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		buf.Data[i] = v
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return enc.Close()
}
