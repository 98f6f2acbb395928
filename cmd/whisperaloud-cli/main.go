// Command whisperaloud-cli is a one-shot client for whisperaloudd: it
// forwards start/stop/toggle/cancel/quit commands to a running daemon
// over D-Bus, and can transcribe a standalone WAV file without a daemon
// at all. It has no command that queries the daemon's status.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/fede/whisperaloud/internal/config"
	"github.com/fede/whisperaloud/internal/control"
	"github.com/fede/whisperaloud/internal/transcriber"
	"github.com/go-audio/wav"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [start|stop|toggle|cancel|quit|transcribe <file.wav>]\n", os.Args[0])
	}
	var configPath string
	flag.StringVar(&configPath, "config", config.ExpandHome("~/.config/whisperaloud/config.json"), "Path to configuration file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
	}

	switch cmd := args[0]; cmd {
	case "start", "stop", "toggle", "cancel", "quit":
		runForward(cfg.Control, cmd)
	case "transcribe":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "transcribe requires a file path")
			os.Exit(2)
		}
		runTranscribe(cfg, args[1])
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runForward(ctrlCfg config.ControlConfig, action string) {
	forwarded, result, err := control.TryForward(ctrlCfg, action)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if !forwarded {
		fmt.Fprintln(os.Stderr, "whisperaloudd is not running")
		os.Exit(1)
	}
	fmt.Println(result)
}

func runTranscribe(cfg config.Config, path string) {
	samples, sampleRate, err := readWav(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	trans, err := transcriber.NewExecTranscriber(cfg.Transcriber)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	result, err := trans.Transcribe(context.Background(), samples, sampleRate, cfg.Transcriber.Language)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}

func readWav(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}

	samples := make([]float32, 0, len(buf.Data))
	channels := buf.Format.NumChannels
	if channels <= 1 {
		for _, v := range buf.Data {
			samples = append(samples, float32(v)/32768)
		}
	} else {
		for i := 0; i+channels <= len(buf.Data); i += channels {
			var sum int
			for c := 0; c < channels; c++ {
				sum += buf.Data[i+c]
			}
			samples = append(samples, float32(sum/channels)/32768)
		}
	}

	return samples, buf.Format.SampleRate, nil
}
