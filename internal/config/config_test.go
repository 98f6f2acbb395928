package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4333" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Persistence.SaveEmpty {
		t.Fatal("expected save_empty to default to false")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WHISPER_ALOUD_BUS_SERVERS", "nats://one:4333, nats://two:4333")
	t.Setenv("WHISPER_ALOUD_TRANSCRIBER_MODE", "exec")
	t.Setenv("WHISPER_ALOUD_TRANSCRIBER_COMMAND", "whisper-cli")
	t.Setenv("WHISPER_ALOUD_PERSISTENCE_SAVE_EMPTY", "true")
	t.Setenv("WHISPER_ALOUD_PERSISTENCE_MAX_ENTRIES", "42")
	t.Setenv("WHISPER_ALOUD_PROCESSING_LIMITER_MODE", "hard")
	t.Setenv("WHISPER_ALOUD_AUDIO_SAMPLE_RATE", "48000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Transcriber.Mode != "exec" || cfg.Transcriber.Command != "whisper-cli" {
		t.Fatalf("expected transcriber override, got %+v", cfg.Transcriber)
	}
	if !cfg.Persistence.SaveEmpty {
		t.Fatal("expected save_empty override true")
	}
	if cfg.Persistence.MaxEntries != 42 {
		t.Fatalf("expected max_entries override, got %d", cfg.Persistence.MaxEntries)
	}
	if cfg.Processing.LimiterMode != "hard" {
		t.Fatalf("expected limiter mode override, got %s", cfg.Processing.LimiterMode)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Fatalf("expected sample rate override, got %d", cfg.Audio.SampleRate)
	}
}

func TestValidateRejectsExecModeWithoutCommand(t *testing.T) {
	cfg := Default()
	cfg.Transcriber.Mode = "exec"
	cfg.Transcriber.Command = ""
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for exec mode without a command")
	}
}

func TestValidateRejectsBadLimiterCeiling(t *testing.T) {
	cfg := Default()
	cfg.Processing.LimiterCeiling = 1.5
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for out-of-range limiter ceiling")
	}
}
