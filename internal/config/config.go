package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// TelemetryConfig controls tracing and metrics export for the daemon.
type TelemetryConfig struct {
	LogLevel       string `json:"log_level"`
	OTLPEndpoint   string `json:"otlp_endpoint"`
	OTLPInsecure   bool   `json:"otlp_insecure"`
	PrometheusBind string `json:"prometheus_bind"`
}

// HTTPConfig controls the loopback operability endpoint (/healthz, /readyz, /metrics).
type HTTPConfig struct {
	Bind string `json:"bind"`
	Port int    `json:"port"`
}

// BusConfig controls the embedded/external NATS bus used for internal pub/sub.
type BusConfig struct {
	Embedded       bool     `json:"embedded"`
	Port           int      `json:"port"`
	Servers        []string `json:"servers"`
	Username       string   `json:"username"`
	Password       string   `json:"password"`
	Token          string   `json:"token"`
	TLSInsecure    bool     `json:"tls_insecure"`
	ConnectTimeout int      `json:"connect_timeout_ms"`
}

// AudioConfig configures capture, resampling and VAD trimming.
type AudioConfig struct {
	CaptureMode         string  `json:"capture_mode"` // malgo, mock
	DeviceID            int     `json:"device_id"`
	SampleRate          int     `json:"sample_rate"`
	Channels            int     `json:"channels"`
	ChunkDurationMS     int     `json:"chunk_duration_ms"`
	MaxRecordingSeconds float64 `json:"max_recording_seconds"`
	VADEnabled          bool    `json:"vad_enabled"`
	VADThreshold        float64 `json:"vad_threshold"`
}

// ProcessingConfig configures the DSP pipeline stages.
type ProcessingConfig struct {
	GateEnabled        bool    `json:"gate_enabled"`
	GateOpenThreshDB   float64 `json:"gate_open_threshold_db"`
	GateCloseThreshDB  float64 `json:"gate_close_threshold_db"`
	GateHoldMS         int     `json:"gate_hold_ms"`
	GateAttackMS       float64 `json:"gate_attack_ms"`
	GateReleaseMS      float64 `json:"gate_release_ms"`
	AGCEnabled         bool    `json:"agc_enabled"`
	AGCTargetRMS       float64 `json:"agc_target_rms"`
	AGCMaxGain         float64 `json:"agc_max_gain"`
	AGCMinGain         float64 `json:"agc_min_gain"`
	AGCWindowMS        int     `json:"agc_window_ms"`
	AGCAttackMS        float64 `json:"agc_attack_ms"`
	AGCReleaseMS       float64 `json:"agc_release_ms"`
	DenoiseEnabled     bool    `json:"denoise_enabled"`
	DenoiseStrength    float64 `json:"denoise_strength"`
	LimiterEnabled     bool    `json:"limiter_enabled"`
	LimiterCeiling     float64 `json:"limiter_ceiling"`
	LimiterMode        string  `json:"limiter_mode"` // "soft" | "hard"
	LimiterKneeDB      float64 `json:"limiter_knee_db"`
}

// TranscriberConfig configures the ASR backend.
type TranscriberConfig struct {
	Mode      string `json:"mode"` // mock, exec
	Command   string `json:"command"`
	ModelPath string `json:"model_path"`
	Language  string `json:"language"`
	Device    string `json:"device"` // auto, cpu, cuda
}

// PersistenceConfig controls the History Store.
type PersistenceConfig struct {
	DBPath          string `json:"db_path"`
	ArchivePath     string `json:"archive_path"`
	RetentionDays   int    `json:"retention_days"`
	MaxEntries      int    `json:"max_entries"`
	SaveEmpty       bool   `json:"save_empty"`
	SaveAudio       bool   `json:"save_audio"`
	CompressArchive bool   `json:"compress_archive"`
	VacuumOnStart   bool   `json:"vacuum_on_start"`
}

// ClipboardConfig controls how transcribed text reaches the desktop clipboard.
type ClipboardConfig struct {
	Mode        string `json:"mode"` // mock, exec
	Command     string `json:"command"`
	AutoPaste   bool   `json:"auto_paste"`
	PasteCmd    string `json:"paste_command"`
}

// ControlConfig configures the D-Bus control surface.
type ControlConfig struct {
	BusName        string `json:"bus_name"`
	ObjectPath     string `json:"object_path"`
	InterfaceName  string `json:"interface_name"`
	SingleInstance bool   `json:"single_instance"`
}

// Config is the root configuration tree for the daemon.
type Config struct {
	RuntimeName string             `json:"runtime_name"`
	Environment string             `json:"environment"`
	HTTP        HTTPConfig         `json:"http"`
	Telemetry   TelemetryConfig    `json:"telemetry"`
	Bus         BusConfig          `json:"bus"`
	Audio       AudioConfig        `json:"audio"`
	Processing  ProcessingConfig   `json:"processing"`
	Transcriber TranscriberConfig  `json:"transcriber"`
	Persistence PersistenceConfig  `json:"persistence"`
	Clipboard   ClipboardConfig    `json:"clipboard"`
	Control     ControlConfig      `json:"control"`
}

// Default returns the baseline configuration used before any file or
// environment overrides are applied.
func Default() Config {
	return Config{
		RuntimeName: "whisperaloudd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8765,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9464",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4333,
			Servers:        []string{"nats://localhost:4333"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			CaptureMode:         "malgo",
			DeviceID:            -1,
			SampleRate:          16000,
			Channels:            1,
			ChunkDurationMS:     100,
			MaxRecordingSeconds: 300,
			VADEnabled:          false,
			VADThreshold:        0.01,
		},
		Processing: ProcessingConfig{
			GateEnabled:       true,
			GateOpenThreshDB:  -45,
			GateCloseThreshDB: -50,
			GateHoldMS:        300,
			GateAttackMS:      5,
			GateReleaseMS:     120,
			AGCEnabled:        true,
			AGCTargetRMS:      0.1,
			AGCMaxGain:        6.0,
			AGCMinGain:        0.316, // -10 dB
			AGCWindowMS:       500,
			AGCAttackMS:       50,
			AGCReleaseMS:      300,
			DenoiseEnabled:    false,
			DenoiseStrength:   0.5,
			LimiterEnabled:    true,
			LimiterCeiling:    0.98,
			LimiterMode:       "soft",
			LimiterKneeDB:     -3,
		},
		Transcriber: TranscriberConfig{
			Mode:     "mock",
			Language: "en",
			Device:   "auto",
		},
		Persistence: PersistenceConfig{
			DBPath:          "~/.local/share/whisper_aloud/history.db",
			ArchivePath:     "~/.local/share/whisper_aloud/archive",
			RetentionDays:   90,
			MaxEntries:      5000,
			SaveEmpty:       false,
			SaveAudio:       true,
			CompressArchive: true,
		},
		Clipboard: ClipboardConfig{
			Mode:      "mock",
			AutoPaste: false,
		},
		Control: ControlConfig{
			BusName:        "org.fede.whisperaloud",
			ObjectPath:     "/org/fede/whisperaloud",
			InterfaceName:  "org.fede.whisperaloud.Control",
			SingleInstance: true,
		},
	}
}

// Load reads configuration from path (JSON), applies environment
// overrides, validates the result and returns it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg to path as pretty-printed JSON.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	const prefix = "WHISPER_ALOUD_"

	overrideString(&cfg.RuntimeName, prefix+"RUNTIME_NAME")
	overrideString(&cfg.Environment, prefix+"ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, prefix+"HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, prefix+"HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, prefix+"TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, prefix+"TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, prefix+"TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, prefix+"TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, prefix+"BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, prefix+"BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, prefix+"BUS_SERVERS")
	overrideString(&cfg.Bus.Username, prefix+"BUS_USERNAME")
	overrideString(&cfg.Bus.Password, prefix+"BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, prefix+"BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, prefix+"BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, prefix+"BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audio.CaptureMode, prefix+"AUDIO_CAPTURE_MODE")
	overrideInt(&cfg.Audio.DeviceID, prefix+"AUDIO_DEVICE_ID")
	overrideInt(&cfg.Audio.SampleRate, prefix+"AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, prefix+"AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.ChunkDurationMS, prefix+"AUDIO_CHUNK_DURATION_MS")
	overrideFloat(&cfg.Audio.MaxRecordingSeconds, prefix+"AUDIO_MAX_RECORDING_SECONDS")
	overrideBool(&cfg.Audio.VADEnabled, prefix+"AUDIO_VAD_ENABLED")
	overrideFloat(&cfg.Audio.VADThreshold, prefix+"AUDIO_VAD_THRESHOLD")
	overrideBool(&cfg.Processing.GateEnabled, prefix+"PROCESSING_GATE_ENABLED")
	overrideFloat(&cfg.Processing.GateOpenThreshDB, prefix+"PROCESSING_GATE_OPEN_THRESHOLD_DB")
	overrideFloat(&cfg.Processing.GateCloseThreshDB, prefix+"PROCESSING_GATE_CLOSE_THRESHOLD_DB")
	overrideInt(&cfg.Processing.GateHoldMS, prefix+"PROCESSING_GATE_HOLD_MS")
	overrideBool(&cfg.Processing.AGCEnabled, prefix+"PROCESSING_AGC_ENABLED")
	overrideFloat(&cfg.Processing.AGCTargetRMS, prefix+"PROCESSING_AGC_TARGET_RMS")
	overrideFloat(&cfg.Processing.AGCMaxGain, prefix+"PROCESSING_AGC_MAX_GAIN")
	overrideFloat(&cfg.Processing.AGCMinGain, prefix+"PROCESSING_AGC_MIN_GAIN")
	overrideBool(&cfg.Processing.DenoiseEnabled, prefix+"PROCESSING_DENOISE_ENABLED")
	overrideFloat(&cfg.Processing.DenoiseStrength, prefix+"PROCESSING_DENOISE_STRENGTH")
	overrideBool(&cfg.Processing.LimiterEnabled, prefix+"PROCESSING_LIMITER_ENABLED")
	overrideFloat(&cfg.Processing.LimiterCeiling, prefix+"PROCESSING_LIMITER_CEILING")
	overrideString(&cfg.Processing.LimiterMode, prefix+"PROCESSING_LIMITER_MODE")
	overrideString(&cfg.Transcriber.Mode, prefix+"TRANSCRIBER_MODE")
	overrideString(&cfg.Transcriber.Command, prefix+"TRANSCRIBER_COMMAND")
	overrideString(&cfg.Transcriber.ModelPath, prefix+"TRANSCRIBER_MODEL_PATH")
	overrideString(&cfg.Transcriber.Language, prefix+"TRANSCRIBER_LANGUAGE")
	overrideString(&cfg.Transcriber.Device, prefix+"TRANSCRIBER_DEVICE")
	overrideString(&cfg.Persistence.DBPath, prefix+"PERSISTENCE_DB_PATH")
	overrideString(&cfg.Persistence.ArchivePath, prefix+"PERSISTENCE_ARCHIVE_PATH")
	overrideInt(&cfg.Persistence.RetentionDays, prefix+"PERSISTENCE_RETENTION_DAYS")
	overrideInt(&cfg.Persistence.MaxEntries, prefix+"PERSISTENCE_MAX_ENTRIES")
	overrideBool(&cfg.Persistence.SaveEmpty, prefix+"PERSISTENCE_SAVE_EMPTY")
	overrideBool(&cfg.Persistence.SaveAudio, prefix+"PERSISTENCE_SAVE_AUDIO")
	overrideBool(&cfg.Persistence.CompressArchive, prefix+"PERSISTENCE_COMPRESS_ARCHIVE")
	overrideBool(&cfg.Persistence.VacuumOnStart, prefix+"PERSISTENCE_VACUUM_ON_START")
	overrideString(&cfg.Clipboard.Mode, prefix+"CLIPBOARD_MODE")
	overrideString(&cfg.Clipboard.Command, prefix+"CLIPBOARD_COMMAND")
	overrideBool(&cfg.Clipboard.AutoPaste, prefix+"CLIPBOARD_AUTO_PASTE")
	overrideString(&cfg.Clipboard.PasteCmd, prefix+"CLIPBOARD_PASTE_COMMAND")
	overrideString(&cfg.Control.BusName, prefix+"CONTROL_BUS_NAME")
	overrideString(&cfg.Control.ObjectPath, prefix+"CONTROL_OBJECT_PATH")
	overrideString(&cfg.Control.InterfaceName, prefix+"CONTROL_INTERFACE_NAME")
	overrideBool(&cfg.Control.SingleInstance, prefix+"CONTROL_SINGLE_INSTANCE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// Validate checks cfg against the same rules Load applies to a freshly
// read configuration file, for callers that mutate an in-memory Config
// (e.g. the D-Bus SetConfig method) and must re-check it before persisting.
func Validate(cfg Config) error {
	return validate(cfg)
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	switch cfg.Audio.CaptureMode {
	case "malgo", "mock":
	default:
		return errors.New("audio.capture_mode must be one of malgo|mock")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.MaxRecordingSeconds <= 0 {
		return errors.New("audio.max_recording_seconds must be positive")
	}
	if cfg.Processing.LimiterCeiling <= 0 || cfg.Processing.LimiterCeiling > 1 {
		return errors.New("processing.limiter_ceiling must be in (0, 1]")
	}
	switch cfg.Processing.LimiterMode {
	case "soft", "hard":
	default:
		return errors.New("processing.limiter_mode must be one of soft|hard")
	}
	if cfg.Processing.DenoiseStrength < 0 || cfg.Processing.DenoiseStrength > 1 {
		return errors.New("processing.denoise_strength must be in [0, 1]")
	}
	if cfg.Processing.AGCMaxGain < 1 {
		return errors.New("processing.agc_max_gain must be >= 1")
	}
	if cfg.Processing.AGCMinGain <= 0 || cfg.Processing.AGCMinGain > cfg.Processing.AGCMaxGain {
		return errors.New("processing.agc_min_gain must be in (0, agc_max_gain]")
	}
	switch cfg.Transcriber.Mode {
	case "mock", "exec":
	default:
		return errors.New("transcriber.mode must be one of mock|exec")
	}
	if cfg.Transcriber.Mode == "exec" && cfg.Transcriber.Command == "" {
		return errors.New("transcriber.command must be set when mode=exec")
	}
	switch cfg.Transcriber.Device {
	case "auto", "cpu", "cuda":
	default:
		return errors.New("transcriber.device must be one of auto|cpu|cuda")
	}
	if cfg.Persistence.DBPath == "" {
		return errors.New("persistence.db_path must not be empty")
	}
	if cfg.Persistence.RetentionDays < 0 {
		return errors.New("persistence.retention_days must be >= 0")
	}
	if cfg.Persistence.MaxEntries < 0 {
		return errors.New("persistence.max_entries must be >= 0")
	}
	switch cfg.Clipboard.Mode {
	case "mock", "exec":
	default:
		return errors.New("clipboard.mode must be one of mock|exec")
	}
	if cfg.Clipboard.Mode == "exec" && cfg.Clipboard.Command == "" {
		return errors.New("clipboard.command must be set when mode=exec")
	}
	if cfg.Control.BusName == "" || cfg.Control.ObjectPath == "" || cfg.Control.InterfaceName == "" {
		return errors.New("control.bus_name, control.object_path and control.interface_name must not be empty")
	}
	return nil
}

// ExpandHome resolves a leading "~" in path to the current user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
