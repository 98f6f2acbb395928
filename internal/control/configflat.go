package control

import (
	"fmt"

	"github.com/fede/whisperaloud/internal/config"
	"github.com/godbus/dbus/v5"
)

// flattenConfig exposes the subset of configuration sensible for live
// tray/GUI editing as "section.field" -> variant pairs, matching the
// reference daemon's GetConfig contract.
func flattenConfig(cfg config.Config) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"audio.device_id":              dbus.MakeVariant(int32(cfg.Audio.DeviceID)),
		"audio.sample_rate":            dbus.MakeVariant(int32(cfg.Audio.SampleRate)),
		"audio.max_recording_seconds":  dbus.MakeVariant(cfg.Audio.MaxRecordingSeconds),
		"audio.vad_enabled":            dbus.MakeVariant(cfg.Audio.VADEnabled),
		"audio.vad_threshold":          dbus.MakeVariant(cfg.Audio.VADThreshold),
		"processing.gate_enabled":      dbus.MakeVariant(cfg.Processing.GateEnabled),
		"processing.agc_enabled":       dbus.MakeVariant(cfg.Processing.AGCEnabled),
		"processing.agc_target_rms":    dbus.MakeVariant(cfg.Processing.AGCTargetRMS),
		"processing.denoise_enabled":   dbus.MakeVariant(cfg.Processing.DenoiseEnabled),
		"processing.limiter_enabled":   dbus.MakeVariant(cfg.Processing.LimiterEnabled),
		"transcriber.mode":             dbus.MakeVariant(cfg.Transcriber.Mode),
		"transcriber.language":         dbus.MakeVariant(cfg.Transcriber.Language),
		"transcriber.model_path":       dbus.MakeVariant(cfg.Transcriber.ModelPath),
		"transcriber.device":           dbus.MakeVariant(cfg.Transcriber.Device),
		"persistence.retention_days":   dbus.MakeVariant(int32(cfg.Persistence.RetentionDays)),
		"persistence.max_entries":      dbus.MakeVariant(int32(cfg.Persistence.MaxEntries)),
		"persistence.save_empty":       dbus.MakeVariant(cfg.Persistence.SaveEmpty),
		"clipboard.mode":               dbus.MakeVariant(cfg.Clipboard.Mode),
		"clipboard.auto_paste":         dbus.MakeVariant(cfg.Clipboard.AutoPaste),
	}
}

// applyConfigChanges mutates cfg in place from a "section.field" -> variant
// map. Unknown keys are rejected rather than silently ignored, so a typo
// in a tray settings panel surfaces immediately.
func applyConfigChanges(cfg *config.Config, changes map[string]dbus.Variant) error {
	for key, v := range changes {
		if err := applyOne(cfg, key, v); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

func applyOne(cfg *config.Config, key string, v dbus.Variant) error {
	switch key {
	case "audio.device_id":
		return storeInt(v, func(n int) { cfg.Audio.DeviceID = n })
	case "audio.sample_rate":
		return storeInt(v, func(n int) { cfg.Audio.SampleRate = n })
	case "audio.max_recording_seconds":
		return storeFloat(v, func(f float64) { cfg.Audio.MaxRecordingSeconds = f })
	case "audio.vad_enabled":
		return storeBool(v, func(b bool) { cfg.Audio.VADEnabled = b })
	case "audio.vad_threshold":
		return storeFloat(v, func(f float64) { cfg.Audio.VADThreshold = f })
	case "processing.gate_enabled":
		return storeBool(v, func(b bool) { cfg.Processing.GateEnabled = b })
	case "processing.agc_enabled":
		return storeBool(v, func(b bool) { cfg.Processing.AGCEnabled = b })
	case "processing.agc_target_rms":
		return storeFloat(v, func(f float64) { cfg.Processing.AGCTargetRMS = f })
	case "processing.denoise_enabled":
		return storeBool(v, func(b bool) { cfg.Processing.DenoiseEnabled = b })
	case "processing.limiter_enabled":
		return storeBool(v, func(b bool) { cfg.Processing.LimiterEnabled = b })
	case "transcriber.mode":
		return storeString(v, func(s string) { cfg.Transcriber.Mode = s })
	case "transcriber.language":
		return storeString(v, func(s string) { cfg.Transcriber.Language = s })
	case "transcriber.model_path":
		return storeString(v, func(s string) { cfg.Transcriber.ModelPath = s })
	case "transcriber.device":
		return storeString(v, func(s string) { cfg.Transcriber.Device = s })
	case "persistence.retention_days":
		return storeInt(v, func(n int) { cfg.Persistence.RetentionDays = n })
	case "persistence.max_entries":
		return storeInt(v, func(n int) { cfg.Persistence.MaxEntries = n })
	case "persistence.save_empty":
		return storeBool(v, func(b bool) { cfg.Persistence.SaveEmpty = b })
	case "clipboard.mode":
		return storeString(v, func(s string) { cfg.Clipboard.Mode = s })
	case "clipboard.auto_paste":
		return storeBool(v, func(b bool) { cfg.Clipboard.AutoPaste = b })
	default:
		return fmt.Errorf("unknown or read-only config key")
	}
}

func storeInt(v dbus.Variant, set func(int)) error {
	switch n := v.Value().(type) {
	case int32:
		set(int(n))
	case int64:
		set(int(n))
	case float64:
		set(int(n))
	default:
		return fmt.Errorf("expected integer, got %T", v.Value())
	}
	return nil
}

func storeFloat(v dbus.Variant, set func(float64)) error {
	switch n := v.Value().(type) {
	case float64:
		set(n)
	case int32:
		set(float64(n))
	case int64:
		set(float64(n))
	default:
		return fmt.Errorf("expected float, got %T", v.Value())
	}
	return nil
}

func storeBool(v dbus.Variant, set func(bool)) error {
	b, ok := v.Value().(bool)
	if !ok {
		return fmt.Errorf("expected bool, got %T", v.Value())
	}
	set(b)
	return nil
}

func storeString(v dbus.Variant, set func(string)) error {
	s, ok := v.Value().(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", v.Value())
	}
	set(s)
	return nil
}

func saveConfig(path string, cfg config.Config) error {
	return config.Save(path, cfg)
}

func loadConfig(path string) (config.Config, error) {
	return config.Load(path)
}
