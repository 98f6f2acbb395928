package control

import (
	"context"
	"fmt"
	"time"

	"github.com/fede/whisperaloud/internal/config"
	"github.com/fede/whisperaloud/internal/corerr"
	"github.com/fede/whisperaloud/internal/history"
	"github.com/fede/whisperaloud/internal/session"
	"github.com/godbus/dbus/v5"
)

// StartRecording begins a new recording session.
func (s *Surface) StartRecording() (bool, *dbus.Error) {
	if err := s.ctrl.StartRecording(context.Background()); err != nil {
		return false, dbus.MakeFailingError(err)
	}
	return true, nil
}

// StopRecording ends the active recording and starts transcription in the
// background, returning immediately: TranscriptionReady or Error follows
// as a signal once the transcriber finishes.
func (s *Surface) StopRecording() (string, *dbus.Error) {
	if s.ctrl.Status().State != session.StateRecording {
		return "error", dbus.MakeFailingError(fmt.Errorf("not recording"))
	}
	go func() {
		if _, err := s.ctrl.StopRecording(context.Background()); err != nil {
			s.log.Warn("background stop recording failed", "error", err.Error())
		}
	}()
	return "transcribing", nil
}

// ToggleRecording starts or stops recording depending on current state.
func (s *Surface) ToggleRecording() (string, *dbus.Error) {
	if s.ctrl.Status().State == session.StateRecording {
		return s.StopRecording()
	}
	if err := s.ctrl.StartRecording(context.Background()); err != nil {
		return "error", dbus.MakeFailingError(err)
	}
	return "recording", nil
}

// CancelRecording aborts recording or in-flight transcription.
func (s *Surface) CancelRecording() (bool, *dbus.Error) {
	ok, err := s.ctrl.CancelRecording(context.Background())
	if err != nil {
		return false, dbus.MakeFailingError(err)
	}
	return ok, nil
}

// GetStatus returns the controller's current state as a variant map.
func (s *Surface) GetStatus() (map[string]dbus.Variant, *dbus.Error) {
	st := s.ctrl.Status()
	return map[string]dbus.Variant{
		"state":          dbus.MakeVariant(string(st.State)),
		"session_id":     dbus.MakeVariant(st.SessionID),
		"uptime":         dbus.MakeVariant(st.Uptime.Seconds()),
		"device":         dbus.MakeVariant(st.Device),
		"model":          dbus.MakeVariant(st.ModelID),
		"hotkey_backend": dbus.MakeVariant(st.HotkeyBackend),
	}, nil
}

// GetHistory returns the most recent transcriptions.
func (s *Surface) GetHistory(limit uint32) ([]map[string]dbus.Variant, *dbus.Error) {
	entries, err := s.ctrl.GetHistory(context.Background(), int(limit))
	if err != nil {
		return nil, dbus.MakeFailingError(err)
	}
	return serializeEntries(entries), nil
}

// SearchHistory runs a full-text search over past transcriptions.
func (s *Surface) SearchHistory(query string, limit uint32) ([]map[string]dbus.Variant, *dbus.Error) {
	entries, err := s.ctrl.SearchHistory(context.Background(), query, int(limit))
	if err != nil {
		return nil, dbus.MakeFailingError(err)
	}
	return serializeEntries(entries), nil
}

// GetFavoriteHistory returns favorited transcriptions.
func (s *Surface) GetFavoriteHistory(limit uint32) ([]map[string]dbus.Variant, *dbus.Error) {
	entries, err := s.ctrl.GetFavoriteHistory(context.Background(), int(limit))
	if err != nil {
		return nil, dbus.MakeFailingError(err)
	}
	return serializeEntries(entries), nil
}

// ToggleHistoryFavorite flips the favorite flag on a history entry.
func (s *Surface) ToggleHistoryFavorite(entryID int32) (bool, *dbus.Error) {
	fav, err := s.ctrl.ToggleHistoryFavorite(context.Background(), int64(entryID))
	if err != nil {
		return false, dbus.MakeFailingError(err)
	}
	return fav, nil
}

// DeleteHistoryEntry removes a history entry (and its archived audio, if
// this was the last reference to it).
func (s *Surface) DeleteHistoryEntry(entryID int32) (bool, *dbus.Error) {
	ok, err := s.ctrl.DeleteHistoryEntry(context.Background(), int64(entryID))
	if err != nil {
		return false, dbus.MakeFailingError(err)
	}
	return ok, nil
}

// GetConfig returns the daemon's current configuration flattened to
// "section.field" variant pairs.
func (s *Surface) GetConfig() (map[string]dbus.Variant, *dbus.Error) {
	return flattenConfig(s.ctrl.Config()), nil
}

// SetConfig applies configuration changes, persists them and hot-reloads
// the controller.
func (s *Surface) SetConfig(changes map[string]dbus.Variant) (bool, *dbus.Error) {
	if s.ctrl.Status().State != session.StateIdle {
		return false, dbus.MakeFailingError(corerr.New(corerr.CodeConfiguration, "config changes are only allowed while idle"))
	}
	cfg := s.ctrl.Config()
	if err := applyConfigChanges(&cfg, changes); err != nil {
		return false, dbus.MakeFailingError(err)
	}
	if err := config.Validate(cfg); err != nil {
		return false, dbus.MakeFailingError(corerr.Wrap(corerr.CodeConfiguration, "config invalid", err))
	}
	if s.configPath != "" {
		if err := saveConfig(s.configPath, cfg); err != nil {
			return false, dbus.MakeFailingError(err)
		}
	}
	s.ctrl.SetConfig(cfg)
	s.emit("ConfigChanged", changes)
	return true, nil
}

// ReloadConfig reloads configuration from disk and applies it.
func (s *Surface) ReloadConfig() (bool, *dbus.Error) {
	if s.ctrl.Status().State != session.StateIdle {
		return false, dbus.MakeFailingError(corerr.New(corerr.CodeConfiguration, "config changes are only allowed while idle"))
	}
	if s.configPath == "" {
		return false, dbus.MakeFailingError(fmt.Errorf("no config file to reload from"))
	}
	cfg, err := loadConfig(s.configPath)
	if err != nil {
		return false, dbus.MakeFailingError(err)
	}
	s.ctrl.SetConfig(cfg)
	s.emit("ConfigChanged", map[string]dbus.Variant{})
	return true, nil
}

// Quit requests daemon shutdown.
func (s *Surface) Quit() (bool, *dbus.Error) {
	s.log.Info("quit requested via D-Bus")
	if s.quit != nil {
		go s.quit()
	}
	return true, nil
}

func serializeEntries(entries []history.Entry) []map[string]dbus.Variant {
	out := make([]map[string]dbus.Variant, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]dbus.Variant{
			"id":              dbus.MakeVariant(int32(e.ID)),
			"text":            dbus.MakeVariant(e.Text),
			"timestamp":       dbus.MakeVariant(e.Timestamp.Format(time.RFC3339)),
			"duration":        dbus.MakeVariant(e.DurationSec),
			"language":        dbus.MakeVariant(e.Language),
			"confidence":      dbus.MakeVariant(e.Confidence),
			"processing_time": dbus.MakeVariant(e.ProcessingTime),
			"favorite":        dbus.MakeVariant(e.Favorite),
			"notes":           dbus.MakeVariant(e.Notes),
			"tags":            dbus.MakeVariant(e.Tags),
		})
	}
	return out
}
