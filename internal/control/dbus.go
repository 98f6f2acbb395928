// Package control exposes the Session Controller on the D-Bus session bus
// as org.fede.whisperaloud.Control, matching the reference daemon's
// method/signal contract, and bridges internal bus events back out as
// D-Bus signals for the tray/GUI front-ends.
package control

import (
	"fmt"
	"log/slog"

	"github.com/fede/whisperaloud/internal/bus"
	"github.com/fede/whisperaloud/internal/config"
	"github.com/fede/whisperaloud/internal/protocol"
	"github.com/fede/whisperaloud/internal/session"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// Surface publishes ctrl on the D-Bus session bus.
type Surface struct {
	conn       *dbus.Conn
	cfg        config.ControlConfig
	ctrl       *session.Controller
	busc       *bus.Client
	log        *slog.Logger
	configPath string
	quit       func()
}

var controlSignals = []introspect.Signal{
	{Name: "RecordingStarted"},
	{Name: "RecordingStopped"},
	{Name: "TranscriptionReady", Args: []introspect.Arg{
		{Name: "text", Type: "s", Direction: "out"},
		{Name: "meta", Type: "a{sv}", Direction: "out"},
	}},
	{Name: "LevelUpdate", Args: []introspect.Arg{{Name: "level", Type: "d", Direction: "out"}}},
	{Name: "StatusChanged", Args: []introspect.Arg{{Name: "state", Type: "s", Direction: "out"}}},
	{Name: "ConfigChanged", Args: []introspect.Arg{{Name: "changes", Type: "a{sv}", Direction: "out"}}},
	{Name: "Error", Args: []introspect.Arg{
		{Name: "code", Type: "s", Direction: "out"},
		{Name: "message", Type: "s", Direction: "out"},
	}},
}

// Serve connects to the D-Bus session bus, exports the Control interface
// at cfg.ObjectPath and begins bridging bus events to D-Bus signals.
// quit is invoked (from a goroutine) when a client calls Quit.
func Serve(cfg config.ControlConfig, configPath string, ctrl *session.Controller, busc *bus.Client, quit func(), log *slog.Logger) (*Surface, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	s := &Surface{conn: conn, cfg: cfg, ctrl: ctrl, busc: busc, log: log, configPath: configPath, quit: quit}

	reply, err := conn.RequestName(cfg.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request bus name %s: %w", cfg.BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s is already owned", cfg.BusName)
	}

	if err := conn.Export(s, dbus.ObjectPath(cfg.ObjectPath), cfg.InterfaceName); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export control interface: %w", err)
	}

	node := &introspect.Node{
		Name: cfg.ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    cfg.InterfaceName,
				Methods: introspect.Methods(s),
				Signals: controlSignals,
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), dbus.ObjectPath(cfg.ObjectPath), "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	s.bridgeEvents()
	log.Info("D-Bus control surface published", slog.String("bus_name", cfg.BusName), slog.String("object_path", cfg.ObjectPath))
	return s, nil
}

// Close releases the D-Bus session bus connection.
func (s *Surface) Close() error {
	return s.conn.Close()
}

func (s *Surface) emit(signal string, args ...any) {
	path := dbus.ObjectPath(s.cfg.ObjectPath)
	if err := s.conn.Emit(path, s.cfg.InterfaceName+"."+signal, args...); err != nil {
		s.log.Warn("emit d-bus signal failed", slog.String("signal", signal), slog.String("error", err.Error()))
	}
}

// bridgeEvents subscribes to the internal bus events the Controller
// publishes and re-emits each as the matching D-Bus signal, so GUI/tray
// front-ends see the same lifecycle regardless of whether they talk to
// the daemon over D-Bus or NATS directly.
func (s *Surface) bridgeEvents() {
	subscribe(s.busc, protocol.SubjectRecordingStarted, func(*protocol.RecordingStarted) {
		s.emit("RecordingStarted")
	}, s.log)
	subscribe(s.busc, protocol.SubjectRecordingStopped, func(*protocol.RecordingStopped) {
		s.emit("RecordingStopped")
	}, s.log)
	subscribe(s.busc, protocol.SubjectTranscriptionReady, func(evt *protocol.TranscriptionReady) {
		meta := map[string]dbus.Variant{
			"duration":   dbus.MakeVariant(evt.DurationSec),
			"language":   dbus.MakeVariant(evt.Language),
			"confidence": dbus.MakeVariant(evt.Confidence),
			"history_id": dbus.MakeVariant(int32(evt.HistoryID)),
		}
		s.emit("TranscriptionReady", evt.Text, meta)
	}, s.log)
	subscribe(s.busc, protocol.SubjectLevelUpdate, func(evt *protocol.LevelUpdate) {
		s.emit("LevelUpdate", evt.Level)
	}, s.log)
	subscribe(s.busc, protocol.SubjectStatusChanged, func(evt *protocol.StatusChanged) {
		s.emit("StatusChanged", evt.State)
	}, s.log)
	subscribe(s.busc, protocol.SubjectError, func(evt *protocol.ErrorEvent) {
		s.emit("Error", evt.Code, evt.Message)
	}, s.log)
}

func subscribe[T any](busc *bus.Client, subject string, handler func(*T), log *slog.Logger) {
	if busc == nil {
		return
	}
	_, err := busc.SubscribeJSON(subject, func() any { return new(T) }, func(v any) {
		handler(v.(*T))
	})
	if err != nil {
		log.Warn("subscribe bus event failed", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
