package control

import (
	"fmt"

	"github.com/fede/whisperaloud/internal/config"
	"github.com/godbus/dbus/v5"
)

// IsRunning reports whether a whisperaloudd instance already owns
// cfg.BusName on the session bus, without invoking any method on it.
func IsRunning(cfg config.ControlConfig) (bool, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return false, fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()

	owned, err := conn.NameHasOwner(cfg.BusName)
	if err != nil {
		return false, fmt.Errorf("check bus name owner: %w", err)
	}
	return owned, nil
}

// TryForward checks whether a whisperaloudd instance already owns
// cfg.BusName and, if so, forwards action to it via a direct method call
// and reports forwarded=true. A CLI invocation uses this to act against
// an already-running daemon instead of starting a second one.
func TryForward(cfg config.ControlConfig, action string) (forwarded bool, result string, err error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return false, "", fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()

	owned, err := conn.NameHasOwner(cfg.BusName)
	if err != nil {
		return false, "", fmt.Errorf("check bus name owner: %w", err)
	}
	if !owned {
		return false, "", nil
	}

	obj := conn.Object(cfg.BusName, dbus.ObjectPath(cfg.ObjectPath))
	method := cfg.InterfaceName + "." + methodFor(action)

	var out string
	call := obj.Call(method, 0)
	if call.Err != nil {
		return true, "", fmt.Errorf("forward %s to running instance: %w", action, call.Err)
	}
	switch action {
	case "toggle", "stop":
		if err := call.Store(&out); err != nil {
			return true, "", fmt.Errorf("decode reply from running instance: %w", err)
		}
	default:
		var ok bool
		if err := call.Store(&ok); err != nil {
			return true, "", fmt.Errorf("decode reply from running instance: %w", err)
		}
		if ok {
			out = "ok"
		} else {
			out = "failed"
		}
	}
	return true, out, nil
}

func methodFor(action string) string {
	switch action {
	case "start":
		return "StartRecording"
	case "stop":
		return "StopRecording"
	case "toggle":
		return "ToggleRecording"
	case "cancel":
		return "CancelRecording"
	case "quit":
		return "Quit"
	default:
		return action
	}
}
