package clipboard

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/fede/whisperaloud/internal/config"
	"github.com/fede/whisperaloud/internal/corerr"
	shellwords "github.com/mattn/go-shellwords"
)

// execWriter shells out to cfg.Command (e.g. "wl-copy" or "xclip
// -selection clipboard") for Copy, and cfg.PasteCmd (e.g. "wtype -M ctrl
// v" or "xdotool key ctrl+v") for Paste, in the same
// parse-once/exec.CommandContext shape as the exec transcriber.
type execWriter struct {
	copyCmd  []string
	pasteCmd []string
	cfg      config.ClipboardConfig
}

// NewExecWriter builds a Writer that shells out to external clipboard
// tools. pasteCmd may be empty if auto-paste is disabled.
func NewExecWriter(cfg config.ClipboardConfig) (Writer, error) {
	parser := shellwords.NewParser()
	copyArgs, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, corerr.Wrap(corerr.CodeConfiguration, "parse clipboard command", err)
	}
	if len(copyArgs) == 0 {
		return nil, corerr.New(corerr.CodeConfiguration, "clipboard command is empty")
	}

	var pasteArgs []string
	if cfg.AutoPaste && cfg.PasteCmd != "" {
		pasteArgs, err = parser.Parse(cfg.PasteCmd)
		if err != nil {
			return nil, corerr.Wrap(corerr.CodeConfiguration, "parse clipboard paste command", err)
		}
	}

	return &execWriter{copyCmd: copyArgs, pasteCmd: pasteArgs, cfg: cfg}, nil
}

func (w *execWriter) Copy(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, w.copyCmd[0], w.copyCmd[1:]...)
	cmd.Stdin = bytes.NewReader([]byte(text))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return corerr.Wrap(corerr.CodeClipboard, "copy to clipboard: "+stderr.String(), err)
	}
	return nil
}

func (w *execWriter) Paste() error {
	if !w.cfg.AutoPaste || len(w.pasteCmd) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, w.pasteCmd[0], w.pasteCmd[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return corerr.Wrap(corerr.CodeClipboard, "paste from clipboard: "+stderr.String(), err)
	}
	return nil
}
