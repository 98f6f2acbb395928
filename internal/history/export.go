package history

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fede/whisperaloud/internal/corerr"
)

// Format is an export output format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatText     Format = "text"
)

// Export writes entries to w in the requested format.
func Export(entries []Entry, format Format, w io.Writer) error {
	switch format {
	case FormatJSON:
		return exportJSON(entries, w)
	case FormatMarkdown:
		return exportMarkdown(entries, w)
	case FormatCSV:
		return exportCSV(entries, w)
	case FormatText:
		return exportText(entries, w)
	default:
		return corerr.New(corerr.CodeHistory, fmt.Sprintf("unknown export format %q", format))
	}
}

func exportJSON(entries []Entry, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func exportMarkdown(entries []Entry, w io.Writer) error {
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "## %s\n\n%s\n\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Text); err != nil {
			return err
		}
		if len(e.Tags) > 0 {
			if _, err := fmt.Fprintf(w, "_Tags: %v_\n\n", e.Tags); err != nil {
				return err
			}
		}
		if e.Notes != "" {
			if _, err := fmt.Fprintf(w, "> %s\n\n", e.Notes); err != nil {
				return err
			}
		}
	}
	return nil
}

func exportCSV(entries []Entry, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "timestamp", "text", "language", "confidence", "duration", "favorite", "tags", "notes"}); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			fmt.Sprintf("%d", e.ID),
			e.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			e.Text,
			e.Language,
			fmt.Sprintf("%.4f", e.Confidence),
			fmt.Sprintf("%.2f", e.DurationSec),
			fmt.Sprintf("%t", e.Favorite),
			fmt.Sprintf("%v", e.Tags),
			e.Notes,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportText(entries []Entry, w io.Writer) error {
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "[%s] %s\n", e.Timestamp.Format(time.Kitchen), e.Text); err != nil {
			return err
		}
	}
	return nil
}
