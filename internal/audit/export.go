// Package audit filters and exports the append-only audit trail.
package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joescharf/repbot/internal/models"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown export format %q (json, csv, markdown)", s)
}

// Filter restricts which audit events are exported. Zero fields match
// everything.
type Filter struct {
	ActorID string
	Kind    string
	Since   *time.Time
	Until   *time.Time
}

// Apply returns the events passing the filter, preserving order.
func Apply(events []models.AuditEvent, f Filter) []models.AuditEvent {
	var out []models.AuditEvent
	for _, ev := range events {
		if f.ActorID != "" && ev.ActorID != f.ActorID {
			continue
		}
		if f.Kind != "" && ev.Kind != f.Kind {
			continue
		}
		if f.Since != nil && ev.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && ev.Timestamp.After(*f.Until) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Export writes the events to w in the requested format.
func Export(w io.Writer, events []models.AuditEvent, format Format) error {
	switch format {
	case FormatJSON:
		return exportJSON(w, events)
	case FormatCSV:
		return exportCSV(w, events)
	case FormatMarkdown:
		return exportMarkdown(w, events)
	}
	return fmt.Errorf("unknown export format %q", format)
}

func exportJSON(w io.Writer, events []models.AuditEvent) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}

func exportCSV(w io.Writer, events []models.AuditEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "timestamp", "actor_type", "actor_id", "event_type", "context"}); err != nil {
		return err
	}
	for _, ev := range events {
		if err := cw.Write([]string{
			ev.ID,
			ev.Timestamp.UTC().Format(time.RFC3339),
			string(ev.ActorType),
			ev.ActorID,
			ev.Kind,
			contextJSON(ev),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportMarkdown(w io.Writer, events []models.AuditEvent) error {
	if _, err := fmt.Fprintln(w, "| Timestamp | Actor | Event | Context |"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "|---|---|---|---|"); err != nil {
		return err
	}
	for _, ev := range events {
		actor := fmt.Sprintf("%s:%s", ev.ActorType, ev.ActorID)
		ctx := strings.ReplaceAll(contextJSON(ev), "|", "\\|")
		if _, err := fmt.Fprintf(w, "| %s | %s | %s | %s |\n",
			ev.Timestamp.UTC().Format(time.RFC3339), actor, ev.Kind, ctx); err != nil {
			return err
		}
	}
	return nil
}

func contextJSON(ev models.AuditEvent) string {
	if len(ev.Context) == 0 {
		return "{}"
	}
	b, err := json.Marshal(ev.Context)
	if err != nil {
		return "{}"
	}
	return string(b)
}
