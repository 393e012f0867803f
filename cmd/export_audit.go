package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/repbot/internal/audit"
)

var (
	auditUser   string
	auditKind   string
	auditSince  string
	auditUntil  string
	auditFormat string
	auditOut    string
)

var exportAuditCmd = &cobra.Command{
	Use:   "export-audit",
	Short: "Export the audit trail",
	Long: `Exports the append-only audit trail, optionally filtered by actor,
event type, or time range, as JSON, CSV, or Markdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportAuditRun(cmd)
	},
}

func init() {
	exportAuditCmd.Flags().StringVar(&auditUser, "user", "", "Filter by actor id")
	exportAuditCmd.Flags().StringVar(&auditKind, "event-type", "", "Filter by event type")
	exportAuditCmd.Flags().StringVar(&auditSince, "since", "", "Only events at or after this RFC3339 time")
	exportAuditCmd.Flags().StringVar(&auditUntil, "until", "", "Only events at or before this RFC3339 time")
	exportAuditCmd.Flags().StringVar(&auditFormat, "format", "json", "Output format: json, csv, or markdown")
	exportAuditCmd.Flags().StringVarP(&auditOut, "output", "o", "", "Write to file instead of stdout")
	rootCmd.AddCommand(exportAuditCmd)
}

func exportAuditRun(cmd *cobra.Command) error {
	format, err := audit.ParseFormat(auditFormat)
	if err != nil {
		return err
	}

	filter := audit.Filter{ActorID: auditUser, Kind: auditKind}
	if auditSince != "" {
		t, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return fmt.Errorf("parse --since: %w", err)
		}
		filter.Since = &t
	}
	if auditUntil != "" {
		t, err := time.Parse(time.RFC3339, auditUntil)
		if err != nil {
			return fmt.Errorf("parse --until: %w", err)
		}
		filter.Until = &t
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	events, err := s.ListAuditEvents(cmd.Context())
	if err != nil {
		return err
	}
	events = audit.Apply(events, filter)

	w := ui.Out
	if auditOut != "" {
		f, err := os.Create(auditOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if err := audit.Export(w, events, format); err != nil {
		return err
	}
	if auditOut != "" {
		ui.Success("Exported %d audit events to %s", len(events), auditOut)
	}
	return nil
}
