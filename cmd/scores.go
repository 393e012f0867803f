package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/repbot/internal/metrics"
	"github.com/joescharf/repbot/internal/output"
)

var scoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Show the most recently computed scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		return scoresRun(cmd)
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show per-user contribution metrics for the current window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return metricsRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(scoresCmd)
	rootCmd.AddCommand(metricsCmd)
}

func scoresRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	scores, err := s.ListScores(cmd.Context())
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		ui.Info("No scores computed yet (run 'repbot run' first)")
		return nil
	}

	table := ui.Table([]string{"GitHub User", "Points", "Window", "Computed"})
	for _, sc := range scores {
		window := fmt.Sprintf("%s .. %s",
			sc.PeriodStart.Format("2006-01-02"), sc.PeriodEnd.Format("2006-01-02"))
		table.Append([]string{
			sc.GitHubUser,
			output.ScoreColor(sc.Points),
			window,
			sc.ComputedAt.Format("2006-01-02 15:04"),
		})
	}
	return table.Render()
}

func metricsRun(cmd *cobra.Command) error {
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -cfg.Scoring.PeriodDays)
	events, err := s.ListContributions(cmd.Context(), start)
	if err != nil {
		return err
	}

	rows := metrics.Compute(events, start, end)
	if len(rows) == 0 {
		ui.Info("No contributions in the last %d days", cfg.Scoring.PeriodDays)
		return nil
	}

	table := ui.Table([]string{"GitHub User", "Issues", "Closed", "PRs", "Merged", "Reviews", "Comments", "Engagement"})
	for _, m := range rows {
		table.Append([]string{
			m.GitHubUser,
			strconv.Itoa(m.IssuesOpened),
			strconv.Itoa(m.IssuesClosed),
			strconv.Itoa(m.PRsOpened),
			strconv.Itoa(m.PRsMerged),
			strconv.Itoa(m.Reviews),
			strconv.Itoa(m.Comments),
			fmt.Sprintf("%.1f", m.IssueEngagement),
		})
	}
	return table.Render()
}
