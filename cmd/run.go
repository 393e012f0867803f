package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/repbot/internal/discord"
	"github.com/joescharf/repbot/internal/engine"
	"github.com/joescharf/repbot/internal/github"
	"github.com/joescharf/repbot/internal/identity"
	"github.com/joescharf/repbot/internal/output"
	"github.com/joescharf/repbot/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full pass: ingest, score, plan, report, apply",
	Long: `Runs the pipeline once. In dry-run and observer modes the run is
report-only; in active mode, planned role changes and assignments are
applied to the systems whose write permission is enabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command) error {
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	gh := github.NewClient(cfg.GitHub.Org, logger)

	var roleReader engine.RoleReader
	var roleWriter engine.RoleWriter
	if cfg.Discord.Token != "" && cfg.Discord.GuildID != "" {
		dc, err := discord.NewClient(cfg.Discord.Token, cfg.Discord.GuildID, logger)
		if err != nil {
			return err
		}
		roleReader = dc
		roleWriter = dc
	} else {
		ui.Warning("Discord not configured, planning against empty role state")
	}

	ledger := identity.NewLedger(s, gh, cfg.Identity, cfg.Fallback, logger)
	eng := engine.New(cfg, s, ledger, gh, gh, roleReader, roleWriter, logger)

	ui.Info("Starting run in %s mode", output.ModeColor(string(cfg.Mode)))
	rep, err := eng.Run(ctx)
	if err != nil {
		return err
	}

	printRunReport(rep)
	ui.Success("Reports written to %s", filepath.Join(cfg.DataDir, "reports"))
	return nil
}

func printRunReport(rep *report.RunReport) {
	ui.Info("Identity source: %s", rep.IdentitySource)
	ui.Info("Events ingested: %d", rep.EventsIngested)

	if len(rep.Scores) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"GitHub User", "Points"})
		for _, s := range rep.Scores {
			table.Append([]string{s.GitHubUser, output.ScoreColor(s.Points)})
		}
		_ = table.Render()
	}

	if len(rep.RolePlans) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Discord User", "Role", "Op", "Reason"})
		for _, p := range rep.RolePlans {
			table.Append([]string{p.DiscordUserID, p.Role, output.OpColor(string(p.Op)), p.Reason})
		}
		_ = table.Render()
	} else {
		ui.Info("No role changes planned")
	}

	if len(rep.AssignmentPlans) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Repo", "Target", "Assignee", "Op"})
		for _, p := range rep.AssignmentPlans {
			target := string(p.TargetKind) + " #" + strconv.Itoa(p.TargetNumber)
			table.Append([]string{p.Repo, target, p.Assignee, output.OpColor(string(p.Op))})
		}
		_ = table.Render()
	} else {
		ui.Info("No assignments planned")
	}

	if rep.Applied {
		ui.Success("Actions applied")
	} else {
		ui.DryRunMsg("No external writes performed")
	}
}
