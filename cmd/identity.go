package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/repbot/internal/store"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Inspect identity links",
	RunE: func(cmd *cobra.Command, args []string) error {
		return identityListRun(cmd)
	},
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all verified identity links",
	RunE: func(cmd *cobra.Command, args []string) error {
		return identityListRun(cmd)
	},
}

var identityStatusCmd = &cobra.Command{
	Use:   "status <discord-user-id>",
	Short: "Show the link state for one Discord user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return identityStatusRun(cmd, args[0])
	},
}

func init() {
	identityCmd.AddCommand(identityListCmd)
	identityCmd.AddCommand(identityStatusCmd)
	rootCmd.AddCommand(identityCmd)
}

func identityListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	mappings, err := s.ListVerifiedMappings(cmd.Context())
	if err != nil {
		return err
	}
	if len(mappings) == 0 {
		ui.Info("No verified identity links")
		return nil
	}

	table := ui.Table([]string{"Discord User", "GitHub User"})
	for _, m := range mappings {
		table.Append([]string{m.DiscordUserID, m.GitHubUser})
	}
	return table.Render()
}

func identityStatusRun(cmd *cobra.Command, discordID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	link, err := s.GetVerifiedByDiscordUser(ctx, discordID)
	if err == nil {
		ui.Success("Verified: %s -> %s (since %s)",
			discordID, link.GitHubUser, link.VerifiedAt.Format(time.RFC3339))
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	last, err := s.LastUnlinkedAt(ctx, discordID)
	if err != nil {
		return err
	}
	if last != nil {
		ui.Info("Not linked (unlinked at %s)", last.Format(time.RFC3339))
		return nil
	}
	ui.Info("No link on record for %s", discordID)
	return nil
}
