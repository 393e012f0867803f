package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/repbot/internal/github"
	"github.com/joescharf/repbot/internal/identity"
)

var linkCmd = &cobra.Command{
	Use:   "link <discord-user-id> <github-user>",
	Short: "Start linking a Discord user to a GitHub account",
	Long: `Creates a pending claim and prints a one-time verification code.
The GitHub user proves ownership by placing the code in their public
profile bio or in a public gist description, then running 'repbot verify'.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return linkRun(cmd, args[0], args[1])
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <discord-user-id> <github-user>",
	Short: "Verify a pending identity claim",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return verifyRun(cmd, args[0], args[1])
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <discord-user-id>",
	Short: "Sever a verified identity link",
	Long: `Removes the Discord user's verified GitHub link. A cooldown
prevents immediate re-linking; the ledger keeps the historical row.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return unlinkRun(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(unlinkCmd)
}

func newLedger() (*identity.Ledger, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	gh := github.NewClient(cfg.GitHub.Org, logger)
	return identity.NewLedger(s, gh, cfg.Identity, cfg.Fallback, logger), nil
}

func linkRun(cmd *cobra.Command, discordID, githubUser string) error {
	ledger, err := newLedger()
	if err != nil {
		return err
	}

	link, err := ledger.CreateClaim(cmd.Context(), discordID, githubUser)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrAlreadyVerified):
			ui.Info("This pair is already verified, nothing to do")
			return nil
		case errors.Is(err, identity.ErrHandleTaken),
			errors.Is(err, identity.ErrChatIdentityTaken),
			errors.Is(err, identity.ErrClaimInProgress),
			errors.Is(err, identity.ErrCooldownActive):
			return err
		}
		return err
	}

	ui.Success("Claim created for %s -> %s", discordID, githubUser)
	ui.Info("Verification code: %s", link.VerificationCode)
	ui.Info("Code expires at %s", link.ExpiresAt.Format(time.RFC3339))
	ui.Info("Add the code to the GitHub profile bio or a public gist description, then run:")
	ui.Info("  repbot verify %s %s", discordID, githubUser)
	return nil
}

func verifyRun(cmd *cobra.Command, discordID, githubUser string) error {
	ledger, err := newLedger()
	if err != nil {
		return err
	}

	res, err := ledger.Verify(cmd.Context(), discordID, githubUser)
	if err != nil {
		return err
	}

	switch res.Status {
	case identity.VerifyOK:
		ui.Success("Verified %s -> %s", discordID, githubUser)
	case identity.VerifyAlreadyLinked:
		ui.Info("Already verified, nothing changed")
	case identity.VerifyNotFound:
		ui.Error("No claim found for this pair (run 'repbot link' first)")
	case identity.VerifyExpired:
		ui.Error("The claim expired (run 'repbot link' again for a fresh code)")
	case identity.VerifyCodeNotVisible:
		ui.Warning("Code not found on the GitHub profile yet, try again once it is public")
	}
	return nil
}

func unlinkRun(cmd *cobra.Command, discordID string) error {
	ledger, err := newLedger()
	if err != nil {
		return err
	}

	link, err := ledger.Unlink(cmd.Context(), discordID)
	if err != nil {
		if errors.Is(err, identity.ErrNotVerified) {
			ui.Error("No verified link for Discord user %s", discordID)
			return nil
		}
		return err
	}
	ui.Success("Unlinked %s from %s", discordID, link.GitHubUser)
	return nil
}
