package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/repbot/internal/config"
	"github.com/joescharf/repbot/internal/modes"
	"github.com/joescharf/repbot/internal/output"
	"github.com/joescharf/repbot/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	logger    zerolog.Logger

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "repbot",
	Short: "Contribution reputation bot for GitHub organizations and Discord",
	Long: `repbot scores GitHub contributions, links contributors to their
Discord accounts through one-time verification codes, and plans (or applies)
Discord role changes and GitHub issue assignments based on configurable rules.

Runs are report-only unless mode is 'active' and per-system writes are
enabled in the config.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/repbot/config.yaml)")
	rootCmd.PersistentFlags().String("mode", "", "Run mode override: dry-run, observer, or active")
}

func initConfig() {
	// Tokens commonly live in a local .env during development.
	_ = godotenv.Load()

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "repbot")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("REPBOT")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultDataDir := filepath.Join(home, ".config", "repbot")

	viper.SetDefault("mode", "dry-run")
	viper.SetDefault("data_dir", defaultDataDir)
	viper.SetDefault("db_path", filepath.Join(defaultDataDir, "repbot.db"))
	viper.SetDefault("github.org", "")
	viper.SetDefault("github.token", "")
	viper.SetDefault("github.write", false)
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.write", false)
	viper.SetDefault("discord.activity_channel_id", "")
	viper.SetDefault("scoring.period_days", 30)
	viper.SetDefault("scoring.weights", map[string]any{"pr_merged": 1})
	viper.SetDefault("scoring.penalties", map[string]any{"reverted_pr": -8, "failed_ci_merge": -3})
	viper.SetDefault("scoring.bonuses", map[string]any{"pr_review": 2, "helpful_comment": 1})
	viper.SetDefault("identity.claim_ttl", "10m")
	viper.SetDefault("identity.unlink_cooldown", "24h")
	viper.SetDefault("identity.on_storage_fault", "fail_open")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()

	// --mode beats the config file.
	if mode, _ := rootCmd.PersistentFlags().GetString("mode"); mode != "" {
		viper.Set("mode", mode)
	}
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	// Store opens lazily so config/version commands run without a db.
}

// getConfig loads and validates the run configuration.
func getConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	ui.DryRun = cfg.Mode == modes.ModeDryRun
	return cfg, nil
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
