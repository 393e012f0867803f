package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "repbot"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage repbot configuration.

Running bare 'repbot config' is the same as 'repbot config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# repbot configuration
# See: repbot config show (for effective values and sources)

# Run mode: dry-run (report only), observer, or active (default: dry-run)
mode: "{{ .Mode }}"

# Data directory for the database and reports (default: ~/.config/repbot)
# data_dir: {{ .DataDir }}

# GitHub
github:
  # Organization whose repositories are scored
  org: "{{ .GitHubOrg }}"

  # Allow GitHub writes (issue assignment, review requests) in active mode
  write: {{ .GitHubWrite }}

# Discord
discord:
  # Guild whose roles are managed
  guild_id: "{{ .DiscordGuildID }}"

  # Bot token (prefer REPBOT_DISCORD_TOKEN or .env over the file)
  # token: ""

  # Allow Discord writes (role changes, DMs) in active mode
  write: {{ .DiscordWrite }}

# Scoring window in days (default: 30)
scoring:
  period_days: {{ .PeriodDays }}

# Role rules: granted while the score threshold holds
roles:
  - role: Contributor
    min_score: 0

# Merge-tier roles: promotion-only, highest matching tier wins
# merge_roles:
#   - role: Regular
#     min_merged_prs: 3
#   - role: Core
#     min_merged_prs: 10
`

type configTemplateData struct {
	Mode           string
	DataDir        string
	GitHubOrg      string
	GitHubWrite    bool
	DiscordGuildID string
	DiscordWrite   bool
	PeriodDays     int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		Mode:           viper.GetString("mode"),
		DataDir:        viper.GetString("data_dir"),
		GitHubOrg:      viper.GetString("github.org"),
		GitHubWrite:    viper.GetBool("github.write"),
		DiscordGuildID: viper.GetString("discord.guild_id"),
		DiscordWrite:   viper.GetBool("discord.write"),
		PeriodDays:     viper.GetInt("scoring.period_days"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "mode", EnvVar: "REPBOT_MODE"},
	{Key: "data_dir", EnvVar: "REPBOT_DATA_DIR"},
	{Key: "db_path", EnvVar: "REPBOT_DB_PATH"},
	{Key: "github.org", EnvVar: "REPBOT_GITHUB_ORG"},
	{Key: "github.write", EnvVar: "REPBOT_GITHUB_WRITE"},
	{Key: "discord.guild_id", EnvVar: "REPBOT_DISCORD_GUILD_ID"},
	{Key: "discord.write", EnvVar: "REPBOT_DISCORD_WRITE"},
	{Key: "scoring.period_days", EnvVar: "REPBOT_SCORING_PERIOD_DAYS"},
	{Key: "identity.claim_ttl", EnvVar: "REPBOT_IDENTITY_CLAIM_TTL"},
	{Key: "identity.unlink_cooldown", EnvVar: "REPBOT_IDENTITY_UNLINK_COOLDOWN"},
	{Key: "identity.on_storage_fault", EnvVar: "REPBOT_IDENTITY_ON_STORAGE_FAULT"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-28s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'repbot config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
