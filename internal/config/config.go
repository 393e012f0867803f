// Package config loads and validates the rule tables that drive a run.
// Configuration is read once per run into immutable structs; anything
// malformed fails fast before the pipeline starts.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/repbot/internal/models"
	"github.com/joescharf/repbot/internal/modes"
)

// ValidationError marks a fatal configuration problem.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Msg)
}

// StorageFaultPolicy selects identity-resolution behavior when the ledger
// storage is unavailable.
type StorageFaultPolicy string

const (
	// FailOpen falls back to the static config mappings on storage fault.
	FailOpen StorageFaultPolicy = "fail_open"
	// FailClosed resolves to an empty identity set on storage fault.
	FailClosed StorageFaultPolicy = "fail_closed"
)

// RepoFilter restricts which repositories are ingested.
type RepoFilter struct {
	Mode  string // "allow" or "deny"
	Names []string
}

// Match reports whether a repository passes the filter.
func (f RepoFilter) Match(repo string) bool {
	if f.Mode == "" {
		return true
	}
	listed := false
	for _, name := range f.Names {
		if name == repo {
			listed = true
			break
		}
	}
	if f.Mode == "allow" {
		return listed
	}
	return !listed
}

// GitHubConfig holds the GitHub adapter settings.
type GitHubConfig struct {
	Org   string
	Token string
	Write bool
	Repos RepoFilter
}

// DiscordConfig holds the Discord adapter settings.
type DiscordConfig struct {
	GuildID           string
	Token             string
	Write             bool
	ActivityChannelID string
}

// ScoringRules are the validated scoring inputs for one run.
type ScoringRules struct {
	PeriodDays        int
	Weights           map[string]int
	DifficultyWeights map[string]int // keys lowercased
	Penalties         map[string]int
	Bonuses           map[string]int
}

// RoleRule grants a Discord role at a minimum score.
type RoleRule struct {
	Role     string
	MinScore int
}

// MergeRoleRule grants a merge-tier Discord role at a minimum merged-PR
// count. Merge-tier roles are promotion-only.
type MergeRoleRule struct {
	Role         string
	MinMergedPRs int
}

// AssignmentRules name the roles whose members are eligible for issue
// assignment and review requests.
type AssignmentRules struct {
	IssueRoles  []string
	ReviewRoles []string
}

// IdentityConfig tunes the identity ledger.
type IdentityConfig struct {
	ClaimTTL       time.Duration
	UnlinkCooldown time.Duration
	OnStorageFault StorageFaultPolicy
}

// Config is the full validated configuration for one run.
type Config struct {
	Mode        modes.RunMode
	DataDir     string
	GitHub      GitHubConfig
	Discord     DiscordConfig
	Scoring     ScoringRules
	Roles       []RoleRule
	MergeRoles  []MergeRoleRule
	Assignments AssignmentRules
	Identity    IdentityConfig
	Fallback    []models.IdentityMapping // static mappings, used only when no verified rows exist
}

// Policy builds the mutation policy for this run.
func (c *Config) Policy() modes.MutationPolicy {
	return modes.MutationPolicy{
		Mode:         c.Mode,
		GitHubWrite:  c.GitHub.Write,
		DiscordWrite: c.Discord.Write,
	}
}

// Load reads and validates the run configuration from viper.
func Load(v *viper.Viper) (*Config, error) {
	mode, err := modes.ParseRunMode(v.GetString("mode"))
	if err != nil {
		return nil, &ValidationError{Field: "mode", Msg: err.Error()}
	}

	cfg := &Config{
		Mode:    mode,
		DataDir: v.GetString("data_dir"),
		GitHub: GitHubConfig{
			Org:   v.GetString("github.org"),
			Token: v.GetString("github.token"),
			Write: v.GetBool("github.write"),
			Repos: RepoFilter{
				Mode:  v.GetString("github.repos.mode"),
				Names: v.GetStringSlice("github.repos.names"),
			},
		},
		Discord: DiscordConfig{
			GuildID:           v.GetString("discord.guild_id"),
			Token:             v.GetString("discord.token"),
			Write:             v.GetBool("discord.write"),
			ActivityChannelID: v.GetString("discord.activity_channel_id"),
		},
		Scoring: ScoringRules{
			PeriodDays:        v.GetInt("scoring.period_days"),
			Weights:           toIntMap(v.GetStringMap("scoring.weights")),
			DifficultyWeights: lowerKeys(toIntMap(v.GetStringMap("scoring.difficulty_weights"))),
			Penalties:         toIntMap(v.GetStringMap("scoring.penalties")),
			Bonuses:           toIntMap(v.GetStringMap("scoring.bonuses")),
		},
		Identity: IdentityConfig{
			ClaimTTL:       v.GetDuration("identity.claim_ttl"),
			UnlinkCooldown: v.GetDuration("identity.unlink_cooldown"),
			OnStorageFault: StorageFaultPolicy(v.GetString("identity.on_storage_fault")),
		},
		Assignments: AssignmentRules{
			IssueRoles:  v.GetStringSlice("assignments.issue_roles"),
			ReviewRoles: v.GetStringSlice("assignments.review_roles"),
		},
	}

	if err := decodeRoles(v, cfg); err != nil {
		return nil, err
	}
	if err := decodeFallback(v, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeRoles(v *viper.Viper, cfg *Config) error {
	var rawRoles []struct {
		Role     string `mapstructure:"role"`
		MinScore int    `mapstructure:"min_score"`
	}
	if err := v.UnmarshalKey("roles", &rawRoles); err != nil {
		return &ValidationError{Field: "roles", Msg: err.Error()}
	}
	for _, r := range rawRoles {
		cfg.Roles = append(cfg.Roles, RoleRule{Role: r.Role, MinScore: r.MinScore})
	}

	var rawMerge []struct {
		Role         string `mapstructure:"role"`
		MinMergedPRs int    `mapstructure:"min_merged_prs"`
	}
	if err := v.UnmarshalKey("merge_roles", &rawMerge); err != nil {
		return &ValidationError{Field: "merge_roles", Msg: err.Error()}
	}
	for _, r := range rawMerge {
		cfg.MergeRoles = append(cfg.MergeRoles, MergeRoleRule{Role: r.Role, MinMergedPRs: r.MinMergedPRs})
	}
	// Keep rule order deterministic regardless of config file order.
	sort.Slice(cfg.MergeRoles, func(i, j int) bool {
		return cfg.MergeRoles[i].MinMergedPRs < cfg.MergeRoles[j].MinMergedPRs
	})
	return nil
}

func decodeFallback(v *viper.Viper, cfg *Config) error {
	var raw []struct {
		DiscordUserID string `mapstructure:"discord_user_id"`
		GitHubUser    string `mapstructure:"github_user"`
	}
	if err := v.UnmarshalKey("identity_mappings", &raw); err != nil {
		return &ValidationError{Field: "identity_mappings", Msg: err.Error()}
	}
	for _, m := range raw {
		if m.DiscordUserID == "" || m.GitHubUser == "" {
			return &ValidationError{Field: "identity_mappings", Msg: "discord_user_id and github_user are both required"}
		}
		cfg.Fallback = append(cfg.Fallback, models.IdentityMapping{
			DiscordUserID: m.DiscordUserID,
			GitHubUser:    m.GitHubUser,
		})
	}
	return nil
}

func (c *Config) validate() error {
	if c.GitHub.Org == "" {
		return &ValidationError{Field: "github.org", Msg: "required"}
	}
	if c.Scoring.PeriodDays <= 0 {
		return &ValidationError{Field: "scoring.period_days", Msg: "must be positive"}
	}
	if len(c.Roles) == 0 {
		return &ValidationError{Field: "roles", Msg: "at least one role rule is required"}
	}
	seen := make(map[string]bool, len(c.Roles))
	for _, r := range c.Roles {
		if r.Role == "" {
			return &ValidationError{Field: "roles", Msg: "role name must not be empty"}
		}
		if seen[r.Role] {
			return &ValidationError{Field: "roles", Msg: fmt.Sprintf("duplicate role rule %q", r.Role)}
		}
		seen[r.Role] = true
	}
	for _, r := range c.MergeRoles {
		if r.Role == "" {
			return &ValidationError{Field: "merge_roles", Msg: "role name must not be empty"}
		}
		if r.MinMergedPRs <= 0 {
			return &ValidationError{Field: "merge_roles", Msg: "min_merged_prs must be positive"}
		}
	}
	if m := c.GitHub.Repos.Mode; m != "" && m != "allow" && m != "deny" {
		return &ValidationError{Field: "github.repos.mode", Msg: "must be 'allow' or 'deny'"}
	}
	if c.GitHub.Repos.Mode != "" && len(c.GitHub.Repos.Names) == 0 {
		return &ValidationError{Field: "github.repos.names", Msg: "must be non-empty when a filter mode is set"}
	}
	switch c.Identity.OnStorageFault {
	case FailOpen, FailClosed:
	default:
		return &ValidationError{Field: "identity.on_storage_fault", Msg: "must be 'fail_open' or 'fail_closed'"}
	}
	if c.Identity.ClaimTTL <= 0 {
		return &ValidationError{Field: "identity.claim_ttl", Msg: "must be positive"}
	}
	if c.Identity.UnlinkCooldown < 0 {
		return &ValidationError{Field: "identity.unlink_cooldown", Msg: "must not be negative"}
	}
	return nil
}

func toIntMap(raw map[string]any) map[string]int {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case int:
			out[k] = n
		case int64:
			out[k] = int(n)
		case float64:
			out[k] = int(n)
		}
	}
	return out
}

func lowerKeys(m map[string]int) map[string]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
