// Package modes holds the run mode and the mutation policy gate. The policy
// is the single decision point between planned actions and external writers.
package modes

import "fmt"

// RunMode controls whether a run may mutate external systems.
type RunMode string

const (
	ModeDryRun   RunMode = "dry-run"
	ModeObserver RunMode = "observer"
	ModeActive   RunMode = "active"
)

// ParseRunMode validates a mode string from configuration.
func ParseRunMode(s string) (RunMode, error) {
	switch RunMode(s) {
	case ModeDryRun, ModeObserver, ModeActive:
		return RunMode(s), nil
	}
	return "", fmt.Errorf("invalid run mode %q (want dry-run, observer, or active)", s)
}

// MutationPolicy decides, per run, whether planned actions may reach a
// writer. Only active mode combined with the per-system write permission
// allows mutations; every other combination forces report-only behavior.
// The decision never depends on action content.
type MutationPolicy struct {
	Mode         RunMode
	GitHubWrite  bool
	DiscordWrite bool
}

// AllowGitHub reports whether GitHub mutations may be executed.
func (p MutationPolicy) AllowGitHub() bool {
	return p.Mode == ModeActive && p.GitHubWrite
}

// AllowDiscord reports whether Discord mutations may be executed.
func (p MutationPolicy) AllowDiscord() bool {
	return p.Mode == ModeActive && p.DiscordWrite
}
