// Package engine runs the pipeline: one sequential pass per invocation,
// ingest through apply, with the mutation policy gating every write to an
// external system.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/joescharf/repbot/internal/config"
	"github.com/joescharf/repbot/internal/identity"
	"github.com/joescharf/repbot/internal/models"
	"github.com/joescharf/repbot/internal/planner"
	"github.com/joescharf/repbot/internal/report"
	"github.com/joescharf/repbot/internal/scoring"
	"github.com/joescharf/repbot/internal/store"
)

const cursorSource = "github"

// ContributionReader pulls contribution events and open work items.
type ContributionReader interface {
	ContributionsSince(ctx context.Context, filter config.RepoFilter, since *time.Time) ([]models.ContributionEvent, error)
	OpenIssues(ctx context.Context, filter config.RepoFilter) ([]models.OpenIssue, error)
	OpenPullRequests(ctx context.Context, filter config.RepoFilter) ([]models.OpenPullRequest, error)
}

// AssignmentWriter applies approved assignment plans.
type AssignmentWriter interface {
	AssignIssue(ctx context.Context, repo string, number int, user string) error
	RequestReview(ctx context.Context, repo string, number int, user string) error
}

// RoleReader pulls current role membership, keyed by Discord user ID.
type RoleReader interface {
	MemberRoles(ctx context.Context) (map[string][]string, error)
}

// RoleWriter applies approved role plans and notifications.
type RoleWriter interface {
	AddRole(ctx context.Context, userID, roleName string) error
	RemoveRole(ctx context.Context, userID, roleName string) error
	SendDM(ctx context.Context, userID, content string) error
	SendChannelMessage(ctx context.Context, channelID, content string) error
}

// Engine wires the decision core to storage and adapters.
type Engine struct {
	cfg    *config.Config
	store  store.Store
	ledger *identity.Ledger

	github  ContributionReader
	ghWrite AssignmentWriter
	discord RoleReader
	dcWrite RoleWriter

	log zerolog.Logger
	now func() time.Time
}

// New builds an Engine. Writers may be nil when the run mode can never
// reach them.
func New(cfg *config.Config, s store.Store, ledger *identity.Ledger,
	gh ContributionReader, ghWrite AssignmentWriter,
	dc RoleReader, dcWrite RoleWriter, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   s,
		ledger:  ledger,
		github:  gh,
		ghWrite: ghWrite,
		discord: dc,
		dcWrite: dcWrite,
		log:     log.With().Str("component", "engine").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one pass and returns the run report. Reader faults degrade
// to empty partial results; storage faults abort the run.
func (e *Engine) Run(ctx context.Context) (*report.RunReport, error) {
	now := e.now()

	resolution := e.ledger.Resolve(ctx)
	e.log.Info().Str("source", string(resolution.Source)).
		Int("mappings", len(resolution.Mappings)).Msg("identities resolved")

	ingested, err := e.ingest(ctx)
	if err != nil {
		return nil, err
	}

	periodEnd := now
	periodStart := periodEnd.AddDate(0, 0, -e.cfg.Scoring.PeriodDays)

	windowEvents, err := e.store.ListContributions(ctx, periodStart)
	if err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	scores := scoring.Compute(windowEvents, e.cfg.Scoring, periodStart, periodEnd, now)
	if err := e.store.UpsertScores(ctx, scores); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	scoreMap := make(map[string]int, len(scores))
	for _, s := range scores {
		scoreMap[s.GitHubUser] = s.Points
	}

	currentRoles := e.currentRoles(ctx)

	rolePlans := planner.PlanRoles(planner.RoleInputs{
		Mappings:     resolution.Mappings,
		Scores:       scoreMap,
		MergeCounts:  scoring.MergeCounts(windowEvents, periodStart, periodEnd),
		CurrentRoles: currentRoles,
		RoleRules:    e.cfg.Roles,
		MergeRules:   e.cfg.MergeRoles,
	})

	assignPlans := e.planAssignments(ctx, resolution.Mappings, currentRoles, scoreMap)

	rep := &report.RunReport{
		GeneratedAt:     now,
		Mode:            e.cfg.Mode,
		IdentitySource:  string(resolution.Source),
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		EventsIngested:  ingested,
		Scores:          scores,
		RolePlans:       rolePlans,
		AssignmentPlans: assignPlans,
	}

	reportsDir := filepath.Join(e.cfg.DataDir, "reports")
	if err := report.Write(reportsDir, *rep); err != nil {
		return nil, err
	}
	if err := report.WriteActivity(reportsDir, windowEvents); err != nil {
		return nil, err
	}
	e.audit(ctx, models.AuditReportGenerated, map[string]any{
		"role_plans":       len(rolePlans),
		"assignment_plans": len(assignPlans),
	})

	rep.Applied = e.apply(ctx, rolePlans, assignPlans)
	e.announce(ctx, rep)

	// The JSON snapshot must record whether actions were applied.
	if rep.Applied {
		if err := report.Write(reportsDir, *rep); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

// ingest pulls new events since the cursor, appends them, and advances the
// cursor to the newest event time. A reader fault is logged and yields zero
// new events; a storage fault aborts.
func (e *Engine) ingest(ctx context.Context) (int, error) {
	cursor, err := e.store.GetCursor(ctx, cursorSource)
	if err != nil {
		return 0, fmt.Errorf("ingest: %w", err)
	}

	events, err := e.github.ContributionsSince(ctx, e.cfg.GitHub.Repos, cursor)
	if err != nil {
		e.log.Warn().Err(err).Msg("contribution read failed, continuing with no new events")
		return 0, nil
	}
	if len(events) == 0 {
		return 0, nil
	}

	n, err := e.store.AppendContributions(ctx, events)
	if err != nil {
		return 0, fmt.Errorf("ingest: %w", err)
	}

	latest := events[0].CreatedAt
	for _, ev := range events[1:] {
		if ev.CreatedAt.After(latest) {
			latest = ev.CreatedAt
		}
	}
	if err := e.store.SetCursor(ctx, cursorSource, latest); err != nil {
		return 0, fmt.Errorf("ingest: %w", err)
	}
	e.log.Info().Int("events", n).Time("cursor", latest).Msg("ingested contributions")
	return n, nil
}

func (e *Engine) currentRoles(ctx context.Context) map[string][]string {
	if e.discord == nil {
		return map[string][]string{}
	}
	roles, err := e.discord.MemberRoles(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("role read failed, planning against empty role state")
		return map[string][]string{}
	}
	return roles
}

func (e *Engine) planAssignments(ctx context.Context, mappings []models.IdentityMapping,
	currentRoles map[string][]string, scores map[string]int) []models.AssignmentPlan {
	if len(e.cfg.Assignments.IssueRoles) == 0 && len(e.cfg.Assignments.ReviewRoles) == 0 {
		return nil
	}

	openIssues, err := e.github.OpenIssues(ctx, e.cfg.GitHub.Repos)
	if err != nil {
		e.log.Warn().Err(err).Msg("open issue read failed, skipping issue assignment")
		openIssues = nil
	}
	openPRs, err := e.github.OpenPullRequests(ctx, e.cfg.GitHub.Repos)
	if err != nil {
		e.log.Warn().Err(err).Msg("open PR read failed, skipping review requests")
		openPRs = nil
	}

	// Role membership translated to GitHub handles via the mapping set.
	roleMembers := make(map[string][]string)
	for _, m := range mappings {
		for _, role := range currentRoles[m.DiscordUserID] {
			roleMembers[role] = append(roleMembers[role], m.GitHubUser)
		}
	}

	return planner.PlanAssignments(planner.AssignmentInputs{
		OpenIssues:  openIssues,
		OpenPRs:     openPRs,
		RoleMembers: roleMembers,
		Scores:      scores,
		Rules:       e.cfg.Assignments,
	})
}

// apply pushes approved plans through the writers. The policy gate is
// re-checked here per target system; anything not allowed stays report-only.
func (e *Engine) apply(ctx context.Context, rolePlans []models.RolePlan, assignPlans []models.AssignmentPlan) bool {
	policy := e.cfg.Policy()
	applied := false

	if policy.AllowDiscord() && e.dcWrite != nil {
		for _, p := range rolePlans {
			var err error
			switch p.Op {
			case models.RoleGrant:
				err = e.dcWrite.AddRole(ctx, p.DiscordUserID, p.Role)
			case models.RoleRevoke:
				err = e.dcWrite.RemoveRole(ctx, p.DiscordUserID, p.Role)
			}
			if err != nil {
				e.log.Error().Err(err).Str("user", p.DiscordUserID).Str("role", p.Role).Msg("role change failed")
				continue
			}
			applied = true
			e.audit(ctx, models.AuditRoleApplied, map[string]any{
				"discord_user_id": p.DiscordUserID,
				"role":            p.Role,
				"op":              string(p.Op),
				"reason":          p.Reason,
			})
			if p.Op == models.RoleGrant {
				e.congratulate(ctx, p)
			}
		}
	}

	if policy.AllowGitHub() && e.ghWrite != nil {
		for _, p := range assignPlans {
			var err error
			switch p.Op {
			case models.OpAssign:
				err = e.ghWrite.AssignIssue(ctx, p.Repo, p.TargetNumber, p.Assignee)
			case models.OpRequestReview:
				err = e.ghWrite.RequestReview(ctx, p.Repo, p.TargetNumber, p.Assignee)
			}
			if err != nil {
				e.log.Error().Err(err).Str("repo", p.Repo).Int("number", p.TargetNumber).Msg("assignment failed")
				continue
			}
			applied = true
			e.audit(ctx, models.AuditAssignApplied, map[string]any{
				"repo":     p.Repo,
				"number":   p.TargetNumber,
				"assignee": p.Assignee,
				"op":       string(p.Op),
			})
		}
	}

	return applied
}

// announce posts a run summary to the configured activity channel. Best
// effort, and only when the policy allows Discord writes.
func (e *Engine) announce(ctx context.Context, rep *report.RunReport) {
	channelID := e.cfg.Discord.ActivityChannelID
	if channelID == "" || e.dcWrite == nil || !e.cfg.Policy().AllowDiscord() {
		return
	}
	msg := fmt.Sprintf("Run complete: %d events ingested, %d role changes and %d assignments planned (applied: %t).",
		rep.EventsIngested, len(rep.RolePlans), len(rep.AssignmentPlans), rep.Applied)
	if err := e.dcWrite.SendChannelMessage(ctx, channelID, msg); err != nil {
		e.log.Warn().Err(err).Msg("activity announcement failed")
	}
}

// congratulate DMs a member about a fresh grant. Best effort.
func (e *Engine) congratulate(ctx context.Context, p models.RolePlan) {
	msg := fmt.Sprintf("Congrats! You have been granted the %q role for your contributions. %s", p.Role, p.Reason)
	if err := e.dcWrite.SendDM(ctx, p.DiscordUserID, msg); err != nil {
		e.log.Warn().Err(err).Str("user", p.DiscordUserID).Msg("congratulation dm failed")
	}
}

func (e *Engine) audit(ctx context.Context, kind string, context map[string]any) {
	ev := models.AuditEvent{
		ActorType: models.ActorSystem,
		ActorID:   "repbot",
		Kind:      kind,
		Context:   context,
	}
	if err := e.store.AppendAuditEvent(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("kind", kind).Msg("audit write failed")
	}
}
