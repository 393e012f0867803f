package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/repbot/internal/config"
	"github.com/joescharf/repbot/internal/identity"
	"github.com/joescharf/repbot/internal/models"
	"github.com/joescharf/repbot/internal/modes"
	"github.com/joescharf/repbot/internal/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeGitHub struct {
	events    []models.ContributionEvent
	eventsErr error
	lastSince *time.Time
	issues    []models.OpenIssue
	prs       []models.OpenPullRequest

	assigned []string
	reviews  []string
}

func (f *fakeGitHub) ContributionsSince(_ context.Context, _ config.RepoFilter, since *time.Time) ([]models.ContributionEvent, error) {
	f.lastSince = since
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	if since == nil {
		return f.events, nil
	}
	var out []models.ContributionEvent
	for _, ev := range f.events {
		if ev.CreatedAt.After(*since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeGitHub) OpenIssues(context.Context, config.RepoFilter) ([]models.OpenIssue, error) {
	return f.issues, nil
}

func (f *fakeGitHub) OpenPullRequests(context.Context, config.RepoFilter) ([]models.OpenPullRequest, error) {
	return f.prs, nil
}

func (f *fakeGitHub) AssignIssue(_ context.Context, repo string, number int, user string) error {
	f.assigned = append(f.assigned, user)
	return nil
}

func (f *fakeGitHub) RequestReview(_ context.Context, repo string, number int, user string) error {
	f.reviews = append(f.reviews, user)
	return nil
}

type fakeDiscord struct {
	roles    map[string][]string
	rolesErr error

	added    []string // "user/role"
	removed  []string
	dms      []string
	channels []string
}

func (f *fakeDiscord) MemberRoles(context.Context) (map[string][]string, error) {
	if f.rolesErr != nil {
		return nil, f.rolesErr
	}
	return f.roles, nil
}

func (f *fakeDiscord) AddRole(_ context.Context, userID, roleName string) error {
	f.added = append(f.added, userID+"/"+roleName)
	return nil
}

func (f *fakeDiscord) RemoveRole(_ context.Context, userID, roleName string) error {
	f.removed = append(f.removed, userID+"/"+roleName)
	return nil
}

func (f *fakeDiscord) SendDM(_ context.Context, userID, content string) error {
	f.dms = append(f.dms, userID+": "+content)
	return nil
}

func (f *fakeDiscord) SendChannelMessage(_ context.Context, channelID, content string) error {
	f.channels = append(f.channels, channelID+": "+content)
	return nil
}

func testConfig(t *testing.T, mode modes.RunMode) *config.Config {
	return &config.Config{
		Mode:    mode,
		DataDir: t.TempDir(),
		GitHub:  config.GitHubConfig{Org: "example-org", Write: true},
		Discord: config.DiscordConfig{GuildID: "guild", Write: true},
		Scoring: config.ScoringRules{
			PeriodDays:        30,
			Weights:           map[string]int{"pr_merged": 1},
			DifficultyWeights: map[string]int{"hard": 5},
			Penalties:         map[string]int{"reverted_pr": -8},
			Bonuses:           map[string]int{"pr_review": 2, "helpful_comment": 1},
		},
		Roles: []config.RoleRule{
			{Role: "Contributor", MinScore: 0},
			{Role: "Trusted", MinScore: 3},
		},
		Assignments: config.AssignmentRules{IssueRoles: []string{"Contributor"}},
		Identity: config.IdentityConfig{
			ClaimTTL:       10 * time.Minute,
			UnlinkCooldown: 24 * time.Hour,
			OnStorageFault: config.FailOpen,
		},
		Fallback: []models.IdentityMapping{{DiscordUserID: "100", GitHubUser: "alice"}},
	}
}

type fixture struct {
	engine  *Engine
	store   *store.SQLiteStore
	github  *fakeGitHub
	discord *fakeDiscord
	cfg     *config.Config
}

func newEngine(t *testing.T, mode modes.RunMode) *fixture {
	t.Helper()

	cfg := testConfig(t, mode)
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	gh := &fakeGitHub{
		events: []models.ContributionEvent{{
			GitHubUser: "alice",
			Kind:       models.EventPRMerged,
			Repo:       "core",
			CreatedAt:  testNow.Add(-24 * time.Hour),
			Payload: map[string]any{
				models.PayloadPRNumber: 7,
				models.PayloadLabels:   []string{"hard"},
			},
		}},
		issues: []models.OpenIssue{{Repo: "core", Number: 1, Title: "Bug"}},
	}
	dc := &fakeDiscord{roles: map[string][]string{"100": {"Contributor"}}}

	ledger := identity.NewLedger(s, nil, cfg.Identity, cfg.Fallback, zerolog.Nop())
	eng := New(cfg, s, ledger, gh, gh, dc, dc, zerolog.Nop())
	eng.now = func() time.Time { return testNow }

	return &fixture{engine: eng, store: s, github: gh, discord: dc, cfg: cfg}
}

func TestRun_DryRunNeverWrites(t *testing.T) {
	f := newEngine(t, modes.ModeDryRun)
	ctx := context.Background()

	rep, err := f.engine.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.EventsIngested)
	require.Len(t, rep.Scores, 1)
	assert.Equal(t, 5, rep.Scores[0].Points, "hard label weight")

	// Trusted grant planned (score 5 >= 3), Contributor already held.
	require.Len(t, rep.RolePlans, 1)
	assert.Equal(t, "Trusted", rep.RolePlans[0].Role)

	require.Len(t, rep.AssignmentPlans, 1)
	assert.Equal(t, "alice", rep.AssignmentPlans[0].Assignee)

	assert.False(t, rep.Applied)
	assert.Empty(t, f.discord.added)
	assert.Empty(t, f.discord.dms)
	assert.Empty(t, f.github.assigned)

	// Reports written even in dry-run.
	for _, name := range []string{"audit.json", "audit.md", "activity.md"} {
		_, err := os.Stat(filepath.Join(f.cfg.DataDir, "reports", name))
		assert.NoError(t, err, name)
	}

	// Cursor advanced to the newest event.
	cursor, err := f.store.GetCursor(ctx, cursorSource)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.True(t, cursor.Equal(testNow.Add(-24*time.Hour)))
}

func TestRun_ActiveAppliesAndNotifies(t *testing.T) {
	f := newEngine(t, modes.ModeActive)
	f.cfg.Discord.ActivityChannelID = "chan-1"
	ctx := context.Background()

	rep, err := f.engine.Run(ctx)
	require.NoError(t, err)

	assert.True(t, rep.Applied)
	require.Len(t, f.discord.added, 1)
	assert.Equal(t, "100/Trusted", f.discord.added[0])
	require.Len(t, f.discord.dms, 1)
	assert.Contains(t, f.discord.dms[0], "Trusted")
	require.Len(t, f.github.assigned, 1)
	assert.Equal(t, "alice", f.github.assigned[0])

	events, err := f.store.ListAuditEvents(ctx)
	require.NoError(t, err)
	kinds := make(map[string]int)
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 1, kinds[models.AuditReportGenerated])
	assert.Equal(t, 1, kinds[models.AuditRoleApplied])
	assert.Equal(t, 1, kinds[models.AuditAssignApplied])

	require.Len(t, f.discord.channels, 1)
	assert.Contains(t, f.discord.channels[0], "chan-1: Run complete")
}

func TestRun_ActiveWithoutWritePermissionStaysReportOnly(t *testing.T) {
	f := newEngine(t, modes.ModeActive)
	f.cfg.GitHub.Write = false
	f.cfg.Discord.Write = false

	rep, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, rep.Applied)
	assert.Empty(t, f.discord.added)
	assert.Empty(t, f.github.assigned)
}

func TestRun_ReaderFaultDegrades(t *testing.T) {
	f := newEngine(t, modes.ModeDryRun)
	f.github.eventsErr = errors.New("github unreachable")

	rep, err := f.engine.Run(context.Background())
	require.NoError(t, err, "reader faults never abort the run")
	assert.Equal(t, 0, rep.EventsIngested)
	assert.Empty(t, rep.Scores)
}

func TestRun_RoleReadFaultPlansAgainstEmptyState(t *testing.T) {
	f := newEngine(t, modes.ModeDryRun)
	f.discord.rolesErr = errors.New("discord unreachable")

	rep, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	// With no known current roles, both rules look grantable.
	assert.Len(t, rep.RolePlans, 2)
	// And nobody is eligible for assignment.
	assert.Empty(t, rep.AssignmentPlans)
}

func TestRun_CursorPreventsReingestion(t *testing.T) {
	f := newEngine(t, modes.ModeDryRun)
	ctx := context.Background()

	rep, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.EventsIngested)

	rep, err = f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.EventsIngested, "second run sees nothing new")
	require.NotNil(t, f.github.lastSince, "cursor passed to the reader")

	stored, err := f.store.ListContributions(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, stored, 1, "no duplicate rows")
}
