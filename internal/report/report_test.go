package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/repbot/internal/models"
	"github.com/joescharf/repbot/internal/modes"
)

func TestWrite_ProducesJSONAndMarkdown(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	r := RunReport{
		GeneratedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Mode:           modes.ModeDryRun,
		IdentitySource: "verified",
		PeriodStart:    time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EventsIngested: 4,
		Scores:         []models.Score{{GitHubUser: "alice", Points: -1}},
		RolePlans: []models.RolePlan{{
			DiscordUserID: "100", Role: "Contributor", Op: models.RoleRevoke,
			Reason: "score -1 below threshold 0",
		}},
	}
	require.NoError(t, Write(dir, r))

	data, err := os.ReadFile(filepath.Join(dir, "audit.json"))
	require.NoError(t, err)
	var decoded RunReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r.Mode, decoded.Mode)
	require.Len(t, decoded.RolePlans, 1)
	assert.Equal(t, models.RoleRevoke, decoded.RolePlans[0].Op)

	md, err := os.ReadFile(filepath.Join(dir, "audit.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "| alice | -1 |")
	assert.Contains(t, string(md), "score -1 below threshold 0")
	assert.Contains(t, string(md), "No assignments planned.")
}

func TestWrite_Deterministic(t *testing.T) {
	dir := t.TempDir()
	r := RunReport{Mode: modes.ModeObserver, IdentitySource: "fallback"}

	require.NoError(t, Write(dir, r))
	first, err := os.ReadFile(filepath.Join(dir, "audit.json"))
	require.NoError(t, err)

	require.NoError(t, Write(dir, r))
	second, err := os.ReadFile(filepath.Join(dir, "audit.json"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWriteActivity_GroupedByRepoChronological(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	events := []models.ContributionEvent{
		{GitHubUser: "bob", Kind: models.EventPRMerged, Repo: "zeta", CreatedAt: base.Add(time.Hour),
			Payload: map[string]any{models.PayloadPRNumber: 9, models.PayloadTitle: "Fix parser"}},
		{GitHubUser: "alice", Kind: models.EventIssueOpened, Repo: "alpha", CreatedAt: base,
			Payload: map[string]any{models.PayloadIssueNumber: 2}},
		{GitHubUser: "carol", Kind: models.EventComment, Repo: "alpha", CreatedAt: base.Add(-time.Hour)},
	}
	require.NoError(t, WriteActivity(dir, events))

	data, err := os.ReadFile(filepath.Join(dir, "activity.md"))
	require.NoError(t, err)
	out := string(data)

	alphaIdx := strings.Index(out, "## alpha")
	zetaIdx := strings.Index(out, "## zeta")
	require.Greater(t, alphaIdx, 0)
	assert.Less(t, alphaIdx, zetaIdx, "repos in lexical order")

	carolIdx := strings.Index(out, "comment by carol")
	aliceIdx := strings.Index(out, "issue_opened by alice (#2)")
	assert.Less(t, carolIdx, aliceIdx, "events in chronological order")
	assert.Contains(t, out, "pr_merged by bob (#9) Fix parser")
}
