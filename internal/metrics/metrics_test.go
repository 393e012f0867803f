package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/repbot/internal/models"
)

var (
	start = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	end   = time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)
)

func ev(user string, kind models.EventKind, at time.Time) models.ContributionEvent {
	return models.ContributionEvent{GitHubUser: user, Kind: kind, Repo: "core", CreatedAt: at}
}

func TestCompute_CountsAndEngagement(t *testing.T) {
	inWindow := start.Add(time.Hour)
	events := []models.ContributionEvent{
		ev("alice", models.EventIssueOpened, inWindow),
		ev("alice", models.EventIssueOpened, inWindow),
		ev("alice", models.EventComment, inWindow),
		ev("alice", models.EventPRMerged, inWindow),
		ev("bob", models.EventComment, inWindow),
		ev("bob", models.EventPRReviewed, inWindow),
		ev("carol", models.EventIssueOpened, end.Add(time.Hour)), // outside window
	}

	got := Compute(events, start, end)
	require.Len(t, got, 2)

	assert.Equal(t, "alice", got[0].GitHubUser)
	assert.Equal(t, 2, got[0].IssuesOpened)
	assert.Equal(t, 1, got[0].Comments)
	assert.Equal(t, 1, got[0].PRsMerged)
	assert.InDelta(t, 2.5, got[0].IssueEngagement, 1e-9)

	assert.Equal(t, "bob", got[1].GitHubUser)
	assert.Equal(t, 1, got[1].Reviews)
	assert.InDelta(t, 0.5, got[1].IssueEngagement, 1e-9)
}

func TestCompute_TiesBrokenByName(t *testing.T) {
	inWindow := start.Add(time.Hour)
	events := []models.ContributionEvent{
		ev("zed", models.EventIssueOpened, inWindow),
		ev("amy", models.EventIssueOpened, inWindow),
	}
	got := Compute(events, start, end)
	require.Len(t, got, 2)
	assert.Equal(t, "amy", got[0].GitHubUser)
	assert.Equal(t, "zed", got[1].GitHubUser)
}

func TestCompute_Empty(t *testing.T) {
	assert.Empty(t, Compute(nil, start, end))
}
