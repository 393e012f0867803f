package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/repbot/internal/config"
	"github.com/joescharf/repbot/internal/models"
)

var (
	roleRules = []config.RoleRule{
		{Role: "Contributor", MinScore: 0},
		{Role: "Trusted", MinScore: 10},
	}
	mergeRules = []config.MergeRoleRule{
		{Role: "Regular", MinMergedPRs: 3},
		{Role: "Core", MinMergedPRs: 10},
	}
	mappings = []models.IdentityMapping{
		{DiscordUserID: "100", GitHubUser: "alice"},
		{DiscordUserID: "200", GitHubUser: "bob"},
	}
)

func planFor(plans []models.RolePlan, discordID, role string) *models.RolePlan {
	for i := range plans {
		if plans[i].DiscordUserID == discordID && plans[i].Role == role {
			return &plans[i]
		}
	}
	return nil
}

func TestPlanRoles_GrantsOnThreshold(t *testing.T) {
	plans := PlanRoles(RoleInputs{
		Mappings:     mappings,
		Scores:       map[string]int{"alice": 12, "bob": 2},
		CurrentRoles: map[string][]string{},
		RoleRules:    roleRules,
	})

	require.Len(t, plans, 3)
	alice := planFor(plans, "100", "Trusted")
	require.NotNil(t, alice)
	assert.Equal(t, models.RoleGrant, alice.Op)
	assert.Equal(t, "score 12 meets threshold 10", alice.Reason)
	assert.Equal(t, "alice", alice.Evidence.GitHubUser)
	require.NotNil(t, alice.Evidence.Score)
	assert.Equal(t, 12, *alice.Evidence.Score)

	assert.NotNil(t, planFor(plans, "100", "Contributor"))
	assert.NotNil(t, planFor(plans, "200", "Contributor"))
	assert.Nil(t, planFor(plans, "200", "Trusted"))
}

func TestPlanRoles_NoOpWhenAlreadyHeld(t *testing.T) {
	plans := PlanRoles(RoleInputs{
		Mappings:     mappings[:1],
		Scores:       map[string]int{"alice": 5},
		CurrentRoles: map[string][]string{"100": {"Contributor"}},
		RoleRules:    roleRules,
	})
	assert.Empty(t, plans)
}

func TestPlanRoles_RevokesOnlyManagedScoreRoles(t *testing.T) {
	plans := PlanRoles(RoleInputs{
		Mappings:     mappings[:1],
		Scores:       map[string]int{"alice": -1},
		CurrentRoles: map[string][]string{"100": {"Contributor", "Moderator"}},
		RoleRules:    roleRules,
	})

	require.Len(t, plans, 1)
	assert.Equal(t, "Contributor", plans[0].Role)
	assert.Equal(t, models.RoleRevoke, plans[0].Op)
	assert.Equal(t, "score -1 below threshold 0", plans[0].Reason)
}

func TestPlanRoles_MergeTierPicksHighestOnly(t *testing.T) {
	plans := PlanRoles(RoleInputs{
		Mappings:     mappings[:1],
		Scores:       map[string]int{"alice": -5}, // below every score rule
		MergeCounts:  map[string]int{"alice": 11},
		CurrentRoles: map[string][]string{},
		RoleRules:    roleRules,
		MergeRules:   mergeRules,
	})

	require.Len(t, plans, 1)
	assert.Equal(t, "Core", plans[0].Role)
	assert.Equal(t, models.RoleGrant, plans[0].Op)
	assert.Equal(t, "11 merged PRs meet threshold 10", plans[0].Reason)
	assert.Equal(t, "merge_rules", plans[0].Evidence.Decision)
}

func TestPlanRoles_MergeTierNeverRevoked(t *testing.T) {
	// Merge count dropped below the Core threshold in this window. The
	// granted tier stays.
	plans := PlanRoles(RoleInputs{
		Mappings:     mappings[:1],
		Scores:       map[string]int{"alice": 0},
		MergeCounts:  map[string]int{"alice": 1},
		CurrentRoles: map[string][]string{"100": {"Contributor", "Core"}},
		RoleRules:    roleRules,
		MergeRules:   mergeRules,
	})
	assert.Empty(t, plans)
}

func TestPlanRoles_MergeDesiredBlocksScoreRevoke(t *testing.T) {
	// "Trusted" doubles as a merge tier here. Even though the score rule no
	// longer holds, the merge rule still wants it, so no revoke.
	plans := PlanRoles(RoleInputs{
		Mappings:     mappings[:1],
		Scores:       map[string]int{"alice": -5},
		MergeCounts:  map[string]int{"alice": 4},
		CurrentRoles: map[string][]string{"100": {"Trusted"}},
		RoleRules:    roleRules,
		MergeRules:   []config.MergeRoleRule{{Role: "Trusted", MinMergedPRs: 3}},
	})
	assert.Empty(t, plans)
}

func TestPlanRoles_AliceScenario(t *testing.T) {
	// Score -1 with rule {Contributor: 0}: no grant, prior grant revoked.
	plans := PlanRoles(RoleInputs{
		Mappings:     mappings[:1],
		Scores:       map[string]int{"alice": -1},
		CurrentRoles: map[string][]string{"100": {"Contributor"}},
		RoleRules:    []config.RoleRule{{Role: "Contributor", MinScore: 0}},
	})

	require.Len(t, plans, 1)
	assert.Equal(t, models.RoleRevoke, plans[0].Op)
	assert.Equal(t, "Contributor", plans[0].Role)
}

func TestPlanRoles_DeterministicOrdering(t *testing.T) {
	in := RoleInputs{
		Mappings: []models.IdentityMapping{
			{DiscordUserID: "200", GitHubUser: "bob"},
			{DiscordUserID: "100", GitHubUser: "alice"},
		},
		Scores:       map[string]int{"alice": 15, "bob": 15},
		CurrentRoles: map[string][]string{},
		RoleRules:    roleRules,
	}
	want := PlanRoles(in)
	require.Len(t, want, 4)
	assert.Equal(t, "100", want[0].DiscordUserID)
	assert.Equal(t, "Contributor", want[0].Role)
	assert.Equal(t, "Trusted", want[1].Role)
	assert.Equal(t, "200", want[2].DiscordUserID)

	for i := 0; i < 10; i++ {
		assert.Equal(t, want, PlanRoles(in))
	}
}

func TestPlanAssignments_RoundRobinSkipsAssigned(t *testing.T) {
	plans := PlanAssignments(AssignmentInputs{
		OpenIssues: []models.OpenIssue{
			{Repo: "core", Number: 1},
			{Repo: "core", Number: 2, Assignees: []string{"someone"}},
			{Repo: "core", Number: 3},
			{Repo: "core", Number: 4},
		},
		RoleMembers: map[string][]string{"Contributor": {"alice", "bob"}},
		Scores:      map[string]int{"alice": 5, "bob": 3},
		Rules:       config.AssignmentRules{IssueRoles: []string{"Contributor"}},
	})

	require.Len(t, plans, 3)
	assert.Equal(t, "alice", plans[0].Assignee, "highest score starts the rotation")
	assert.Equal(t, 1, plans[0].TargetNumber)
	assert.Equal(t, "bob", plans[1].Assignee)
	assert.Equal(t, 3, plans[1].TargetNumber)
	assert.Equal(t, "alice", plans[2].Assignee)
	assert.Equal(t, []string{"alice", "bob"}, plans[0].Eligible)
}

func TestPlanAssignments_ReviewerNeverAuthor(t *testing.T) {
	plans := PlanAssignments(AssignmentInputs{
		OpenPRs: []models.OpenPullRequest{
			{Repo: "core", Number: 7, Author: "alice"},
		},
		RoleMembers: map[string][]string{"Trusted": {"alice", "bob"}},
		Scores:      map[string]int{"alice": 10, "bob": 1},
		Rules:       config.AssignmentRules{ReviewRoles: []string{"Trusted"}},
	})

	require.Len(t, plans, 1)
	assert.Equal(t, models.OpRequestReview, plans[0].Op)
	assert.Equal(t, "bob", plans[0].Assignee)
}

func TestPlanAssignments_SoleEligibleAuthorSkipped(t *testing.T) {
	plans := PlanAssignments(AssignmentInputs{
		OpenPRs: []models.OpenPullRequest{
			{Repo: "core", Number: 7, Author: "alice"},
		},
		RoleMembers: map[string][]string{"Trusted": {"alice"}},
		Rules:       config.AssignmentRules{ReviewRoles: []string{"Trusted"}},
	})
	assert.Empty(t, plans)
}

func TestPlanAssignments_SkipsReviewedPRs(t *testing.T) {
	plans := PlanAssignments(AssignmentInputs{
		OpenPRs: []models.OpenPullRequest{
			{Repo: "core", Number: 7, Author: "alice", Reviewers: []string{"carol"}},
		},
		RoleMembers: map[string][]string{"Trusted": {"bob"}},
		Rules:       config.AssignmentRules{ReviewRoles: []string{"Trusted"}},
	})
	assert.Empty(t, plans)
}

func TestPlanAssignments_NoEligibleUsers(t *testing.T) {
	plans := PlanAssignments(AssignmentInputs{
		OpenIssues: []models.OpenIssue{{Repo: "core", Number: 1}},
		Rules:      config.AssignmentRules{IssueRoles: []string{"Contributor"}},
	})
	assert.Empty(t, plans)
}
