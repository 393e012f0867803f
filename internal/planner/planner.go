// Package planner diffs desired role and assignment state against current
// state and emits ordered plan actions. Planning is pure: identical inputs
// always produce an identical action list.
package planner

import (
	"fmt"
	"sort"

	"github.com/joescharf/repbot/internal/config"
	"github.com/joescharf/repbot/internal/models"
)

// RoleInputs collects everything PlanRoles diffs against.
type RoleInputs struct {
	Mappings     []models.IdentityMapping
	Scores       map[string]int           // by GitHub user
	MergeCounts  map[string]int           // distinct merged PRs by GitHub user
	CurrentRoles map[string][]string      // by Discord user ID
	RoleRules    []config.RoleRule
	MergeRules   []config.MergeRoleRule   // sorted ascending by threshold
}

// PlanRoles computes grant and revoke actions for every mapped identity.
// Score-rule roles are granted while the threshold holds and revoked when it
// no longer does; merge-tier roles are promotion-only and never revoked. The
// result is sorted by Discord user ID then role name.
func PlanRoles(in RoleInputs) []models.RolePlan {
	scoreRoles := make(map[string]bool, len(in.RoleRules))
	for _, r := range in.RoleRules {
		scoreRoles[r.Role] = true
	}

	var plans []models.RolePlan
	for _, m := range in.Mappings {
		score := in.Scores[m.GitHubUser]
		merges := in.MergeCounts[m.GitHubUser]
		current := toSet(in.CurrentRoles[m.DiscordUserID])

		desired := make(map[string]models.RoleEvidence)
		for _, rule := range in.RoleRules {
			if score >= rule.MinScore {
				s, th := score, rule.MinScore
				desired[rule.Role] = models.RoleEvidence{
					GitHubUser:     m.GitHubUser,
					Decision:       "score_rules",
					Score:          &s,
					ScoreThreshold: &th,
				}
			}
		}

		// The single highest merge tier whose threshold is met. Rules are
		// sorted ascending, so the last match wins.
		var mergeRole string
		mergeThreshold := 0
		for _, rule := range in.MergeRules {
			if merges >= rule.MinMergedPRs {
				mergeRole = rule.Role
				mergeThreshold = rule.MinMergedPRs
			}
		}
		if mergeRole != "" {
			c, th := merges, mergeThreshold
			if ev, ok := desired[mergeRole]; ok {
				ev.Decision = "score_rules,merge_rules"
				ev.MergeCount = &c
				ev.MergeThreshold = &th
				desired[mergeRole] = ev
			} else {
				desired[mergeRole] = models.RoleEvidence{
					GitHubUser:     m.GitHubUser,
					Decision:       "merge_rules",
					MergeCount:     &c,
					MergeThreshold: &th,
				}
			}
		}

		for role, ev := range desired {
			if current[role] {
				continue
			}
			plans = append(plans, models.RolePlan{
				DiscordUserID: m.DiscordUserID,
				Role:          role,
				Op:            models.RoleGrant,
				Reason:        grantReason(ev),
				Evidence:      ev,
			})
		}

		for role := range current {
			if !scoreRoles[role] {
				continue // not managed by the score rules
			}
			if _, ok := desired[role]; ok {
				continue
			}
			if role == mergeRole {
				continue
			}
			s := score
			th := scoreThreshold(in.RoleRules, role)
			plans = append(plans, models.RolePlan{
				DiscordUserID: m.DiscordUserID,
				Role:          role,
				Op:            models.RoleRevoke,
				Reason:        fmt.Sprintf("score %d below threshold %d", score, th),
				Evidence: models.RoleEvidence{
					GitHubUser:     m.GitHubUser,
					Decision:       "score_rules",
					Score:          &s,
					ScoreThreshold: &th,
				},
			})
		}
	}

	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].DiscordUserID != plans[j].DiscordUserID {
			return plans[i].DiscordUserID < plans[j].DiscordUserID
		}
		return plans[i].Role < plans[j].Role
	})
	return plans
}

func grantReason(ev models.RoleEvidence) string {
	if ev.MergeThreshold != nil {
		return fmt.Sprintf("%d merged PRs meet threshold %d", *ev.MergeCount, *ev.MergeThreshold)
	}
	return fmt.Sprintf("score %d meets threshold %d", *ev.Score, *ev.ScoreThreshold)
}

func scoreThreshold(rules []config.RoleRule, role string) int {
	for _, r := range rules {
		if r.Role == role {
			return r.MinScore
		}
	}
	return 0
}

// AssignmentInputs collects everything PlanAssignments distributes over.
type AssignmentInputs struct {
	OpenIssues  []models.OpenIssue
	OpenPRs     []models.OpenPullRequest
	RoleMembers map[string][]string // role name -> GitHub users holding it
	Scores      map[string]int
	Rules       config.AssignmentRules
}

// PlanAssignments distributes unassigned open issues and unreviewed open PRs
// round-robin over the eligible users. Eligibility comes from role
// membership; the rotation order is highest score first, ties broken
// lexicographically. A PR author never reviews their own PR.
func PlanAssignments(in AssignmentInputs) []models.AssignmentPlan {
	var plans []models.AssignmentPlan

	issueEligible := eligibleUsers(in.RoleMembers, in.Rules.IssueRoles, in.Scores)
	if len(issueEligible) > 0 {
		issues := make([]models.OpenIssue, len(in.OpenIssues))
		copy(issues, in.OpenIssues)
		sort.Slice(issues, func(i, j int) bool {
			if issues[i].Repo != issues[j].Repo {
				return issues[i].Repo < issues[j].Repo
			}
			return issues[i].Number < issues[j].Number
		})

		next := 0
		for _, issue := range issues {
			if len(issue.Assignees) > 0 {
				continue
			}
			assignee := issueEligible[next%len(issueEligible)]
			next++
			plans = append(plans, models.AssignmentPlan{
				Repo:         issue.Repo,
				TargetKind:   models.TargetIssue,
				TargetNumber: issue.Number,
				Assignee:     assignee,
				Op:           models.OpAssign,
				Reason:       "round-robin over eligible issue workers",
				Eligible:     issueEligible,
			})
		}
	}

	reviewEligible := eligibleUsers(in.RoleMembers, in.Rules.ReviewRoles, in.Scores)
	if len(reviewEligible) > 0 {
		prs := make([]models.OpenPullRequest, len(in.OpenPRs))
		copy(prs, in.OpenPRs)
		sort.Slice(prs, func(i, j int) bool {
			if prs[i].Repo != prs[j].Repo {
				return prs[i].Repo < prs[j].Repo
			}
			return prs[i].Number < prs[j].Number
		})

		next := 0
		for _, pr := range prs {
			if len(pr.Reviewers) > 0 {
				continue
			}
			reviewer, ok := pickReviewer(reviewEligible, pr.Author, &next)
			if !ok {
				continue
			}
			plans = append(plans, models.AssignmentPlan{
				Repo:         pr.Repo,
				TargetKind:   models.TargetPullRequest,
				TargetNumber: pr.Number,
				Assignee:     reviewer,
				Op:           models.OpRequestReview,
				Reason:       "round-robin over eligible reviewers",
				Eligible:     reviewEligible,
			})
		}
	}

	return plans
}

// pickReviewer advances the rotation past the PR author.
func pickReviewer(eligible []string, author string, next *int) (string, bool) {
	for tries := 0; tries < len(eligible); tries++ {
		candidate := eligible[*next%len(eligible)]
		*next++
		if candidate != author {
			return candidate, true
		}
	}
	return "", false
}

// eligibleUsers unions the members of the named roles and orders them by
// score descending, then name.
func eligibleUsers(roleMembers map[string][]string, roles []string, scores map[string]int) []string {
	set := make(map[string]bool)
	for _, role := range roles {
		for _, user := range roleMembers[role] {
			set[user] = true
		}
	}
	users := make([]string, 0, len(set))
	for user := range set {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if scores[users[i]] != scores[users[j]] {
			return scores[users[i]] > scores[users[j]]
		}
		return users[i] < users[j]
	})
	return users
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
