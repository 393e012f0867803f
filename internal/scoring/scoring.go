// Package scoring computes quality-adjusted contribution scores. Compute is
// a pure function: no clock reads, no randomness, and output independent of
// input event ordering.
package scoring

import (
	"sort"
	"strings"
	"time"

	"github.com/joescharf/repbot/internal/config"
	"github.com/joescharf/repbot/internal/models"
)

// Penalty and bonus rule keys looked up in the scoring config.
const (
	PenaltyRevertedPR    = "reverted_pr"
	PenaltyFailedCIMerge = "failed_ci_merge"
	BonusPRReview        = "pr_review"
	BonusHelpfulComment  = "helpful_comment"
)

// helpfulCommentCap limits how many comment bonuses one user can earn on a
// single item.
const helpfulCommentCap = 5

// itemKey identifies one (user, item) pair for dedup and capping.
type itemKey struct {
	user   string
	repo   string
	number int
}

// Compute scores every user with in-window events. Base points accrue only
// on merges: a merged PR scores the maximum matching difficulty-label weight,
// or the default merge weight when no configured label matches. Penalties
// apply at most once per (user, item) per penalty kind; review bonuses apply
// once per approved (user, item); helpful-comment bonuses are capped per
// (user, item).
func Compute(events []models.ContributionEvent, rules config.ScoringRules, start, end, computedAt time.Time) []models.Score {
	points := make(map[string]int)

	penalized := map[string]map[itemKey]bool{
		PenaltyRevertedPR:    {},
		PenaltyFailedCIMerge: {},
	}
	reviewed := make(map[itemKey]bool)
	helpful := make(map[itemKey]int)

	for _, ev := range events {
		if ev.CreatedAt.Before(start) || ev.CreatedAt.After(end) {
			continue
		}
		key := itemKey{user: ev.GitHubUser, repo: ev.Repo, number: ev.TargetNumber()}

		switch ev.Kind {
		case models.EventPRMerged:
			points[ev.GitHubUser] += mergePoints(ev, rules)

		case models.EventPRReverted:
			if seen := penalized[PenaltyRevertedPR]; !seen[key] {
				seen[key] = true
				points[ev.GitHubUser] += rules.Penalties[PenaltyRevertedPR]
			}

		case models.EventPRMergedFailedCI:
			if seen := penalized[PenaltyFailedCIMerge]; !seen[key] {
				seen[key] = true
				points[ev.GitHubUser] += rules.Penalties[PenaltyFailedCIMerge]
			}

		case models.EventPRReviewed:
			if !strings.EqualFold(ev.PayloadString(models.PayloadState), "approved") {
				continue
			}
			if !reviewed[key] {
				reviewed[key] = true
				points[ev.GitHubUser] += rules.Bonuses[BonusPRReview]
			}

		case models.EventComment:
			if !ev.PayloadBool(models.PayloadHelpful) {
				continue
			}
			if helpful[key] < helpfulCommentCap {
				helpful[key]++
				points[ev.GitHubUser] += rules.Bonuses[BonusHelpfulComment]
			}
		}
	}

	scores := make([]models.Score, 0, len(points))
	for user, total := range points {
		scores = append(scores, models.Score{
			GitHubUser:  user,
			PeriodStart: start,
			PeriodEnd:   end,
			Points:      total,
			ComputedAt:  computedAt,
		})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Points != scores[j].Points {
			return scores[i].Points > scores[j].Points
		}
		return scores[i].GitHubUser < scores[j].GitHubUser
	})
	return scores
}

// mergePoints returns the base score for one merged PR. A recognized
// difficulty label scores its configured weight; with several matches the
// maximum wins, never the sum.
func mergePoints(ev models.ContributionEvent, rules config.ScoringRules) int {
	best := 0
	found := false
	for _, label := range ev.PayloadStrings(models.PayloadLabels) {
		if w, ok := rules.DifficultyWeights[strings.ToLower(label)]; ok {
			if !found || w > best {
				best = w
				found = true
			}
		}
	}
	if found {
		return best
	}
	return rules.Weights[string(models.EventPRMerged)]
}

// MergeCounts counts distinct merged PRs per user inside the window. The
// merge-tier role rules consume these counts.
func MergeCounts(events []models.ContributionEvent, start, end time.Time) map[string]int {
	seen := make(map[itemKey]bool)
	counts := make(map[string]int)
	for _, ev := range events {
		if ev.Kind != models.EventPRMerged {
			continue
		}
		if ev.CreatedAt.Before(start) || ev.CreatedAt.After(end) {
			continue
		}
		key := itemKey{user: ev.GitHubUser, repo: ev.Repo, number: ev.TargetNumber()}
		if !seen[key] {
			seen[key] = true
			counts[ev.GitHubUser]++
		}
	}
	return counts
}
