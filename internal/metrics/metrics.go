// Package metrics derives read-only per-user contribution counts from the
// stored event history. Metrics never feed back into scoring or planning.
package metrics

import (
	"sort"
	"time"

	"github.com/joescharf/repbot/internal/models"
)

// Issue engagement weighs opened issues heavier than discussion.
const (
	issueWeight   = 1.0
	commentWeight = 0.5
)

// UserMetrics are the contribution counts for one GitHub user in a window.
type UserMetrics struct {
	GitHubUser      string
	IssuesOpened    int
	IssuesClosed    int
	PRsOpened       int
	PRsMerged       int
	Reviews         int
	Comments        int
	IssueEngagement float64
}

// Compute tallies per-user metrics over [start, end], ranked by issue
// engagement descending with ties broken by name.
func Compute(events []models.ContributionEvent, start, end time.Time) []UserMetrics {
	byUser := make(map[string]*UserMetrics)
	get := func(user string) *UserMetrics {
		m, ok := byUser[user]
		if !ok {
			m = &UserMetrics{GitHubUser: user}
			byUser[user] = m
		}
		return m
	}

	for _, ev := range events {
		if ev.CreatedAt.Before(start) || ev.CreatedAt.After(end) {
			continue
		}
		switch ev.Kind {
		case models.EventIssueOpened:
			get(ev.GitHubUser).IssuesOpened++
		case models.EventIssueClosed:
			get(ev.GitHubUser).IssuesClosed++
		case models.EventPROpened:
			get(ev.GitHubUser).PRsOpened++
		case models.EventPRMerged:
			get(ev.GitHubUser).PRsMerged++
		case models.EventPRReviewed:
			get(ev.GitHubUser).Reviews++
		case models.EventComment:
			get(ev.GitHubUser).Comments++
		}
	}

	out := make([]UserMetrics, 0, len(byUser))
	for _, m := range byUser {
		m.IssueEngagement = issueWeight*float64(m.IssuesOpened) + commentWeight*float64(m.Comments)
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssueEngagement != out[j].IssueEngagement {
			return out[i].IssueEngagement > out[j].IssueEngagement
		}
		return out[i].GitHubUser < out[j].GitHubUser
	})
	return out
}
