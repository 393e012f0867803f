package models

import "time"

// Score is the quality-adjusted point total for one GitHub user over one
// scoring window. One row per (user, window); recomputed and overwritten
// every run, not an event log.
type Score struct {
	GitHubUser  string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Points      int // may be negative
	ComputedAt  time.Time
}
