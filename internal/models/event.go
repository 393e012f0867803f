package models

import "time"

// EventKind classifies a contribution event.
type EventKind string

const (
	EventIssueOpened   EventKind = "issue_opened"
	EventIssueClosed   EventKind = "issue_closed"
	EventPROpened      EventKind = "pr_opened"
	EventPRMerged      EventKind = "pr_merged"
	EventPRReviewed    EventKind = "pr_reviewed"
	EventComment       EventKind = "comment"
	EventIssueAssigned EventKind = "issue_assigned"

	// Quality signals. Ingested like any other event but only consumed
	// by the scoring penalty pass.
	EventPRReverted       EventKind = "pr_reverted"
	EventPRMergedFailedCI EventKind = "pr_merged_with_failed_ci"
)

// ContributionEvent is a single observed GitHub contribution. Events are
// immutable: they are created by ingestion, appended to storage once, and
// never modified afterwards.
type ContributionEvent struct {
	GitHubUser string
	Kind       EventKind
	Repo       string
	CreatedAt  time.Time // UTC
	Payload    map[string]any
}

// Common payload keys used by scoring and reporting.
const (
	PayloadPRNumber    = "pr_number"
	PayloadIssueNumber = "issue_number"
	PayloadTitle       = "title"
	PayloadState       = "state"
	PayloadAuthor      = "author"
	PayloadLabels      = "difficulty_labels"
	PayloadHelpful     = "helpful"
)

// TargetNumber returns the issue or PR number an event refers to, or 0.
func (e ContributionEvent) TargetNumber() int {
	for _, key := range []string{PayloadPRNumber, PayloadIssueNumber} {
		switch v := e.Payload[key].(type) {
		case int:
			if v != 0 {
				return v
			}
		case int64:
			if v != 0 {
				return int(v)
			}
		case float64:
			if v != 0 {
				return int(v)
			}
		}
	}
	return 0
}

// PayloadString returns a string payload field, or "".
func (e ContributionEvent) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// PayloadBool returns a bool payload field, or false.
func (e ContributionEvent) PayloadBool(key string) bool {
	b, _ := e.Payload[key].(bool)
	return b
}

// PayloadStrings returns a string-slice payload field, tolerating the
// []any shape produced by JSON round-trips.
func (e ContributionEvent) PayloadStrings(key string) []string {
	switch v := e.Payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
