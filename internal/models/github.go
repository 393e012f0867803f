package models

// OpenIssue is an assignable open issue as seen by the GitHub reader.
type OpenIssue struct {
	Repo      string
	Number    int
	Title     string
	Assignees []string
}

// OpenPullRequest is an open PR eligible for review requests.
type OpenPullRequest struct {
	Repo      string
	Number    int
	Title     string
	Author    string
	Reviewers []string
}
