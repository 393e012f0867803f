// Package github adapts the gh CLI into the ingestion reader, the
// assignment writer, and the identity profile reader. All calls are
// synchronous request/response; a failed call surfaces as an error and the
// orchestrator decides how to degrade.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/joescharf/repbot/internal/config"
	"github.com/joescharf/repbot/internal/models"
)

// runner executes a gh invocation and returns trimmed stdout.
type runner func(ctx context.Context, args ...string) (string, error)

func ghRun(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "gh", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Client wraps the gh CLI for one GitHub organization.
type Client struct {
	org string
	run runner
	log zerolog.Logger
}

// NewClient returns a Client for the organization.
func NewClient(org string, log zerolog.Logger) *Client {
	return &Client{
		org: org,
		run: ghRun,
		log: log.With().Str("component", "github").Logger(),
	}
}

func (c *Client) repoPath(repo string) string {
	return fmt.Sprintf("%s/%s", c.org, repo)
}

// ListRepos returns the organization's repository names passing the filter.
func (c *Client) ListRepos(ctx context.Context, filter config.RepoFilter) ([]string, error) {
	out, err := c.run(ctx, "repo", "list", c.org, "--limit", "200", "--json", "name")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parse repo list: %w", err)
	}
	var repos []string
	for _, r := range raw {
		if filter.Match(r.Name) {
			repos = append(repos, r.Name)
		}
	}
	return repos, nil
}

type prRaw struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	MergedAt          time.Time `json:"mergedAt"`
	HeadRefName       string    `json:"headRefName"`
	StatusCheckRollup []struct {
		Conclusion string `json:"conclusion"`
	} `json:"statusCheckRollup"`
}

type issueRaw struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	ClosedAt  time.Time `json:"closedAt"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
}

type commentRaw struct {
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	IssueURL  string    `json:"issue_url"`
}

type reviewRaw struct {
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// GitHub's revert branches are named revert-<pr-number>-<original-branch>.
var revertBranchRe = regexp.MustCompile(`^revert-(\d+)-`)

// ContributionsSince pulls all contribution events for the filtered repos
// with timestamps after the cursor. A nil cursor means "everything".
func (c *Client) ContributionsSince(ctx context.Context, filter config.RepoFilter, since *time.Time) ([]models.ContributionEvent, error) {
	repos, err := c.ListRepos(ctx, filter)
	if err != nil {
		return nil, err
	}

	after := func(t time.Time) bool {
		return since == nil || t.After(*since)
	}

	var events []models.ContributionEvent
	for _, repo := range repos {
		merged, err := c.mergedPRs(ctx, repo)
		if err != nil {
			return nil, err
		}
		issues, err := c.issues(ctx, repo)
		if err != nil {
			return nil, err
		}
		issueAuthors := make(map[int]string, len(issues))
		for _, is := range issues {
			issueAuthors[is.Number] = is.Author.Login
		}

		for _, pr := range merged {
			if after(pr.MergedAt) {
				events = append(events, mergedPREvents(repo, pr)...)
			}
			if m := revertBranchRe.FindStringSubmatch(pr.HeadRefName); m != nil && after(pr.MergedAt) {
				target, _ := strconv.Atoi(m[1])
				ev, err := c.revertedEvent(ctx, repo, target, pr.MergedAt)
				if err != nil {
					c.log.Warn().Err(err).Str("repo", repo).Int("pr", target).Msg("skipping revert attribution")
					continue
				}
				events = append(events, ev)
			}
		}

		for _, is := range issues {
			if after(is.CreatedAt) {
				events = append(events, models.ContributionEvent{
					GitHubUser: is.Author.Login,
					Kind:       models.EventIssueOpened,
					Repo:       repo,
					CreatedAt:  is.CreatedAt.UTC(),
					Payload: map[string]any{
						models.PayloadIssueNumber: is.Number,
						models.PayloadTitle:       is.Title,
					},
				})
			}
			if !is.ClosedAt.IsZero() && after(is.ClosedAt) {
				events = append(events, models.ContributionEvent{
					GitHubUser: is.Author.Login,
					Kind:       models.EventIssueClosed,
					Repo:       repo,
					CreatedAt:  is.ClosedAt.UTC(),
					Payload:    map[string]any{models.PayloadIssueNumber: is.Number},
				})
			}
		}

		comments, err := c.comments(ctx, repo, since)
		if err != nil {
			return nil, err
		}
		for _, cm := range comments {
			if !after(cm.CreatedAt) {
				continue
			}
			number := issueNumberFromURL(cm.IssueURL)
			events = append(events, models.ContributionEvent{
				GitHubUser: cm.User.Login,
				Kind:       models.EventComment,
				Repo:       repo,
				CreatedAt:  cm.CreatedAt.UTC(),
				Payload: map[string]any{
					models.PayloadIssueNumber: number,
					models.PayloadHelpful:     helpfulComment(cm.User.Login, issueAuthors[number]),
				},
			})
		}

		for _, pr := range merged {
			reviews, err := c.reviews(ctx, repo, pr.Number)
			if err != nil {
				return nil, err
			}
			for _, rv := range reviews {
				if !after(rv.SubmittedAt) {
					continue
				}
				events = append(events, models.ContributionEvent{
					GitHubUser: rv.User.Login,
					Kind:       models.EventPRReviewed,
					Repo:       repo,
					CreatedAt:  rv.SubmittedAt.UTC(),
					Payload: map[string]any{
						models.PayloadPRNumber: pr.Number,
						models.PayloadState:    rv.State,
					},
				})
			}
		}
	}
	return events, nil
}

// mergedPREvents derives the merge event, plus the failed-CI quality signal
// when any status check on the merged PR concluded FAILURE.
func mergedPREvents(repo string, pr prRaw) []models.ContributionEvent {
	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.Name)
	}
	events := []models.ContributionEvent{{
		GitHubUser: pr.Author.Login,
		Kind:       models.EventPRMerged,
		Repo:       repo,
		CreatedAt:  pr.MergedAt.UTC(),
		Payload: map[string]any{
			models.PayloadPRNumber: pr.Number,
			models.PayloadTitle:    pr.Title,
			models.PayloadLabels:   labels,
		},
	}}
	for _, check := range pr.StatusCheckRollup {
		if strings.EqualFold(check.Conclusion, "failure") {
			events = append(events, models.ContributionEvent{
				GitHubUser: pr.Author.Login,
				Kind:       models.EventPRMergedFailedCI,
				Repo:       repo,
				CreatedAt:  pr.MergedAt.UTC(),
				Payload:    map[string]any{models.PayloadPRNumber: pr.Number},
			})
			break
		}
	}
	return events
}

// revertedEvent attributes a revert to the original PR's author.
func (c *Client) revertedEvent(ctx context.Context, repo string, number int, at time.Time) (models.ContributionEvent, error) {
	out, err := c.run(ctx, "pr", "view", strconv.Itoa(number),
		"--repo", c.repoPath(repo), "--json", "author")
	if err != nil {
		return models.ContributionEvent{}, err
	}
	var raw struct {
		Author struct {
			Login string `json:"login"`
		} `json:"author"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return models.ContributionEvent{}, fmt.Errorf("parse reverted PR: %w", err)
	}
	return models.ContributionEvent{
		GitHubUser: raw.Author.Login,
		Kind:       models.EventPRReverted,
		Repo:       repo,
		CreatedAt:  at.UTC(),
		Payload:    map[string]any{models.PayloadPRNumber: number},
	}, nil
}

func (c *Client) mergedPRs(ctx context.Context, repo string) ([]prRaw, error) {
	out, err := c.run(ctx, "pr", "list",
		"--repo", c.repoPath(repo),
		"--state", "merged",
		"--limit", "200",
		"--json", "number,title,author,labels,mergedAt,headRefName,statusCheckRollup")
	if err != nil {
		return nil, err
	}
	var prs []prRaw
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse merged PRs: %w", err)
	}
	return prs, nil
}

func (c *Client) issues(ctx context.Context, repo string) ([]issueRaw, error) {
	out, err := c.run(ctx, "issue", "list",
		"--repo", c.repoPath(repo),
		"--state", "all",
		"--limit", "200",
		"--json", "number,title,author,createdAt,closedAt,assignees")
	if err != nil {
		return nil, err
	}
	var issues []issueRaw
	if err := json.Unmarshal([]byte(out), &issues); err != nil {
		return nil, fmt.Errorf("parse issues: %w", err)
	}
	return issues, nil
}

func (c *Client) comments(ctx context.Context, repo string, since *time.Time) ([]commentRaw, error) {
	path := fmt.Sprintf("repos/%s/issues/comments?per_page=100", c.repoPath(repo))
	if since != nil {
		path += "&since=" + since.UTC().Format(time.RFC3339)
	}
	out, err := c.run(ctx, "api", path)
	if err != nil {
		return nil, err
	}
	var comments []commentRaw
	if err := json.Unmarshal([]byte(out), &comments); err != nil {
		return nil, fmt.Errorf("parse comments: %w", err)
	}
	return comments, nil
}

func (c *Client) reviews(ctx context.Context, repo string, number int) ([]reviewRaw, error) {
	out, err := c.run(ctx, "api", fmt.Sprintf("repos/%s/pulls/%d/reviews", c.repoPath(repo), number))
	if err != nil {
		return nil, err
	}
	var reviews []reviewRaw
	if err := json.Unmarshal([]byte(out), &reviews); err != nil {
		return nil, fmt.Errorf("parse reviews: %w", err)
	}
	return reviews, nil
}

// helpfulComment marks a comment as bonus-eligible: not by the item author
// and not automated.
func helpfulComment(commenter, itemAuthor string) bool {
	if commenter == "" || commenter == itemAuthor {
		return false
	}
	return !strings.HasSuffix(commenter, "[bot]")
}

// issueNumberFromURL extracts the trailing number from an API issue URL.
func issueNumberFromURL(url string) int {
	idx := strings.LastIndex(url, "/")
	if idx < 0 {
		return 0
	}
	n, _ := strconv.Atoi(url[idx+1:])
	return n
}

// OpenIssues lists open issues in the filtered repos.
func (c *Client) OpenIssues(ctx context.Context, filter config.RepoFilter) ([]models.OpenIssue, error) {
	repos, err := c.ListRepos(ctx, filter)
	if err != nil {
		return nil, err
	}
	var open []models.OpenIssue
	for _, repo := range repos {
		out, err := c.run(ctx, "issue", "list",
			"--repo", c.repoPath(repo),
			"--state", "open",
			"--limit", "200",
			"--json", "number,title,assignees")
		if err != nil {
			return nil, err
		}
		var raw []issueRaw
		if err := json.Unmarshal([]byte(out), &raw); err != nil {
			return nil, fmt.Errorf("parse open issues: %w", err)
		}
		for _, is := range raw {
			assignees := make([]string, 0, len(is.Assignees))
			for _, a := range is.Assignees {
				assignees = append(assignees, a.Login)
			}
			open = append(open, models.OpenIssue{
				Repo:      repo,
				Number:    is.Number,
				Title:     is.Title,
				Assignees: assignees,
			})
		}
	}
	return open, nil
}

type openPRRaw struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
	ReviewRequests []struct {
		Login string `json:"login"`
	} `json:"reviewRequests"`
}

// OpenPullRequests lists open PRs in the filtered repos.
func (c *Client) OpenPullRequests(ctx context.Context, filter config.RepoFilter) ([]models.OpenPullRequest, error) {
	repos, err := c.ListRepos(ctx, filter)
	if err != nil {
		return nil, err
	}
	var open []models.OpenPullRequest
	for _, repo := range repos {
		out, err := c.run(ctx, "pr", "list",
			"--repo", c.repoPath(repo),
			"--state", "open",
			"--limit", "200",
			"--json", "number,title,author,reviewRequests")
		if err != nil {
			return nil, err
		}
		var raw []openPRRaw
		if err := json.Unmarshal([]byte(out), &raw); err != nil {
			return nil, fmt.Errorf("parse open PRs: %w", err)
		}
		for _, pr := range raw {
			reviewers := make([]string, 0, len(pr.ReviewRequests))
			for _, r := range pr.ReviewRequests {
				reviewers = append(reviewers, r.Login)
			}
			open = append(open, models.OpenPullRequest{
				Repo:      repo,
				Number:    pr.Number,
				Title:     pr.Title,
				Author:    pr.Author.Login,
				Reviewers: reviewers,
			})
		}
	}
	return open, nil
}

// AssignIssue adds an assignee to an issue.
func (c *Client) AssignIssue(ctx context.Context, repo string, number int, user string) error {
	_, err := c.run(ctx, "issue", "edit", strconv.Itoa(number),
		"--repo", c.repoPath(repo), "--add-assignee", user)
	return err
}

// RequestReview adds a review request to a PR.
func (c *Client) RequestReview(ctx context.Context, repo string, number int, user string) error {
	_, err := c.run(ctx, "pr", "edit", strconv.Itoa(number),
		"--repo", c.repoPath(repo), "--add-reviewer", user)
	return err
}
