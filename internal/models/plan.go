package models

// RoleOp is a planned change to a Discord role.
type RoleOp string

const (
	RoleGrant  RoleOp = "grant"
	RoleRevoke RoleOp = "revoke"
)

// RoleEvidence is the machine-readable rationale attached to a role plan.
type RoleEvidence struct {
	GitHubUser     string `json:"github_user"`
	Decision       string `json:"decision"` // "score_rules", "merge_rules", or both comma-joined
	Score          *int   `json:"score,omitempty"`
	ScoreThreshold *int   `json:"score_threshold,omitempty"`
	MergeCount     *int   `json:"merged_pr_count,omitempty"`
	MergeThreshold *int   `json:"merge_threshold,omitempty"`
}

// RolePlan is one proposed Discord role change.
type RolePlan struct {
	DiscordUserID string       `json:"discord_user_id"`
	Role          string       `json:"role"`
	Op            RoleOp       `json:"op"`
	Reason        string       `json:"reason"`
	Evidence      RoleEvidence `json:"evidence"`
}

// AssignTargetKind distinguishes issue assignment from review requests.
type AssignTargetKind string

const (
	TargetIssue       AssignTargetKind = "issue"
	TargetPullRequest AssignTargetKind = "pull_request"
)

// AssignOp is the operation an assignment plan performs.
type AssignOp string

const (
	OpAssign        AssignOp = "assign"
	OpRequestReview AssignOp = "request_review"
)

// AssignmentPlan is one proposed GitHub issue assignment or review request.
type AssignmentPlan struct {
	Repo         string           `json:"repo"`
	TargetKind   AssignTargetKind `json:"target_kind"`
	TargetNumber int              `json:"target_number"`
	Assignee     string           `json:"assignee"`
	Op           AssignOp         `json:"op"`
	Reason       string           `json:"reason"`
	Eligible     []string         `json:"eligible,omitempty"`
}
