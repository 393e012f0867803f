package models

import "time"

// IdentityLink is one row of the identity ledger: a claim by a Discord user
// on a GitHub username, possibly verified. Primary key is the
// (DiscordUserID, GitHubUser) pair.
type IdentityLink struct {
	DiscordUserID    string
	GitHubUser       string
	Verified         bool
	VerificationCode string // present only while pending
	ExpiresAt        *time.Time
	CreatedAt        time.Time
	VerifiedAt       *time.Time // set exactly once, on the pending->verified transition
	UnlinkedAt       *time.Time
}

// Pending reports whether the link is an unverified claim.
func (l IdentityLink) Pending() bool { return !l.Verified && l.UnlinkedAt == nil }

// IdentityMapping is a resolved Discord<->GitHub pair used by the engine.
type IdentityMapping struct {
	DiscordUserID string
	GitHubUser    string
}
