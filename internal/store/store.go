package store

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/repbot/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConstraint is returned when a write violates a uniqueness constraint,
// e.g. two verified ledger rows racing for the same GitHub user.
var ErrConstraint = errors.New("constraint violation")

// Store defines the persistence interface for repbot. Contribution and
// audit rows are append-only; score rows are overwritten per run; identity
// link rows change only through the claim/verify/unlink transitions driven
// by the identity ledger.
type Store interface {
	// Contributions (append-only)
	AppendContributions(ctx context.Context, events []models.ContributionEvent) (int, error)
	ListContributions(ctx context.Context, since time.Time) ([]models.ContributionEvent, error)

	// Scores
	UpsertScores(ctx context.Context, scores []models.Score) error
	ListScores(ctx context.Context) ([]models.Score, error)

	// Ingestion cursors
	GetCursor(ctx context.Context, source string) (*time.Time, error)
	SetCursor(ctx context.Context, source string, cursor time.Time) error

	// Identity ledger rows
	GetIdentityLink(ctx context.Context, discordUserID, githubUser string) (*models.IdentityLink, error)
	GetVerifiedByGitHubUser(ctx context.Context, githubUser string) (*models.IdentityLink, error)
	GetVerifiedByDiscordUser(ctx context.Context, discordUserID string) (*models.IdentityLink, error)
	ActivePendingClaim(ctx context.Context, githubUser string, now time.Time) (*models.IdentityLink, error)
	PurgeExpiredClaims(ctx context.Context, githubUser string, now time.Time) error
	UpsertClaim(ctx context.Context, link *models.IdentityLink) error
	MarkVerified(ctx context.Context, discordUserID, githubUser string, at time.Time) error
	MarkUnlinked(ctx context.Context, discordUserID string, at time.Time) (*models.IdentityLink, error)
	LastUnlinkedAt(ctx context.Context, discordUserID string) (*time.Time, error)
	ListVerifiedMappings(ctx context.Context) ([]models.IdentityMapping, error)

	// Audit trail (append-only)
	AppendAuditEvent(ctx context.Context, ev models.AuditEvent) error
	ListAuditEvents(ctx context.Context) ([]models.AuditEvent, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
