// Package identity implements the chat-to-GitHub linking ledger: one-time
// code claims, profile-based verification, unlinking with a cooldown, and
// run-time resolution of the mapping set.
package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/joescharf/repbot/internal/config"
	"github.com/joescharf/repbot/internal/models"
	"github.com/joescharf/repbot/internal/store"
)

var (
	// ErrAlreadyVerified is returned when the exact pair is already linked.
	ErrAlreadyVerified = errors.New("identity already verified")
	// ErrHandleTaken is returned when the GitHub user is verified to a
	// different Discord user.
	ErrHandleTaken = errors.New("github user already linked to another account")
	// ErrChatIdentityTaken is returned when the Discord user is verified to
	// a different GitHub user.
	ErrChatIdentityTaken = errors.New("discord user already linked to another github user")
	// ErrClaimInProgress is returned when another Discord user holds an
	// unexpired claim on the GitHub user.
	ErrClaimInProgress = errors.New("another claim for this github user is in progress")
	// ErrCooldownActive is returned when the Discord user unlinked too
	// recently to claim again.
	ErrCooldownActive = errors.New("unlink cooldown active")
	// ErrClaimNotFound is returned when verification finds no claim for the
	// pair.
	ErrClaimNotFound = errors.New("no claim found")
	// ErrNotVerified is returned when unlinking a Discord user with no
	// verified link.
	ErrNotVerified = errors.New("no verified link")
)

const codeLength = 10

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ProfileReader checks whether a verification code is publicly visible on a
// GitHub account (profile bio or a public gist).
type ProfileReader interface {
	CodeVisible(ctx context.Context, githubUser, code string) (bool, error)
}

// VerifyStatus is the outcome of a verification attempt.
type VerifyStatus string

const (
	VerifyOK             VerifyStatus = "verified"
	VerifyAlreadyLinked  VerifyStatus = "already_verified"
	VerifyNotFound       VerifyStatus = "not_found"
	VerifyExpired        VerifyStatus = "expired"
	VerifyCodeNotVisible VerifyStatus = "code_not_visible"
)

// VerifyResult reports the outcome of Verify along with the link row when
// one exists.
type VerifyResult struct {
	Status VerifyStatus
	Link   *models.IdentityLink
}

// ResolutionSource tags where a resolved mapping set came from.
type ResolutionSource string

const (
	SourceVerified ResolutionSource = "verified"
	SourceFallback ResolutionSource = "fallback"
	SourceFailed   ResolutionSource = "failed"
)

// Resolution is the mapping set a run operates on.
type Resolution struct {
	Source   ResolutionSource
	Mappings []models.IdentityMapping
}

// Ledger drives the claim/verify/unlink state machine on top of the store.
type Ledger struct {
	store    store.Store
	profile  ProfileReader
	ttl      time.Duration
	cooldown time.Duration
	onFault  config.StorageFaultPolicy
	fallback []models.IdentityMapping
	log      zerolog.Logger

	now     func() time.Time
	newCode func() (string, error)
}

// NewLedger builds a ledger from the run configuration.
func NewLedger(s store.Store, profile ProfileReader, cfg config.IdentityConfig, fallback []models.IdentityMapping, log zerolog.Logger) *Ledger {
	return &Ledger{
		store:    s,
		profile:  profile,
		ttl:      cfg.ClaimTTL,
		cooldown: cfg.UnlinkCooldown,
		onFault:  cfg.OnStorageFault,
		fallback: fallback,
		log:      log.With().Str("component", "identity").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		newCode:  generateCode,
	}
}

// generateCode returns a fresh one-time verification code.
func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// CreateClaim starts (or restarts) a pending claim for the pair and returns
// the link row carrying the one-time code. Re-claiming by the same Discord
// user rotates the code and resets the expiry.
func (l *Ledger) CreateClaim(ctx context.Context, discordUserID, githubUser string) (*models.IdentityLink, error) {
	now := l.now()

	if existing, err := l.store.GetVerifiedByGitHubUser(ctx, githubUser); err == nil {
		if existing.DiscordUserID == discordUserID {
			return nil, ErrAlreadyVerified
		}
		return nil, ErrHandleTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("create claim: %w", err)
	}

	if _, err := l.store.GetVerifiedByDiscordUser(ctx, discordUserID); err == nil {
		return nil, ErrChatIdentityTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("create claim: %w", err)
	}

	if l.cooldown > 0 {
		last, err := l.store.LastUnlinkedAt(ctx, discordUserID)
		if err != nil {
			return nil, fmt.Errorf("create claim: %w", err)
		}
		if last != nil && now.Before(last.Add(l.cooldown)) {
			return nil, fmt.Errorf("%w until %s", ErrCooldownActive, last.Add(l.cooldown).Format(time.RFC3339))
		}
	}

	if err := l.store.PurgeExpiredClaims(ctx, githubUser, now); err != nil {
		return nil, fmt.Errorf("create claim: %w", err)
	}
	if active, err := l.store.ActivePendingClaim(ctx, githubUser, now); err == nil {
		if active.DiscordUserID != discordUserID {
			return nil, ErrClaimInProgress
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("create claim: %w", err)
	}

	code, err := l.newCode()
	if err != nil {
		return nil, err
	}
	expires := now.Add(l.ttl)
	link := &models.IdentityLink{
		DiscordUserID:    discordUserID,
		GitHubUser:       githubUser,
		VerificationCode: code,
		ExpiresAt:        &expires,
		CreatedAt:        now,
	}
	if err := l.store.UpsertClaim(ctx, link); err != nil {
		if errors.Is(err, store.ErrConstraint) {
			return nil, ErrAlreadyVerified
		}
		return nil, fmt.Errorf("create claim: %w", err)
	}

	l.audit(ctx, discordUserID, models.AuditClaimCreated, map[string]any{
		"github_user": githubUser,
		"expires_at":  expires.Format(time.RFC3339),
	})
	return link, nil
}

// Verify checks the claimed GitHub account for the one-time code and, when
// found, promotes the claim to a verified link. Verification is idempotent:
// re-verifying an already linked pair reports success without a new write.
func (l *Ledger) Verify(ctx context.Context, discordUserID, githubUser string) (*VerifyResult, error) {
	now := l.now()

	link, err := l.store.GetIdentityLink(ctx, discordUserID, githubUser)
	if errors.Is(err, store.ErrNotFound) {
		l.audit(ctx, discordUserID, models.AuditVerifyNotFound, map[string]any{"github_user": githubUser})
		return &VerifyResult{Status: VerifyNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	if link.Verified {
		return &VerifyResult{Status: VerifyAlreadyLinked, Link: link}, nil
	}

	if link.ExpiresAt == nil || !now.Before(*link.ExpiresAt) {
		l.audit(ctx, discordUserID, models.AuditVerifyExpired, map[string]any{"github_user": githubUser})
		return &VerifyResult{Status: VerifyExpired, Link: link}, nil
	}

	visible, err := l.profile.CodeVisible(ctx, githubUser, link.VerificationCode)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	if !visible {
		return &VerifyResult{Status: VerifyCodeNotVisible, Link: link}, nil
	}

	if err := l.store.MarkVerified(ctx, discordUserID, githubUser, now); err != nil {
		if errors.Is(err, store.ErrConstraint) {
			// Lost the race: someone else verified this GitHub user first.
			return nil, ErrHandleTaken
		}
		if errors.Is(err, store.ErrNotFound) {
			// Benign race: a concurrent verify of the same pair won.
			verified, gerr := l.store.GetIdentityLink(ctx, discordUserID, githubUser)
			if gerr == nil && verified.Verified {
				return &VerifyResult{Status: VerifyAlreadyLinked, Link: verified}, nil
			}
			return nil, ErrClaimNotFound
		}
		return nil, fmt.Errorf("verify: %w", err)
	}

	l.audit(ctx, discordUserID, models.AuditVerified, map[string]any{"github_user": githubUser})
	l.log.Info().Str("discord_user_id", discordUserID).Str("github_user", githubUser).Msg("identity verified")

	verified, err := l.store.GetIdentityLink(ctx, discordUserID, githubUser)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	return &VerifyResult{Status: VerifyOK, Link: verified}, nil
}

// Unlink severs the Discord user's verified link and starts the cooldown.
func (l *Ledger) Unlink(ctx context.Context, discordUserID string) (*models.IdentityLink, error) {
	now := l.now()
	link, err := l.store.MarkUnlinked(ctx, discordUserID, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotVerified
		}
		return nil, fmt.Errorf("unlink: %w", err)
	}
	l.audit(ctx, discordUserID, models.AuditUnlinked, map[string]any{"github_user": link.GitHubUser})
	return link, nil
}

// Resolve returns the mapping set for a run. Verified ledger rows win; the
// static config mappings serve only when the ledger holds no verified rows.
// A storage fault degrades per the configured policy.
func (l *Ledger) Resolve(ctx context.Context) Resolution {
	mappings, err := l.store.ListVerifiedMappings(ctx)
	if err != nil {
		if l.onFault == config.FailClosed {
			l.log.Error().Err(err).Msg("identity storage fault, resolving to empty set")
			return Resolution{Source: SourceFailed}
		}
		l.log.Warn().Err(err).Msg("identity storage fault, using fallback mappings")
		return Resolution{Source: SourceFallback, Mappings: l.fallback}
	}
	if len(mappings) == 0 {
		return Resolution{Source: SourceFallback, Mappings: l.fallback}
	}
	return Resolution{Source: SourceVerified, Mappings: mappings}
}

func (l *Ledger) audit(ctx context.Context, actorID, kind string, context map[string]any) {
	ev := models.AuditEvent{
		ActorType: models.ActorDiscordUser,
		ActorID:   actorID,
		Kind:      kind,
		Context:   context,
	}
	if err := l.store.AppendAuditEvent(ctx, ev); err != nil {
		l.log.Warn().Err(err).Str("kind", kind).Msg("audit write failed")
	}
}
