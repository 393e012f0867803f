package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	sqlite "modernc.org/sqlite"

	"github.com/joescharf/repbot/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// wrapConstraint maps SQLite uniqueness violations onto ErrConstraint so
// callers can distinguish a lost race from an I/O fault.
func wrapConstraint(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		// SQLITE_CONSTRAINT primary result code is 19.
		if se.Code()%256 == 19 {
			return fmt.Errorf("%s: %w: %v", op, ErrConstraint, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Contributions ---

func (s *SQLiteStore) AppendContributions(ctx context.Context, events []models.ContributionEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stored := 0
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return 0, fmt.Errorf("encode payload: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO contributions (github_user, kind, repo, created_at, payload_json)
			VALUES (?, ?, ?, ?, ?)`,
			ev.GitHubUser, string(ev.Kind), ev.Repo, ev.CreatedAt.UTC(), string(payload),
		)
		if err != nil {
			return 0, fmt.Errorf("append contribution: %w", err)
		}
		stored++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return stored, nil
}

func (s *SQLiteStore) ListContributions(ctx context.Context, since time.Time) ([]models.ContributionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT github_user, kind, repo, created_at, payload_json
		FROM contributions WHERE created_at >= ? ORDER BY created_at ASC, id ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []models.ContributionEvent
	for rows.Next() {
		var ev models.ContributionEvent
		var kind, payload string
		if err := rows.Scan(&ev.GitHubUser, &kind, &ev.Repo, &ev.CreatedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		ev.Kind = models.EventKind(kind)
		ev.CreatedAt = ev.CreatedAt.UTC()
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Scores ---

func (s *SQLiteStore) UpsertScores(ctx context.Context, scores []models.Score) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, sc := range scores {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scores (github_user, period_start, period_end, points, computed_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(github_user, period_start, period_end)
			DO UPDATE SET points = excluded.points, computed_at = excluded.computed_at`,
			sc.GitHubUser, sc.PeriodStart.UTC(), sc.PeriodEnd.UTC(), sc.Points, sc.ComputedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert score: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListScores(ctx context.Context) ([]models.Score, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT github_user, period_start, period_end, points, computed_at
		FROM scores ORDER BY points DESC, github_user ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scores []models.Score
	for rows.Next() {
		var sc models.Score
		if err := rows.Scan(&sc.GitHubUser, &sc.PeriodStart, &sc.PeriodEnd, &sc.Points, &sc.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		sc.PeriodStart = sc.PeriodStart.UTC()
		sc.PeriodEnd = sc.PeriodEnd.UTC()
		sc.ComputedAt = sc.ComputedAt.UTC()
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// --- Cursors ---

func (s *SQLiteStore) GetCursor(ctx context.Context, source string) (*time.Time, error) {
	var cursor time.Time
	err := s.db.QueryRowContext(ctx, "SELECT cursor FROM cursors WHERE source = ?", source).Scan(&cursor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	cursor = cursor.UTC()
	return &cursor, nil
}

func (s *SQLiteStore) SetCursor(ctx context.Context, source string, cursor time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors (source, cursor) VALUES (?, ?)
		ON CONFLICT(source) DO UPDATE SET cursor = excluded.cursor`,
		source, cursor.UTC(),
	)
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// --- Identity ledger ---

const identityColumns = `discord_user_id, github_user, verified, verification_code, expires_at, created_at, verified_at, unlinked_at`

func scanIdentityLink(row *sql.Row) (*models.IdentityLink, error) {
	link := &models.IdentityLink{}
	var verified int
	var code sql.NullString
	var expiresAt, verifiedAt, unlinkedAt sql.NullTime
	err := row.Scan(&link.DiscordUserID, &link.GitHubUser, &verified, &code,
		&expiresAt, &link.CreatedAt, &verifiedAt, &unlinkedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity link: %w", err)
	}
	link.Verified = verified == 1
	link.VerificationCode = code.String
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		link.ExpiresAt = &t
	}
	link.CreatedAt = link.CreatedAt.UTC()
	if verifiedAt.Valid {
		t := verifiedAt.Time.UTC()
		link.VerifiedAt = &t
	}
	if unlinkedAt.Valid {
		t := unlinkedAt.Time.UTC()
		link.UnlinkedAt = &t
	}
	return link, nil
}

func (s *SQLiteStore) GetIdentityLink(ctx context.Context, discordUserID, githubUser string) (*models.IdentityLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identity_links
		WHERE discord_user_id = ? AND github_user = ?`,
		discordUserID, githubUser,
	)
	return scanIdentityLink(row)
}

func (s *SQLiteStore) GetVerifiedByGitHubUser(ctx context.Context, githubUser string) (*models.IdentityLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identity_links
		WHERE github_user = ? AND verified = 1`,
		githubUser,
	)
	return scanIdentityLink(row)
}

func (s *SQLiteStore) GetVerifiedByDiscordUser(ctx context.Context, discordUserID string) (*models.IdentityLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identity_links
		WHERE discord_user_id = ? AND verified = 1`,
		discordUserID,
	)
	return scanIdentityLink(row)
}

func (s *SQLiteStore) ActivePendingClaim(ctx context.Context, githubUser string, now time.Time) (*models.IdentityLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identity_links
		WHERE github_user = ? AND verified = 0 AND unlinked_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1`,
		githubUser, now.UTC(),
	)
	return scanIdentityLink(row)
}

func (s *SQLiteStore) PurgeExpiredClaims(ctx context.Context, githubUser string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM identity_links
		WHERE github_user = ? AND verified = 0 AND unlinked_at IS NULL
		AND (expires_at IS NULL OR expires_at <= ?)`,
		githubUser, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("purge expired claims: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertClaim(ctx context.Context, link *models.IdentityLink) error {
	// The WHERE clause on the upsert is a storage-layer guard: a verified
	// row is never downgraded back to pending by a claim write.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_links
			(discord_user_id, github_user, verified, verification_code, expires_at, created_at, verified_at, unlinked_at)
		VALUES (?, ?, 0, ?, ?, ?, NULL, NULL)
		ON CONFLICT(discord_user_id, github_user) DO UPDATE SET
			verified = 0,
			verification_code = excluded.verification_code,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at,
			verified_at = NULL,
			unlinked_at = NULL
		WHERE identity_links.verified = 0`,
		link.DiscordUserID, link.GitHubUser, link.VerificationCode,
		link.ExpiresAt.UTC(), link.CreatedAt.UTC(),
	)
	if err != nil {
		return wrapConstraint("upsert claim", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("upsert claim: %w: row is already verified", ErrConstraint)
	}
	return nil
}

func (s *SQLiteStore) MarkVerified(ctx context.Context, discordUserID, githubUser string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identity_links
		SET verified = 1, verified_at = ?, verification_code = NULL, expires_at = NULL
		WHERE discord_user_id = ? AND github_user = ? AND verified = 0`,
		at.UTC(), discordUserID, githubUser,
	)
	if err != nil {
		return wrapConstraint("mark verified", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("mark verified: %w", ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) MarkUnlinked(ctx context.Context, discordUserID string, at time.Time) (*models.IdentityLink, error) {
	link, err := s.GetVerifiedByDiscordUser(ctx, discordUserID)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE identity_links
		SET verified = 0, verification_code = NULL, expires_at = NULL, unlinked_at = ?
		WHERE discord_user_id = ? AND github_user = ? AND verified = 1`,
		at.UTC(), discordUserID, link.GitHubUser,
	)
	if err != nil {
		return nil, fmt.Errorf("mark unlinked: %w", err)
	}
	unlinked := at.UTC()
	link.Verified = false
	link.UnlinkedAt = &unlinked
	return link, nil
}

func (s *SQLiteStore) LastUnlinkedAt(ctx context.Context, discordUserID string) (*time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(unlinked_at) FROM identity_links WHERE discord_user_id = ?`,
		discordUserID,
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last unlinked at: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time.UTC()
	return &t, nil
}

func (s *SQLiteStore) ListVerifiedMappings(ctx context.Context) ([]models.IdentityMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT discord_user_id, github_user FROM identity_links
		WHERE verified = 1 ORDER BY discord_user_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list verified mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mappings []models.IdentityMapping
	for rows.Next() {
		var m models.IdentityMapping
		if err := rows.Scan(&m.DiscordUserID, &m.GitHubUser); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// --- Audit trail ---

func (s *SQLiteStore) AppendAuditEvent(ctx context.Context, ev models.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = newULID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	contextJSON, err := json.Marshal(ev.Context)
	if err != nil {
		return fmt.Errorf("encode audit context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, ts, actor_type, actor_id, event_type, context_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Timestamp.UTC(), string(ev.ActorType), ev.ActorID, ev.Kind, string(contextJSON),
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAuditEvents(ctx context.Context) ([]models.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, actor_type, actor_id, event_type, context_json
		FROM audit_events ORDER BY ts ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		var actorType, contextJSON string
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &actorType, &ev.ActorID, &ev.Kind, &contextJSON); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.ActorType = models.ActorType(actorType)
		ev.Timestamp = ev.Timestamp.UTC()
		if err := json.Unmarshal([]byte(contextJSON), &ev.Context); err != nil {
			return nil, fmt.Errorf("decode audit context: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
