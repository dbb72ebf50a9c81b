package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		profile_id         INTEGER PRIMARY KEY AUTOINCREMENT,
		preferred_username TEXT UNIQUE NOT NULL,
		display_name       TEXT NOT NULL DEFAULT '',
		summary            TEXT NOT NULL DEFAULT '',
		private_key_pem    TEXT NOT NULL,
		created_at         TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		post_id    INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id INTEGER NOT NULL REFERENCES profiles(profile_id) ON DELETE CASCADE,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS posts_by_profile ON posts (profile_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS known_actors (
		actor_id           TEXT PRIMARY KEY,
		url                TEXT NOT NULL DEFAULT '',
		name               TEXT NOT NULL DEFAULT '',
		preferred_username TEXT NOT NULL DEFAULT '',
		summary            TEXT NOT NULL DEFAULT '',
		inbox              TEXT NOT NULL,
		outbox             TEXT NOT NULL DEFAULT '',
		updated_at         TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS followers (
		profile_id INTEGER NOT NULL REFERENCES profiles(profile_id) ON DELETE CASCADE,
		actor_id   TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (profile_id, actor_id)
	)`,
	`CREATE TABLE IF NOT EXISTS following (
		profile_id INTEGER NOT NULL REFERENCES profiles(profile_id) ON DELETE CASCADE,
		actor_id   TEXT NOT NULL,
		follow_id  TEXT NOT NULL DEFAULT '',
		accepted   INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		PRIMARY KEY (profile_id, actor_id)
	)`,
}

// SQLiteStore implements Store using a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func now() time.Time { return time.Now().UTC() }

// --- Profiles ---

func (s *SQLiteStore) CreateProfile(ctx context.Context, p *Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (preferred_username, display_name, summary, private_key_pem, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.PreferredUsername, p.DisplayName, p.Summary, p.PrivateKeyPEM, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

const profileColumns = `profile_id, preferred_username, display_name, summary, private_key_pem, created_at`

func (s *SQLiteStore) GetProfile(ctx context.Context, id int64) (*Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE profile_id = ?`, id))
}

func (s *SQLiteStore) GetProfileByUsername(ctx context.Context, username string) (*Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE preferred_username = ?`, username))
}

func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY profile_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var profiles []*Profile
	for rows.Next() {
		p, err := s.scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanProfile(row scanner) (*Profile, error) {
	var p Profile
	var created string
	if err := row.Scan(&p.ID, &p.PreferredUsername, &p.DisplayName, &p.Summary, &p.PrivateKeyPEM, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

// --- Posts ---

func (s *SQLiteStore) CreatePost(ctx context.Context, p *Post) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (profile_id, content, created_at) VALUES (?, ?, ?)`,
		p.ProfileID, p.Content, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) GetPost(ctx context.Context, id int64) (*Post, error) {
	var p Post
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT post_id, profile_id, content, created_at FROM posts WHERE post_id = ?`, id).
		Scan(&p.ID, &p.ProfileID, &p.Content, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

func (s *SQLiteStore) CountPosts(ctx context.Context, profileID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM posts WHERE profile_id = ?`, profileID).Scan(&n)
	return n, err
}

// ListPosts returns a profile's posts newest first.
func (s *SQLiteStore) ListPosts(ctx context.Context, profileID int64, limit, offset int) ([]*Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, profile_id, content, created_at FROM posts
		 WHERE profile_id = ?
		 ORDER BY created_at DESC, post_id DESC
		 LIMIT ? OFFSET ?`, profileID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var posts []*Post
	for rows.Next() {
		var p Post
		var created string
		if err := rows.Scan(&p.ID, &p.ProfileID, &p.Content, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}

// --- Known actors ---

func (s *SQLiteStore) UpsertKnownActor(ctx context.Context, a *KnownActor) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO known_actors (actor_id, url, name, preferred_username, summary, inbox, outbox, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (actor_id) DO UPDATE SET
			url = excluded.url,
			name = excluded.name,
			preferred_username = excluded.preferred_username,
			summary = excluded.summary,
			inbox = excluded.inbox,
			outbox = excluded.outbox,
			updated_at = excluded.updated_at`,
		a.ActorID, a.URL, a.Name, a.PreferredUsername, a.Summary, a.Inbox, a.Outbox, formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert known actor: %w", err)
	}
	return nil
}

const actorColumns = `a.actor_id, a.url, a.name, a.preferred_username, a.summary, a.inbox, a.outbox, a.updated_at`

func (s *SQLiteStore) GetKnownActor(ctx context.Context, actorID string) (*KnownActor, error) {
	a, err := scanActor(s.db.QueryRowContext(ctx,
		`SELECT `+actorColumns+` FROM known_actors a WHERE a.actor_id = ?`, actorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func scanActor(row scanner) (*KnownActor, error) {
	var a KnownActor
	var updated string
	if err := row.Scan(&a.ActorID, &a.URL, &a.Name, &a.PreferredUsername, &a.Summary, &a.Inbox, &a.Outbox, &updated); err != nil {
		return nil, err
	}
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}

// --- Followers ---

// AddFollower records that actorID follows profileID. It reports whether a
// new edge was created; an existing edge is left untouched.
func (s *SQLiteStore) AddFollower(ctx context.Context, profileID int64, actorID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO followers (profile_id, actor_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (profile_id, actor_id) DO NOTHING`,
		profileID, actorID, formatTime(now()))
	if err != nil {
		return false, fmt.Errorf("insert follower: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveFollower deletes the edge and reports whether one existed.
func (s *SQLiteStore) RemoveFollower(ctx context.Context, profileID int64, actorID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM followers WHERE profile_id = ? AND actor_id = ?`, profileID, actorID)
	if err != nil {
		return false, fmt.Errorf("delete follower: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) ListFollowers(ctx context.Context, profileID int64) ([]*KnownActor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+actorColumns+` FROM followers f
		 JOIN known_actors a USING (actor_id)
		 WHERE f.profile_id = ?
		 ORDER BY f.created_at, a.actor_id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var actors []*KnownActor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}

// ListFollowerInboxes returns the distinct inboxes of a profile's followers.
func (s *SQLiteStore) ListFollowerInboxes(ctx context.Context, profileID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT a.inbox FROM followers f
		 JOIN known_actors a USING (actor_id)
		 WHERE f.profile_id = ? AND a.inbox != ''
		 ORDER BY a.inbox`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var inboxes []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return nil, err
		}
		inboxes = append(inboxes, inbox)
	}
	return inboxes, rows.Err()
}

// --- Following ---

// AddFollowing records an outbound follow. Following an actor again
// replaces the pending Follow id and resets acceptance.
func (s *SQLiteStore) AddFollowing(ctx context.Context, f *Following) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO following (profile_id, actor_id, follow_id, accepted, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (profile_id, actor_id) DO UPDATE SET
			follow_id = excluded.follow_id,
			accepted = excluded.accepted`,
		f.ProfileID, f.ActorID, f.FollowID, f.Accepted, formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert following: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFollowing(ctx context.Context, profileID int64, actorID string) (*Following, error) {
	var f Following
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile_id, actor_id, follow_id, accepted, created_at FROM following
		 WHERE profile_id = ? AND actor_id = ?`, profileID, actorID).
		Scan(&f.ProfileID, &f.ActorID, &f.FollowID, &f.Accepted, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	f.CreatedAt = parseTime(created)
	return &f, nil
}

func (s *SQLiteStore) AcceptFollowing(ctx context.Context, profileID int64, actorID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE following SET accepted = 1 WHERE profile_id = ? AND actor_id = ?`, profileID, actorID)
	if err != nil {
		return false, fmt.Errorf("accept following: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) RemoveFollowing(ctx context.Context, profileID int64, actorID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM following WHERE profile_id = ? AND actor_id = ?`, profileID, actorID)
	if err != nil {
		return false, fmt.Errorf("delete following: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListFollowing returns outbound follows with their cached actor, when known.
func (s *SQLiteStore) ListFollowing(ctx context.Context, profileID int64) ([]*Following, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.profile_id, f.actor_id, f.follow_id, f.accepted, f.created_at,
			a.url, a.name, a.preferred_username, a.summary, a.inbox, a.outbox, a.updated_at
		 FROM following f
		 LEFT JOIN known_actors a USING (actor_id)
		 WHERE f.profile_id = ?
		 ORDER BY f.created_at, f.actor_id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*Following
	for rows.Next() {
		var f Following
		var created string
		var url, name, username, summary, inbox, outbox, updated sql.NullString
		if err := rows.Scan(&f.ProfileID, &f.ActorID, &f.FollowID, &f.Accepted, &created,
			&url, &name, &username, &summary, &inbox, &outbox, &updated); err != nil {
			return nil, err
		}
		f.CreatedAt = parseTime(created)
		if inbox.Valid {
			f.Actor = &KnownActor{
				ActorID:           f.ActorID,
				URL:               url.String,
				Name:              name.String,
				PreferredUsername: username.String,
				Summary:           summary.String,
				Inbox:             inbox.String,
				Outbox:            outbox.String,
				UpdatedAt:         parseTime(updated.String),
			}
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
