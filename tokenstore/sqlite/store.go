// Package sqlite is a durable tokenstore.Store backed by a single SQLite file.
// Token values are sealed before they are written.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrsteele09/go-oauth-relay/internal/errors"
	"github.com/jrsteele09/go-oauth-relay/tokenstore"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_tokens (
	user_id     TEXT    NOT NULL,
	provider_id TEXT    NOT NULL,
	token       TEXT    NOT NULL,
	expires_at  INTEGER,
	written_at  INTEGER NOT NULL,
	PRIMARY KEY (user_id, provider_id)
);`

// A cleared key keeps its row with an empty token so that older writes
// arriving later stay ignored.
const upsertQuery = `
INSERT INTO user_tokens (user_id, provider_id, token, expires_at, written_at)
VALUES (?1, ?2, ?3, ?4, ?5)
ON CONFLICT (user_id, provider_id) DO UPDATE SET
	token = excluded.token,
	expires_at = excluded.expires_at,
	written_at = excluded.written_at
WHERE excluded.written_at >= user_tokens.written_at;`

const selectQuery = `
SELECT token, expires_at, written_at
FROM user_tokens
WHERE user_id = ?1 AND provider_id = ?2;`

const purgeQuery = `DELETE FROM user_tokens WHERE token = '' AND written_at < ?1;`

type Store struct {
	db     *sql.DB
	sealer *sealer
}

var _ tokenstore.Store = (*Store)(nil)

// Open opens (creating if needed) the token database at path.
func Open(path, secret string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	s, err := newSealer(secret)
	if err != nil {
		return nil, err
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data folder: %w", err)
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, sealer: s}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, userID, providerID string) (*tokenstore.Record, error) {
	if userID == "" || providerID == "" {
		return nil, fmt.Errorf("userID and providerID are required: %w", errors.ErrInvalidRequest)
	}

	var (
		sealed    string
		expiresAt sql.NullInt64
		writtenAt int64
	)
	err := s.db.QueryRowContext(ctx, selectQuery, userID, providerID).Scan(&sealed, &expiresAt, &writtenAt)
	if err == sql.ErrNoRows || (err == nil && sealed == "") {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select token: %w", err)
	}

	token, err := s.sealer.open(sealed, rowBinding(userID, providerID))
	if err != nil {
		return nil, err
	}
	rec := &tokenstore.Record{
		UserID:     userID,
		ProviderID: providerID,
		Token:      token,
		WrittenAt:  time.Unix(0, writtenAt).UTC(),
	}
	if expiresAt.Valid {
		exp := time.Unix(0, expiresAt.Int64).UTC()
		rec.ExpiresAt = &exp
	}
	if rec.Expired(tokenstore.NowTimeFunc()) {
		return nil, errors.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, rec tokenstore.Record) (bool, error) {
	if rec.UserID == "" || rec.ProviderID == "" {
		return false, fmt.Errorf("userID and providerID are required: %w", errors.ErrInvalidRequest)
	}
	if rec.Token == "" {
		return false, fmt.Errorf("token cannot be empty: %w", errors.ErrInvalidRequest)
	}
	sealed, err := s.sealer.seal(rec.Token, rowBinding(rec.UserID, rec.ProviderID))
	if err != nil {
		return false, err
	}
	var expiresAt sql.NullInt64
	if rec.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: rec.ExpiresAt.UnixNano(), Valid: true}
	}
	return s.upsert(ctx, rec.UserID, rec.ProviderID, sealed, expiresAt, rec.WrittenAt)
}

func (s *Store) Clear(ctx context.Context, userID, providerID string, at time.Time) error {
	_, err := s.upsert(ctx, userID, providerID, "", sql.NullInt64{}, at)
	return err
}

// PurgeCleared drops cleared rows older than before.
func (s *Store) PurgeCleared(ctx context.Context, before time.Time) error {
	if _, err := s.db.ExecContext(ctx, purgeQuery, before.UnixNano()); err != nil {
		return fmt.Errorf("purge cleared tokens: %w", err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, userID, providerID, sealed string, expiresAt sql.NullInt64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, upsertQuery, userID, providerID, sealed, expiresAt, at.UnixNano())
	if err != nil {
		return false, fmt.Errorf("upsert token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func rowBinding(userID, providerID string) string {
	return userID + "\x00" + providerID
}
