package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects a pgx-backed *sql.DB and verifies the connection. The pool
// stays small; the gallery is read-heavy and every read is served from the
// in-memory snapshot, so the database mostly sees writes and session checks.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- artworks -------------------------------------------------------------

func (s *PostgresStore) ListArtworks(ctx context.Context) ([]Artwork, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, medium, url, created_at FROM artworks`)
	if err != nil {
		return nil, fmt.Errorf("list artworks: %w", err)
	}
	defer rows.Close()

	var items []Artwork
	for rows.Next() {
		var a Artwork
		if err := rows.Scan(&a.ID, &a.Title, &a.Medium, &a.URL, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artwork: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetArtwork(ctx context.Context, id string) (Artwork, error) {
	var a Artwork
	err := s.db.QueryRowContext(ctx, `SELECT id, title, medium, url, created_at FROM artworks WHERE id=$1`, id).
		Scan(&a.ID, &a.Title, &a.Medium, &a.URL, &a.CreatedAt)
	if err != nil {
		return Artwork{}, err
	}
	return a, nil
}

func (s *PostgresStore) InsertArtwork(ctx context.Context, a Artwork) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artworks (id, title, medium, url, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.Title, a.Medium, a.URL, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert artwork: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateArtwork(ctx context.Context, id, title, medium string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE artworks SET title=$2, medium=$3 WHERE id=$1`, id, title, medium)
	if err != nil {
		return fmt.Errorf("update artwork: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update artwork: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteArtwork(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM artworks WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete artwork: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertArtworkRevision(ctx context.Context, rev ArtworkRevision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artwork_revisions (artwork_id, title, medium, edited_by)
		VALUES ($1, $2, $3, $4)
	`, rev.ArtworkID, rev.Title, rev.Medium, rev.EditedBy)
	if err != nil {
		return fmt.Errorf("insert artwork revision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListArtworkRevisions(ctx context.Context, artworkID string) ([]ArtworkRevision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, artwork_id, title, medium, edited_by, created_at
		FROM artwork_revisions
		WHERE artwork_id=$1
		ORDER BY created_at DESC, id DESC
	`, artworkID)
	if err != nil {
		return nil, fmt.Errorf("list artwork revisions: %w", err)
	}
	defer rows.Close()

	var revisions []ArtworkRevision
	for rows.Next() {
		var rev ArtworkRevision
		if err := rows.Scan(&rev.ID, &rev.ArtworkID, &rev.Title, &rev.Medium, &rev.EditedBy, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artwork revision: %w", err)
		}
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

// --- users ----------------------------------------------------------------

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, is_email_verified
		FROM users
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, is_email_verified
		FROM users
		WHERE id=$1
	`, id).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, user.ID, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3 WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL
		WHERE verification_token=$1
			AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, ident SessionIdentity, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, email, anonymous, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_hash) DO UPDATE
			SET user_id=EXCLUDED.user_id, email=EXCLUDED.email, anonymous=EXCLUDED.anonymous,
				expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, ident.UserID, ident.Email, ident.Anonymous, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (SessionIdentity, error) {
	var ident SessionIdentity
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, anonymous
		FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&ident.UserID, &ident.Email, &ident.Anonymous)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionIdentity{}, fmt.Errorf("session not found or expired")
		}
		return SessionIdentity{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return ident, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// --- access token revocation ----------------------------------------------

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
