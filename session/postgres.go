package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// postgresSchema creates the sessions table
const postgresSchema = `
	CREATE TABLE IF NOT EXISTS auth_sessions (
		id UUID PRIMARY KEY,
		subject VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL DEFAULT '',
		username VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(100) NOT NULL DEFAULT '',
		id_token TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_auth_sessions_expires_at ON auth_sessions(expires_at);
`

// PostgresStore keeps sessions in the auth_sessions table
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens a lib/pq connection pool for the given DSN
func OpenPostgres(dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
	return db, nil
}

// NewPostgresStore wraps an open pool
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InitSchema creates the sessions table if needed
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create auth_sessions table: %w", err)
	}
	return nil
}

// Save upserts a session
func (s *PostgresStore) Save(ctx context.Context, sess *Session) error {
	query := `
		INSERT INTO auth_sessions (id, subject, email, username, role, id_token, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			subject = EXCLUDED.subject,
			email = EXCLUDED.email,
			username = EXCLUDED.username,
			role = EXCLUDED.role,
			id_token = EXCLUDED.id_token,
			expires_at = EXCLUDED.expires_at
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.Subject, sess.Email, sess.Username, sess.Role, sess.IDToken,
		sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%w: save session: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads a live session
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `
		SELECT id, subject, email, username, role, id_token, created_at, expires_at
		FROM auth_sessions
		WHERE id = $1 AND expires_at > $2
	`
	var sess Session
	err := s.db.QueryRowContext(ctx, query, id, time.Now().UTC()).Scan(
		&sess.ID, &sess.Subject, &sess.Email, &sess.Username, &sess.Role,
		&sess.IDToken, &sess.CreatedAt, &sess.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get session: %v", ErrUnavailable, err)
	}
	return &sess, nil
}

// Touch moves the expiry of a live session
func (s *PostgresStore) Touch(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	query := `UPDATE auth_sessions SET expires_at = $1 WHERE id = $2 AND expires_at > $3`
	result, err := s.db.ExecContext(ctx, query, expiresAt.UTC(), id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: touch session: %v", ErrUnavailable, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: touch session: %v", ErrUnavailable, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteExpired purges sessions that expired before now and returns how many were removed
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: purge sessions: %v", ErrUnavailable, err)
	}
	return result.RowsAffected()
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
