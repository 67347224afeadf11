package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/quartzid/quartz/internal/oauth"
)

const purgeInterval = 5 * time.Minute

// PostgresStore backs the token store with Postgres. One-time consumption
// takes a row lock and deletes inside a single transaction, so concurrent
// redemptions of the same value serialize to exactly one winner. Expired
// rows are swept by a background purge statement.
type PostgresStore struct {
	db   *sql.DB
	done chan struct{}
}

// NewPostgresStore opens the database, applies the schema, and starts the
// purge loop.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{db: db, done: make(chan struct{})}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	go s.purgeLoop()
	return s, nil
}

func (s *PostgresStore) PutCode(ctx context.Context, code *oauth.AuthorizationCode) error {
	query := `
		INSERT INTO quartz_auth_codes
			(code_hash, client_id, subject_id, scopes, redirect_uri, code_challenge, code_challenge_method, nonce, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`
	_, err := s.db.ExecContext(ctx, query,
		code.CodeHash,
		code.ClientID,
		code.SubjectID,
		pq.Array(code.Scopes),
		code.RedirectURI,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.Nonce,
		code.CreatedAt,
		code.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) TakeCode(ctx context.Context, codeHash string) (*oauth.AuthorizationCode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT code_hash, client_id, subject_id, scopes, redirect_uri, code_challenge, code_challenge_method, nonce, created_at, expires_at
		FROM quartz_auth_codes
		WHERE code_hash = $1 AND expires_at > NOW()
		FOR UPDATE
	`
	var code oauth.AuthorizationCode
	var scopes []string
	err = tx.QueryRowContext(ctx, query, codeHash).Scan(
		&code.CodeHash,
		&code.ClientID,
		&code.SubjectID,
		pq.Array(&scopes),
		&code.RedirectURI,
		&code.CodeChallenge,
		&code.CodeChallengeMethod,
		&code.Nonce,
		&code.CreatedAt,
		&code.ExpiresAt,
	)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	code.Scopes = scopes

	if _, err := tx.ExecContext(ctx, `DELETE FROM quartz_auth_codes WHERE code_hash = $1`, codeHash); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &code, nil
}

func (s *PostgresStore) PutRefresh(ctx context.Context, token *oauth.RefreshToken) error {
	query := `
		INSERT INTO quartz_refresh_tokens
			(token_hash, client_id, subject_id, scopes, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err := s.db.ExecContext(ctx, query,
		token.TokenHash,
		token.ClientID,
		token.SubjectID,
		pq.Array(token.Scopes),
		token.CreatedAt,
		token.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) GetRefresh(ctx context.Context, tokenHash string) (*oauth.RefreshToken, error) {
	query := `
		SELECT token_hash, client_id, subject_id, scopes, created_at, expires_at
		FROM quartz_refresh_tokens
		WHERE token_hash = $1 AND expires_at > NOW()
	`
	var token oauth.RefreshToken
	var scopes []string
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.TokenHash,
		&token.ClientID,
		&token.SubjectID,
		pq.Array(&scopes),
		&token.CreatedAt,
		&token.ExpiresAt,
	)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	token.Scopes = scopes
	return &token, nil
}

func (s *PostgresStore) TakeRefresh(ctx context.Context, tokenHash string) (*oauth.RefreshToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT token_hash, client_id, subject_id, scopes, created_at, expires_at
		FROM quartz_refresh_tokens
		WHERE token_hash = $1 AND expires_at > NOW()
		FOR UPDATE
	`
	var token oauth.RefreshToken
	var scopes []string
	err = tx.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.TokenHash,
		&token.ClientID,
		&token.SubjectID,
		pq.Array(&scopes),
		&token.CreatedAt,
		&token.ExpiresAt,
	)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	token.Scopes = scopes

	if _, err := tx.ExecContext(ctx, `DELETE FROM quartz_refresh_tokens WHERE token_hash = $1`, tokenHash); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *PostgresStore) ExtendRefresh(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE quartz_refresh_tokens SET expires_at = $1 WHERE token_hash = $2 AND expires_at > NOW()`,
		expiresAt, tokenHash,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return oauth.ErrTokenNotFound
	}
	return nil
}

func (s *PostgresStore) RevokeRefresh(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM quartz_refresh_tokens WHERE token_hash = $1`, tokenHash)
	return err
}

func (s *PostgresStore) DenyJTI(ctx context.Context, jti string, until time.Time) error {
	query := `
		INSERT INTO quartz_denied_jtis (jti, denied_until)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO UPDATE SET denied_until = EXCLUDED.denied_until
	`
	_, err := s.db.ExecContext(ctx, query, jti, until)
	return err
}

func (s *PostgresStore) IsJTIDenied(ctx context.Context, jti string) (bool, error) {
	var until time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT denied_until FROM quartz_denied_jtis WHERE jti = $1`, jti,
	).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return time.Now().Before(until), nil
}

func (s *PostgresStore) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.db.Close()
}

func (s *PostgresStore) purgeLoop() {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			for _, query := range []string{
				`DELETE FROM quartz_auth_codes WHERE expires_at < NOW()`,
				`DELETE FROM quartz_refresh_tokens WHERE expires_at < NOW()`,
				`DELETE FROM quartz_denied_jtis WHERE denied_until < NOW()`,
			} {
				if _, err := s.db.Exec(query); err != nil {
					slog.Warn("token store purge failed", "error", err)
				}
			}
		}
	}
}

func (s *PostgresStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS quartz_auth_codes (
		code_hash TEXT PRIMARY KEY,
		client_id VARCHAR(255) NOT NULL,
		subject_id VARCHAR(255) NOT NULL,
		scopes TEXT[] NOT NULL,
		redirect_uri TEXT NOT NULL,
		code_challenge TEXT,
		code_challenge_method TEXT,
		nonce TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quartz_refresh_tokens (
		token_hash TEXT PRIMARY KEY,
		client_id VARCHAR(255) NOT NULL,
		subject_id VARCHAR(255) NOT NULL,
		scopes TEXT[] NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quartz_denied_jtis (
		jti TEXT PRIMARY KEY,
		denied_until TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_quartz_auth_codes_expires ON quartz_auth_codes(expires_at);
	CREATE INDEX IF NOT EXISTS idx_quartz_refresh_tokens_expires ON quartz_refresh_tokens(expires_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func mapSQLErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return oauth.ErrTokenNotFound
	}
	return err
}
