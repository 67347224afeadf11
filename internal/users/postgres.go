package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// PostgresStore looks up accounts in a quartz_users table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database and applies the schema.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Verify(ctx context.Context, username, password string) (string, error) {
	var subjectID, passwordHash string
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_id, password_hash FROM quartz_users WHERE username = $1`, username,
	).Scan(&subjectID, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return subjectID, nil
}

func (s *PostgresStore) Claims(ctx context.Context, subjectID string) (map[string]string, error) {
	var username string
	var name, email sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT username, name, email FROM quartz_users WHERE subject_id = $1`, subjectID,
	).Scan(&username, &name, &email)
	if err != nil {
		return nil, err
	}
	claims := map[string]string{"preferred_username": username}
	if name.Valid {
		claims["name"] = name.String
	}
	if email.Valid {
		claims["email"] = email.String
	}
	return claims, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS quartz_users (
		subject_id VARCHAR(255) PRIMARY KEY,
		username VARCHAR(255) NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name TEXT,
		email TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	`
	_, err := s.db.Exec(query)
	return err
}
