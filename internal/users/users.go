// Package users provides resource-owner credential verification and profile
// claims for identity tokens. Backends: a JSON file for development and
// Postgres for deployments.
package users

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrInvalidCredentials is the single failure result of Verify. It never
// distinguishes unknown username from wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// User is a stored resource-owner account. PasswordHash is a bcrypt hash.
type User struct {
	SubjectID    string `json:"subject_id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Store verifies resource-owner credentials and resolves profile claims.
// Lookups may hit a network store; callers pass the request context.
type Store interface {
	// Verify returns the subject id for a valid username/password pair and
	// ErrInvalidCredentials otherwise.
	Verify(ctx context.Context, username, password string) (string, error)
	// Claims returns the identity claims for a subject, keyed by claim type
	// (name, email, and so on).
	Claims(ctx context.Context, subjectID string) (map[string]string, error)
	Close() error
}

// FromEnv selects a user store backend: QUARTZ_USER_STORE=file|postgres.
// The file backend reads QUARTZ_USERS_PATH (default users.json); Postgres
// uses QUARTZ_DATABASE_URL with DATABASE_URL as fallback.
func FromEnv() (Store, error) {
	switch backend := os.Getenv("QUARTZ_USER_STORE"); backend {
	case "", "file":
		path := os.Getenv("QUARTZ_USERS_PATH")
		if path == "" {
			path = "users.json"
		}
		return NewFileStore(path)
	case "postgres":
		connString := os.Getenv("QUARTZ_DATABASE_URL")
		if connString == "" {
			connString = os.Getenv("DATABASE_URL")
		}
		if connString == "" {
			return nil, fmt.Errorf("QUARTZ_DATABASE_URL or DATABASE_URL is required for the postgres user store")
		}
		return NewPostgresStore(connString)
	default:
		return nil, fmt.Errorf("unknown user store backend %q", backend)
	}
}
