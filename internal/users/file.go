package users

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// FileStore reads accounts from a JSON file at construction time. The file
// is a flat array of User objects with bcrypt password hashes.
type FileStore struct {
	mu         sync.RWMutex
	byUsername map[string]*User
	bySubject  map[string]*User
}

// NewFileStore loads and indexes the account file.
func NewFileStore(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read user file: %w", err)
	}

	var accounts []User
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("failed to parse user file: %w", err)
	}

	s := &FileStore{
		byUsername: make(map[string]*User, len(accounts)),
		bySubject:  make(map[string]*User, len(accounts)),
	}
	for i := range accounts {
		user := &accounts[i]
		if user.SubjectID == "" || user.Username == "" {
			return nil, fmt.Errorf("user entry %d is missing subject_id or username", i)
		}
		if _, dup := s.byUsername[user.Username]; dup {
			return nil, fmt.Errorf("duplicate username %q", user.Username)
		}
		s.byUsername[user.Username] = user
		s.bySubject[user.SubjectID] = user
	}
	return s, nil
}

func (s *FileStore) Verify(_ context.Context, username, password string) (string, error) {
	s.mu.RLock()
	user, ok := s.byUsername[username]
	s.mu.RUnlock()
	if !ok {
		// Burn a bcrypt comparison anyway so unknown usernames are not
		// distinguishable by response time.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return user.SubjectID, nil
}

func (s *FileStore) Claims(_ context.Context, subjectID string) (map[string]string, error) {
	s.mu.RLock()
	user, ok := s.bySubject[subjectID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown subject %q", subjectID)
	}
	claims := make(map[string]string)
	if user.Name != "" {
		claims["name"] = user.Name
	}
	if user.Email != "" {
		claims["email"] = user.Email
	}
	claims["preferred_username"] = user.Username
	return claims, nil
}

func (s *FileStore) Close() error { return nil }
