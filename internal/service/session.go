package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/noah-isme/classroom-client/internal/models"
)

// SessionStore is the scoped persistent key-value contract backing a Session.
type SessionStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Session is the single owner of the durable session keys. Reads are open to
// any component; writes are unexported so only AuthService (token, user) and
// ClassroomSessionService (classroom id) can mutate it.
type Session struct {
	mu    sync.RWMutex
	store SessionStore
}

// NewSession wraps store.
func NewSession(store SessionStore) *Session {
	return &Session{store: store}
}

// Token returns the stored auth token, or "" when signed out.
func (s *Session) Token(ctx context.Context) (string, error) {
	return s.get(ctx, models.SessionKeyToken)
}

// User returns the stored user. A missing or undecodable entry yields nil.
func (s *Session) User(ctx context.Context) (*models.User, error) {
	raw, err := s.get(ctx, models.SessionKeyUser)
	if err != nil || raw == "" {
		return nil, err
	}
	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, nil
	}
	return &user, nil
}

// ClassroomID returns the persisted current classroom id, or "".
func (s *Session) ClassroomID(ctx context.Context) (string, error) {
	return s.get(ctx, models.SessionKeyClassroomID)
}

func (s *Session) get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read session %s: %w", key, err)
	}
	if !ok {
		return "", nil
	}
	return value, nil
}

func (s *Session) setCredentials(ctx context.Context, token string, user models.User) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode session user: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Set(ctx, models.SessionKeyToken, token); err != nil {
		return fmt.Errorf("write session token: %w", err)
	}
	if err := s.store.Set(ctx, models.SessionKeyUser, string(payload)); err != nil {
		return fmt.Errorf("write session user: %w", err)
	}
	return nil
}

func (s *Session) setClassroomID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Set(ctx, models.SessionKeyClassroomID, id); err != nil {
		return fmt.Errorf("write session classroom: %w", err)
	}
	return nil
}

func (s *Session) clearClassroomID(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Remove(ctx, models.SessionKeyClassroomID); err != nil {
		return fmt.Errorf("remove session classroom: %w", err)
	}
	return nil
}

// reset removes every key in the store's scope, not only the known ones.
func (s *Session) reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
