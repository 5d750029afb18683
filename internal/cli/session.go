package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoSession means the admin has not logged in on this machine.
var ErrNoSession = errors.New("not logged in; run `jpadmin login`")

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Email        string `json:"email"`
	UserID       string `json:"user_id"`
	APIBaseURL   string `json:"api_base_url,omitempty"`
	// Impersonation is the open impersonation session id, if any.
	Impersonation string `json:"impersonation,omitempty"`
}

// SessionStore persists the session as JSON at Path.
type SessionStore struct {
	Path string
}

// DefaultSessionStore keeps the session in ~/.jpadmin/session.json.
func DefaultSessionStore() (SessionStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return SessionStore{}, err
	}
	return SessionStore{Path: filepath.Join(home, ".jpadmin", "session.json")}, nil
}

func (s SessionStore) Save(sess Session) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	body, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, body, 0o600)
}

func (s SessionStore) Load() (Session, error) {
	body, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(body, &sess); err != nil {
		return Session{}, fmt.Errorf("read session %s: %w", s.Path, err)
	}
	if strings.TrimSpace(sess.AccessToken) == "" {
		return Session{}, ErrNoSession
	}
	return sess, nil
}

func (s SessionStore) Clear() error {
	err := os.Remove(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
