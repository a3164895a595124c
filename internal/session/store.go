package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLifetime matches the gateway's session cookie max age.
const DefaultLifetime = 24 * time.Hour

// Session is a stored gateway login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	ServerURL string    `json:"server_url"`
}

// Manager handles session storage and retrieval
type Manager struct {
	sessionPath string
}

// NewManager creates a session manager storing under dir. An empty dir
// means ~/.pullpilot.
func NewManager(dir string) *Manager {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		dir = filepath.Join(homeDir, ".pullpilot")
	}
	_ = os.MkdirAll(dir, 0o700)

	return &Manager{
		sessionPath: filepath.Join(dir, "session.json"),
	}
}

// New builds a session for token, reading the expiry from the token when
// it is a JWT and falling back to DefaultLifetime otherwise.
func New(token, username, serverURL string, now time.Time) *Session {
	exp, ok := TokenExpiry(token)
	if !ok {
		exp = now.Add(DefaultLifetime)
	}
	return &Session{Token: token, ExpiresAt: exp, Username: username, ServerURL: serverURL}
}

// TokenExpiry returns the exp claim of a JWT without verifying it. The
// signature belongs to the gateway; we only need to know when to drop it.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Save saves a session to disk
func (m *Manager) Save(session *Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(m.sessionPath, data, 0o600)
}

// Load loads a session from disk. Missing or expired sessions yield nil.
func (m *Manager) Load() (*Session, error) {
	data, err := os.ReadFile(m.sessionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}

	if time.Now().After(session.ExpiresAt) {
		_ = m.Clear()
		return nil, nil
	}

	return &session, nil
}

// Clear removes the session file
func (m *Manager) Clear() error {
	if err := os.Remove(m.sessionPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsLoggedIn checks if there's a valid session
func (m *Manager) IsLoggedIn() bool {
	session, err := m.Load()
	return err == nil && session != nil
}

// Path returns the path to the session file
func (m *Manager) Path() string {
	return m.sessionPath
}
