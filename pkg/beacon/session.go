// session.go owns the single process-wide telemetry session.

package beacon

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/strongdm/beacon/pkg/clock"
)

// SessionStorageName is the fixed key under which the live session is
// persisted.
const SessionStorageName = "beacon_session"

// ErrSessionNotFound is returned by a SessionStore when nothing is
// persisted under the requested name.
var ErrSessionNotFound = errors.New("session not found")

// Environment identifies the deployment the host process runs in.
type Environment string

const (
	// Development is for local development.
	Development Environment = "development"
	// Production is for production deployments.
	Production Environment = "production"
)

// Session is the logical session every envelope and metric batch refers
// to. Only SessionManager creates or mutates sessions.
type Session struct {
	ID          string      `json:"id"`
	Environment Environment `json:"environment"`
	StartedAt   time.Time   `json:"startedAt"`

	// EndedAt and DurationMs are set only on explicit termination.
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	DurationMs *int64     `json:"duration,omitempty"`

	UserAgent string `json:"userAgent"`
	Address   string `json:"ipAddress,omitempty"`
}

// SessionStore persists the session record across reloads of the host.
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// Load returns the session stored under name, or ErrSessionNotFound.
	Load(ctx context.Context, name string) (Session, error)

	// Save stores the session under name, replacing any previous value.
	Save(ctx context.Context, name string, session Session) error

	// Clear removes the session stored under name. Clearing a missing
	// entry is not an error.
	Clear(ctx context.Context, name string) error
}

// SessionConfig configures a SessionManager.
type SessionConfig struct {
	Environment Environment
	UserAgent   string

	// Address is reported as the session's network address. When empty
	// the first non-loopback interface address is used.
	Address string

	Clock  clock.Clock
	Logger *slog.Logger
}

// SessionManager lazily creates and caches the live session.
type SessionManager struct {
	mu      sync.Mutex
	store   SessionStore
	cfg     SessionConfig
	current *Session
}

// NewSessionManager creates a manager backed by store. A nil store keeps
// the session in memory only.
func NewSessionManager(store SessionStore, cfg SessionConfig) *SessionManager {
	if store == nil {
		store = NewMemoryStore()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Environment == "" {
		cfg.Environment = Production
	}
	if cfg.Address == "" {
		cfg.Address = localAddress()
	}
	return &SessionManager{store: store, cfg: cfg}
}

// CurrentSession returns the live session, loading the persisted one or
// synthesizing and persisting a new one on first use.
func (m *SessionManager) CurrentSession(ctx context.Context) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return *m.current
	}

	loaded, err := m.store.Load(ctx, SessionStorageName)
	switch {
	case err == nil && loaded.ID != "" && loaded.EndedAt == nil:
		m.current = &loaded
		return loaded
	case err != nil && !errors.Is(err, ErrSessionNotFound):
		m.cfg.Logger.Warn("load persisted session", "error", err)
	}

	session := m.newSession()
	if err := m.store.Save(ctx, SessionStorageName, session); err != nil {
		m.cfg.Logger.Warn("persist session", "session", session.ID, "error", err)
	}
	m.current = &session
	return session
}

// SessionID returns the live session's ID.
func (m *SessionManager) SessionID(ctx context.Context) string {
	return m.CurrentSession(ctx).ID
}

// EndSession stamps the live session as ended, clears the persisted
// record and releases it. The ended session is returned so the caller can
// report it. The next CurrentSession call starts a fresh session.
func (m *SessionManager) EndSession(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ended Session
	if m.current != nil {
		ended = *m.current
	} else if loaded, err := m.store.Load(ctx, SessionStorageName); err == nil {
		ended = loaded
	}
	m.current = nil

	if err := m.store.Clear(ctx, SessionStorageName); err != nil {
		return ended, fmt.Errorf("clear session: %w", err)
	}
	if ended.ID == "" {
		return Session{}, ErrSessionNotFound
	}

	now := m.cfg.Clock.Now()
	duration := now.Sub(ended.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	ended.EndedAt = &now
	ended.DurationMs = &duration
	return ended, nil
}

func (m *SessionManager) newSession() Session {
	now := m.cfg.Clock.Now()
	return Session{
		ID:          newSessionID(now),
		Environment: m.cfg.Environment,
		StartedAt:   now,
		UserAgent:   m.cfg.UserAgent,
		Address:     m.cfg.Address,
	}
}

// newSessionID joins a base36 millisecond timestamp with 48 random bits.
// Unique enough for session scope; not a security token.
func newSessionID(now time.Time) string {
	random := uuid.New()
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + hex.EncodeToString(random[:6])
}

// localAddress returns the first non-loopback interface address,
// preferring IPv4. Empty when none can be determined.
func localAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	var fallback string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.IsLinkLocalUnicast() {
			continue
		}
		if ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
		if fallback == "" {
			fallback = ipNet.IP.String()
		}
	}
	return fallback
}

// MemoryStore is a SessionStore that lives only as long as the process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// Load returns the stored session or ErrSessionNotFound.
func (s *MemoryStore) Load(ctx context.Context, name string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[name]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Save stores the session under name.
func (s *MemoryStore) Save(ctx context.Context, name string, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[name] = session
	return nil
}

// Clear removes the session stored under name.
func (s *MemoryStore) Clear(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, name)
	return nil
}
