// Package redis persists the beacon session in Redis so that every
// replica or restart of a process within the same key prefix resumes the
// same session.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/strongdm/beacon/pkg/beacon"
)

const (
	defaultPrefix  = "beacon:"
	defaultTimeout = 250 * time.Millisecond
)

// Options configures a Store.
type Options struct {
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to the storage name (default: "beacon:").
	Prefix string

	// TTL expires the stored session; zero keeps it until cleared.
	TTL time.Duration

	// Timeout bounds each Redis call (default: 250ms).
	Timeout time.Duration

	Logger *slog.Logger
}

// Store is a beacon.SessionStore backed by a Redis string key.
type Store struct {
	client  goredis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
	owned   bool
}

var _ beacon.SessionStore = (*Store)(nil)

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	store := NewFromClient(client, opts)
	store.owned = true
	return store, nil
}

// NewFromClient wraps an existing client. Close does not close it.
func NewFromClient(client goredis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		client:  client,
		prefix:  opts.Prefix,
		ttl:     opts.TTL,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

// Load returns the session stored under name, or beacon.ErrSessionNotFound.
func (s *Store) Load(ctx context.Context, name string) (beacon.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.prefix+name).Bytes()
	if errors.Is(err, goredis.Nil) {
		return beacon.Session{}, beacon.ErrSessionNotFound
	}
	if err != nil {
		s.logRedisError("get", err)
		return beacon.Session{}, fmt.Errorf("redis get session: %w", err)
	}

	var session beacon.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return beacon.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

// Save stores session under name with the configured TTL.
func (s *Store) Save(ctx context.Context, name string, session beacon.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(ctx, s.prefix+name, raw, s.ttl).Err(); err != nil {
		s.logRedisError("set", err)
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Clear deletes the key. A missing key is not an error.
func (s *Store) Clear(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(ctx, s.prefix+name).Err(); err != nil {
		s.logRedisError("del", err)
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// Close closes the client if New created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) logRedisError(op string, err error) {
	s.logger.Error("redis session store error", "op", op, "error", err)
}
