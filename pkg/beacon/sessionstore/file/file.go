// Package file persists the beacon session as a JSON file so a CLI or
// short-lived job resumes the same session across invocations.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/strongdm/beacon/pkg/beacon"
)

// Store is a beacon.SessionStore writing one <name>.json file per
// storage name inside a directory.
type Store struct {
	dir string
}

var _ beacon.SessionStore = (*Store)(nil)

// New creates the directory if needed and returns a store rooted there.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("session directory required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the per-user cache directory for beacon sessions.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate user cache dir: %w", err)
	}
	return filepath.Join(base, "beacon"), nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name)+".json")
}

// Load reads the session stored under name.
func (s *Store) Load(ctx context.Context, name string) (beacon.Session, error) {
	raw, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return beacon.Session{}, beacon.ErrSessionNotFound
	}
	if err != nil {
		return beacon.Session{}, fmt.Errorf("read session: %w", err)
	}
	var session beacon.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return beacon.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

// Save writes the session atomically: a temp file is renamed over the
// previous one.
func (s *Store) Save(ctx context.Context, name string, session beacon.Session) error {
	raw, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Clear removes the session file. A missing file is not an error.
func (s *Store) Clear(ctx context.Context, name string) error {
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
