package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// filePerm is the mode used for the profile file and its directory.
const (
	filePerm = 0o600
	dirPerm  = 0o700
)

type fileEntry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// File is a durable store backed by a single JSON file, the agent's
// equivalent of a browser profile. Every write is flushed through to disk so
// a dedup record written before a network call survives process restarts.
type File struct {
	mu      sync.Mutex
	path    string
	entries map[string]fileEntry
	now     func() time.Time
}

// NewFile opens (or creates) a file-backed store at path.
func NewFile(path string) (*File, error) {
	f := &File{
		path:    path,
		entries: make(map[string]fileEntry),
		now:     time.Now,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Fresh profile.
	case err != nil:
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	default:
		if jsonErr := json.Unmarshal(data, &f.entries); jsonErr != nil {
			// A corrupt profile is discarded rather than wedging the agent.
			f.entries = make(map[string]fileEntry)
		}
	}

	return f, nil
}

// Get returns the value for key if present and unexpired.
func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.ExpiresAt.IsZero() && f.now().After(e.ExpiresAt) {
		delete(f.entries, key)
		_ = f.flush()
		return "", false, nil
	}
	return e.Value, true, nil
}

// Set writes the value for key and flushes to disk. A zero ttl means no
// expiry.
func (f *File) Set(key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := fileEntry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = f.now().Add(ttl)
	}
	f.entries[key] = e
	return f.flush()
}

// Remove deletes the key and flushes to disk.
func (f *File) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.entries, key)
	return f.flush()
}

// Name identifies the backend in logs.
func (f *File) Name() string { return "file" }

// flush writes the whole entry map. Callers hold the mutex.
func (f *File) flush() error {
	data, err := json.Marshal(f.entries)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), dirPerm); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	if err := os.WriteFile(f.path, data, filePerm); err != nil {
		return fmt.Errorf("write profile %s: %w", f.path, err)
	}
	return nil
}
