// Package artifact stores raw request/response exchanges and hands back a
// reference that probes record as their artifact path.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidKey is returned for keys that would escape the run directory.
var ErrInvalidKey = errors.New("invalid artifact key")

// Sink persists one blob per (run, key). Implementations must tolerate
// concurrent calls with distinct keys.
type Sink interface {
	Store(runID, key string, data []byte) (string, error)
}

// Ref returns the reference a sink hands back for key within run.
func Ref(runID, key string) string {
	return path.Join("run_"+runID, key)
}

func checkKey(key string) error {
	if key == "" || path.IsAbs(key) || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// FileSink writes artifacts below Root as run_<id>/<key>.
type FileSink struct {
	Root string
}

// NewFileSink creates root if needed.
func NewFileSink(root string) (*FileSink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifacts dir: %w", err)
	}
	return &FileSink{Root: root}, nil
}

// Store implements Sink. The returned reference is relative to Root.
func (s *FileSink) Store(runID, key string, data []byte) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	ref := Ref(runID, key)
	full := filepath.Join(s.Root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", ref, err)
	}
	return ref, nil
}

// Memory keeps artifacts in a map. Used by tests and when no artifacts
// directory is configured.
type Memory struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Store implements Sink.
func (m *Memory) Store(runID, key string, data []byte) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	ref := Ref(runID, key)
	m.mu.Lock()
	m.blobs[ref] = append([]byte(nil), data...)
	m.mu.Unlock()
	return ref, nil
}

// Get returns the blob stored under ref.
func (m *Memory) Get(ref string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[ref]
	return b, ok
}

// Len reports how many artifacts are stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
