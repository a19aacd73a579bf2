// Package resume records completed combinations so an interrupted run can
// pick up where it left off.
package resume

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
)

// State tracks the completed combinations of one run configuration.
type State struct {
	Fingerprint   string   `json:"fingerprint"`
	CompletedKeys []string `json:"completed_keys"`
	Total         int      `json:"total"`

	mu   sync.Mutex
	path string
	done map[string]struct{}
}

// Fingerprint identifies a run configuration by its sorted URLs, FQDNs,
// directories and mode, so a state file is only reused for the same run.
func Fingerprint(mode string, urls, fqdns, dirs []string) string {
	h := sha256.New()
	for _, list := range [][]string{{mode}, urls, fqdns, dirs} {
		sorted := slices.Clone(list)
		slices.Sort(sorted)
		h.Write([]byte(strings.Join(sorted, "\n")))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// New creates a new empty resume state that will be saved to the given path.
func New(path, fingerprint string) *State {
	return &State{
		Fingerprint: fingerprint,
		path:        path,
		done:        make(map[string]struct{}),
	}
}

// Load reads an existing resume state from disk. Returns nil if the file
// does not exist.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading resume file: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing resume file: %w", err)
	}

	s.path = path
	s.done = make(map[string]struct{}, len(s.CompletedKeys))
	for _, k := range s.CompletedKeys {
		s.done[k] = struct{}{}
	}

	return &s, nil
}

// Open loads the state at path when its fingerprint matches, and starts a
// fresh one otherwise.
func Open(path, fingerprint string) (*State, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Fingerprint != fingerprint {
		return New(path, fingerprint), nil
	}
	return s, nil
}

// IsCompleted returns true if the combination key was already processed.
func (s *State) IsCompleted(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.done[key]
	return ok
}

// Completed returns the number of processed keys.
func (s *State) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.done)
}

// MarkCompleted records a key as done.
func (s *State) MarkCompleted(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.done[key]; !ok {
		s.done[key] = struct{}{}
		s.CompletedKeys = append(s.CompletedKeys, key)
	}
}

// Save writes the current state to disk.
func (s *State) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("serializing resume state: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// Remove deletes the resume file (called on successful completion).
func (s *State) Remove() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
