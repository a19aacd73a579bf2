// Package store defines the persistence hooks the engine writes through and
// an in-memory implementation of them.
package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/maxvaer/hhprobe/internal/model"
)

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Log listing bounds.
const (
	DefaultLogLimit = 50
	MaxLogLimit     = 200
)

// Store is the persistence boundary of the engine.
type Store interface {
	CreateRun(run *model.Run) error
	SetTotal(runID string, total int) error
	UpdateProgress(runID string, processed int, status model.Status) error
	CreateProbe(p *model.Probe) (int64, error)
	CreateSequenceResult(r *model.SequenceResult) error
	RecordSkip(s model.Skip) error
	AppendLog(runID, level, message string) error

	Run(runID string) (*model.Run, error)
	Probes(runID string) ([]model.Probe, error)
	Skips(runID string) ([]model.Skip, error)
	SequenceResults(runID string) ([]model.SequenceResult, error)
	Logs(runID string, afterSeq int64, limit int) ([]model.LogEntry, error)
}

// ClampLogLimit bounds a requested log page size to 1..MaxLogLimit.
func ClampLogLimit(limit int) int {
	return max(1, min(limit, MaxLogLimit))
}

type runData struct {
	run      model.Run
	probes   []model.Probe
	skips    []model.Skip
	sequence []model.SequenceResult
	logs     []model.LogEntry
}

// Memory is a Store backed by process memory.
type Memory struct {
	mu      sync.RWMutex
	runs    map[string]*runData
	nextID  int64
	nextSeq int64
	now     func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		runs: make(map[string]*runData),
		now:  time.Now,
	}
}

func (m *Memory) get(runID string) (*runData, error) {
	d, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return d, nil
}

// CreateRun registers a new run.
func (m *Memory) CreateRun(run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.runs[run.ID]; dup {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	r := *run
	r.StatusFilters = slices.Clone(run.StatusFilters)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	m.runs[run.ID] = &runData{run: r}
	return nil
}

// SetTotal sizes a run once its combinations are known.
func (m *Memory) SetTotal(runID string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(runID)
	if err != nil {
		return err
	}
	d.run.Total = total
	d.run.Processed = min(d.run.Processed, total)
	return nil
}

// UpdateProgress publishes the processed counter and status. The counter
// never moves backwards nor past the run total. An empty status leaves the
// current one unchanged. Terminal runs are frozen.
func (m *Memory) UpdateProgress(runID string, processed int, status model.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(runID)
	if err != nil {
		return err
	}
	if d.run.Status.Terminal() {
		return nil
	}
	if processed > d.run.Processed {
		d.run.Processed = min(processed, d.run.Total)
	}
	if status != "" {
		d.run.Status = status
		if status.Terminal() {
			d.run.FinishedAt = m.now()
		}
	}
	return nil
}

// CreateProbe stores p and returns its assigned ID.
func (m *Memory) CreateProbe(p *model.Probe) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(p.RunID)
	if err != nil {
		return 0, err
	}
	m.nextID++
	p.ID = m.nextID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	d.probes = append(d.probes, *p)
	return p.ID, nil
}

// CreateSequenceResult stores one half of a sequence pair.
func (m *Memory) CreateSequenceResult(r *model.SequenceResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(r.RunID)
	if err != nil {
		return err
	}
	d.sequence = append(d.sequence, *r)
	return nil
}

// RecordSkip stores a blacklist skip.
func (m *Memory) RecordSkip(s model.Skip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(s.RunID)
	if err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	d.skips = append(d.skips, s)
	return nil
}

// AppendLog adds a line to the run's log stream.
func (m *Memory) AppendLog(runID, level, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(runID)
	if err != nil {
		return err
	}
	m.nextSeq++
	d.logs = append(d.logs, model.LogEntry{
		Seq:     m.nextSeq,
		RunID:   runID,
		Level:   level,
		Message: message,
		Time:    m.now(),
	})
	return nil
}

// Run returns a copy of the run record.
func (m *Memory) Run(runID string) (*model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	r := d.run
	r.StatusFilters = slices.Clone(d.run.StatusFilters)
	return &r, nil
}

// Probes returns the run's probes in insertion order.
func (m *Memory) Probes(runID string) ([]model.Probe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(d.probes), nil
}

// Skips returns the run's blacklist skips.
func (m *Memory) Skips(runID string) ([]model.Skip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(d.skips), nil
}

// SequenceResults returns the run's sequence results in insertion order.
func (m *Memory) SequenceResults(runID string) ([]model.SequenceResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(d.sequence), nil
}

// Logs returns up to limit entries with Seq > afterSeq, oldest first.
func (m *Memory) Logs(runID string, afterSeq int64, limit int) ([]model.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	limit = ClampLogLimit(limit)
	start, _ := slices.BinarySearchFunc(d.logs, afterSeq+1, func(e model.LogEntry, seq int64) int {
		switch {
		case e.Seq < seq:
			return -1
		case e.Seq > seq:
			return 1
		}
		return 0
	})
	end := min(start+limit, len(d.logs))
	return slices.Clone(d.logs[start:end]), nil
}
