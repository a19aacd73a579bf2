package aggregate

import (
	"errors"
	"fmt"

	"github.com/maxvaer/hhprobe/internal/model"
	"github.com/maxvaer/hhprobe/internal/store"
)

var (
	ErrUnknownRun    = errors.New("unknown run")
	ErrUnknownTarget = errors.New("no matrix data for target")
)

// Error is returned to read-API callers when a view cannot be built.
type Error struct {
	RunID  string
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("run %s, target %s: %v", e.RunID, e.Target, e.Err)
	}
	return fmt.Sprintf("run %s: %v", e.RunID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Reader is the read side of a store.
type Reader interface {
	Run(runID string) (*model.Run, error)
	Probes(runID string) ([]model.Probe, error)
	Skips(runID string) ([]model.Skip, error)
	SequenceResults(runID string) ([]model.SequenceResult, error)
}

// Service builds views for stored runs.
type Service struct {
	src Reader
}

// NewService creates a Service reading from src.
func NewService(src Reader) *Service {
	return &Service{src: src}
}

func (s *Service) wrap(runID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &Error{RunID: runID, Err: ErrUnknownRun}
	}
	return &Error{RunID: runID, Err: err}
}

// Run returns the run record.
func (s *Service) Run(runID string) (*model.Run, error) {
	run, err := s.src.Run(runID)
	if err != nil {
		return nil, s.wrap(runID, err)
	}
	return run, nil
}

// Matrix returns the matrix of a run, or of one target when targetURL is
// set.
func (s *Service) Matrix(runID, targetURL string, uniqueSizeOnly bool) ([]TargetMatrix, error) {
	probes, err := s.src.Probes(runID)
	if err != nil {
		return nil, s.wrap(runID, err)
	}
	skips, err := s.src.Skips(runID)
	if err != nil {
		return nil, s.wrap(runID, err)
	}
	rows := Matrix(probes, skips, uniqueSizeOnly)
	if targetURL == "" {
		return rows, nil
	}
	for _, row := range rows {
		if row.TargetURL == targetURL {
			return []TargetMatrix{row}, nil
		}
	}
	return nil, &Error{RunID: runID, Target: targetURL, Err: ErrUnknownTarget}
}

// Summary421 returns the 421 summary of a run.
func (s *Service) Summary421(runID string) (Summary421, error) {
	probes, err := s.src.Probes(runID)
	if err != nil {
		return Summary421{}, s.wrap(runID, err)
	}
	return Summarize421(probes), nil
}

// SequenceResults returns a run's sequence results ordered by sequence
// index.
func (s *Service) SequenceResults(runID string) ([]model.SequenceResult, error) {
	results, err := s.src.SequenceResults(runID)
	if err != nil {
		return nil, s.wrap(runID, err)
	}
	SortSequence(results)
	return results, nil
}

// View is the full aggregate of a run.
type View struct {
	RunID            string         `json:"run_id"`
	Mode             model.Mode     `json:"mode"`
	Matrix           []TargetMatrix `json:"matrix"`
	StatusCodeTotals map[int]int    `json:"status_code_totals"`
	BucketTotals     map[string]int `json:"status_distribution"`
	Latency          LatencyStats   `json:"latency_stats"`
	Diffs            []Diff         `json:"diffs"`
	Summary421       Summary421     `json:"summary_421"`
}

// View computes every aggregate of a run. Diffs are only filled for
// sequence runs.
func (s *Service) View(runID string, uniqueSizeOnly bool) (*View, error) {
	run, err := s.src.Run(runID)
	if err != nil {
		return nil, s.wrap(runID, err)
	}
	probes, err := s.src.Probes(runID)
	if err != nil {
		return nil, s.wrap(runID, err)
	}
	skips, err := s.src.Skips(runID)
	if err != nil {
		return nil, s.wrap(runID, err)
	}
	v := &View{
		RunID:            runID,
		Mode:             run.Mode,
		Matrix:           Matrix(probes, skips, uniqueSizeOnly),
		StatusCodeTotals: StatusCodeTotals(probes, ""),
		BucketTotals:     BucketTotals(probes, ""),
		Latency:          Latency(probes),
		Diffs:            []Diff{},
		Summary421:       Summarize421(probes),
	}
	if run.Mode == model.ModeSequence {
		results, err := s.src.SequenceResults(runID)
		if err != nil {
			return nil, s.wrap(runID, err)
		}
		v.Diffs = Diffs(results)
	}
	return v, nil
}
