// Package output renders probes for the command line.
package output

import (
	"io"
	"os"
	"time"

	"github.com/maxvaer/hhprobe/internal/model"
)

// Stats holds aggregate run statistics.
type Stats struct {
	Total          int
	Processed      int
	Stored         int
	FilteredCount  int
	ErrorCount     int
	SkippedCount   int
	Status         model.Status
	Duration       time.Duration
	RequestsPerSec float64
}

// Writer is implemented by each output format.
type Writer interface {
	WriteHeader() error
	WriteProbe(p *model.Probe) error
	WriteFooter(stats Stats) error
	Close() error
}

// openOutput returns the file to write to, or stdout when path is empty.
// The closer is nil for stdout.
func openOutput(path string) (io.Writer, io.Closer, error) {
	if path == "" {
		return os.Stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

// New returns the writer for format ("text", "json", "csv"), wrapped in a
// SortedWriter when sortBy is set.
func New(format, path, sortBy string, noColor, quiet bool) (Writer, error) {
	var (
		w   Writer
		err error
	)
	switch format {
	case "json":
		w, err = NewJSONWriter(path)
	case "csv":
		w, err = NewCSVWriter(path)
	default:
		w, err = NewTextWriter(path, noColor, quiet)
	}
	if err != nil {
		return nil, err
	}
	if sortBy != "" {
		w = NewSortedWriter(w, sortBy)
	}
	return w, nil
}
