package output

import (
	"cmp"
	"slices"

	"github.com/maxvaer/hhprobe/internal/model"
)

// SortedWriter buffers probes and replays them sorted by a field when
// WriteFooter is called. It wraps any other Writer.
type SortedWriter struct {
	inner  Writer
	sortBy string
	probes []model.Probe
}

// NewSortedWriter wraps inner and buffers probes for sorted replay.
func NewSortedWriter(inner Writer, sortBy string) *SortedWriter {
	return &SortedWriter{inner: inner, sortBy: sortBy}
}

func (w *SortedWriter) WriteHeader() error {
	return w.inner.WriteHeader()
}

func (w *SortedWriter) WriteProbe(p *model.Probe) error {
	w.probes = append(w.probes, *p)
	return nil
}

func (w *SortedWriter) WriteFooter(stats Stats) error {
	slices.SortStableFunc(w.probes, func(a, b model.Probe) int {
		switch w.sortBy {
		case "status":
			return cmp.Compare(a.HTTPStatus, b.HTTPStatus)
		case "size":
			return cmp.Compare(a.BytesTotal, b.BytesTotal)
		case "host":
			return cmp.Compare(a.HostHeader, b.HostHeader)
		case "time":
			return cmp.Compare(a.ResponseTimeMS, b.ResponseTimeMS)
		default:
			return 0
		}
	})
	for i := range w.probes {
		if err := w.inner.WriteProbe(&w.probes[i]); err != nil {
			return err
		}
	}
	return w.inner.WriteFooter(stats)
}

func (w *SortedWriter) Close() error {
	return w.inner.Close()
}
