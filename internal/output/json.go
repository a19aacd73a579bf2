package output

import (
	"encoding/json"
	"io"

	"github.com/maxvaer/hhprobe/internal/model"
)

// JSONWriter writes probes as a JSON array.
type JSONWriter struct {
	w       io.Writer
	closer  io.Closer
	entries []model.Probe
}

// NewJSONWriter creates a JSON output writer.
func NewJSONWriter(outputFile string) (*JSONWriter, error) {
	w, closer, err := openOutput(outputFile)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{w: w, closer: closer, entries: []model.Probe{}}, nil
}

func (j *JSONWriter) WriteHeader() error { return nil }

func (j *JSONWriter) WriteProbe(p *model.Probe) error {
	j.entries = append(j.entries, *p)
	return nil
}

func (j *JSONWriter) WriteFooter(_ Stats) error {
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	return enc.Encode(j.entries)
}

func (j *JSONWriter) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
