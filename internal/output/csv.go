package output

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/maxvaer/hhprobe/internal/model"
)

// CSVWriter writes probes in CSV format.
type CSVWriter struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVWriter creates a CSV output writer.
func NewCSVWriter(outputFile string) (*CSVWriter, error) {
	w, closer, err := openOutput(outputFile)
	if err != nil {
		return nil, err
	}
	return &CSVWriter{w: csv.NewWriter(w), closer: closer}, nil
}

func (c *CSVWriter) WriteHeader() error {
	return c.w.Write([]string{
		"target_url", "original_url", "host_header", "resolved_ip", "status",
		"bytes", "time_ms", "attempt", "sni_overridden", "auto_421_override",
		"correlation_id", "error",
	})
}

func (c *CSVWriter) WriteProbe(p *model.Probe) error {
	return c.w.Write([]string{
		p.TargetURL,
		p.OriginalURL,
		p.HostHeader,
		p.ResolvedIP,
		strconv.Itoa(p.HTTPStatus),
		strconv.FormatInt(p.BytesTotal, 10),
		strconv.FormatInt(p.ResponseTimeMS, 10),
		strconv.Itoa(p.Attempt),
		strconv.FormatBool(p.SNIOverridden),
		strconv.FormatBool(p.Auto421Override),
		p.CorrelationID,
		p.Error,
	})
}

func (c *CSVWriter) WriteFooter(_ Stats) error {
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVWriter) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
