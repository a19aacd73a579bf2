package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/maxvaer/hhprobe/internal/model"
)

// TextWriter writes colored text output to a writer.
type TextWriter struct {
	w      io.Writer
	closer io.Closer
	quiet  bool

	dim, green, cyan, yellow, red, magenta *color.Color
}

// NewTextWriter creates a text output writer. If outputFile is empty, stdout
// is used. noColor disables ANSI escape codes.
func NewTextWriter(outputFile string, noColor, quiet bool) (*TextWriter, error) {
	w, closer, err := openOutput(outputFile)
	if err != nil {
		return nil, err
	}
	t := &TextWriter{
		w:       w,
		closer:  closer,
		quiet:   quiet,
		dim:     color.New(color.Faint),
		green:   color.New(color.FgGreen),
		cyan:    color.New(color.FgCyan),
		yellow:  color.New(color.FgYellow),
		red:     color.New(color.FgRed),
		magenta: color.New(color.FgMagenta),
	}
	// Files never get escape codes; stdout follows color.NoColor.
	if noColor || closer != nil {
		for _, c := range []*color.Color{t.dim, t.green, t.cyan, t.yellow, t.red, t.magenta} {
			c.DisableColor()
		}
	}
	return t, nil
}

func (t *TextWriter) WriteHeader() error {
	if t.quiet {
		return nil
	}
	_, err := fmt.Fprintln(t.w, t.dim.Sprint("Code      Size  Time    URL  [Host]"))
	return err
}

func (t *TextWriter) WriteProbe(p *model.Probe) error {
	code := t.colorForStatus(p.HTTPStatus).Sprintf("%3d", p.HTTPStatus)
	if p.Failed() {
		code = t.red.Sprint("ERR")
	}

	var flags []string
	if p.Retried421 {
		if p.Auto421Override {
			flags = append(flags, t.magenta.Sprint("421->SNI"))
		} else {
			flags = append(flags, t.red.Sprint("421 retry failed"))
		}
	} else if p.SNIOverridden {
		flags = append(flags, t.magenta.Sprint("SNI"))
	}
	if p.Failed() {
		flags = append(flags, t.red.Sprint(p.Error))
	}
	suffix := ""
	if len(flags) > 0 {
		suffix = "  " + strings.Join(flags, " ")
	}

	_, err := fmt.Fprintf(t.w, "%s  %8d  %5dms  %s  [%s]%s\n",
		code,
		p.BytesTotal,
		p.ResponseTimeMS,
		p.TargetURL,
		p.HostHeader,
		suffix,
	)
	return err
}

func (t *TextWriter) WriteFooter(stats Stats) error {
	if t.quiet {
		return nil
	}
	_, err := fmt.Fprintf(os.Stderr,
		"\nRun %s: %d/%d combinations | Stored: %d | Filtered: %d | Errors: %d | Blacklisted: %d | Duration: %s | %.1f req/s\n",
		stats.Status,
		stats.Processed,
		stats.Total,
		stats.Stored,
		stats.FilteredCount,
		stats.ErrorCount,
		stats.SkippedCount,
		stats.Duration.Round(time.Millisecond),
		stats.RequestsPerSec,
	)
	return err
}

func (t *TextWriter) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

func (t *TextWriter) colorForStatus(code int) *color.Color {
	switch {
	case code >= 200 && code < 300:
		return t.green
	case code >= 300 && code < 400:
		return t.cyan
	case code >= 400 && code < 500:
		return t.yellow
	case code >= 500:
		return t.red
	default:
		return t.dim
	}
}
