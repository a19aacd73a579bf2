// Package runlog routes structured log records into a run's log stream.
package runlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Appender receives finished log lines. store.Store satisfies it.
type Appender interface {
	AppendLog(runID, level, message string) error
}

// Options configures a Handler.
type Options struct {
	// Level is the minimum level stored in the run log (default Info).
	Level slog.Leveler
	// Tee, when set, also receives every record it is enabled for.
	Tee slog.Handler
}

// Handler is a slog.Handler that appends each record to one run's log.
// Attributes are rendered as key=value after the message.
type Handler struct {
	runID  string
	sink   Appender
	level  slog.Leveler
	tee    slog.Handler
	prefix string // group prefix for attribute keys
	attrs  string // pre-rendered attributes from WithAttrs
}

// NewHandler creates a Handler writing to sink under runID.
func NewHandler(sink Appender, runID string, opts *Options) *Handler {
	h := &Handler{runID: runID, sink: sink, level: slog.LevelInfo}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.tee = opts.Tee
	}
	return h
}

// New returns a logger backed by a Handler.
func New(sink Appender, runID string, opts *Options) *slog.Logger {
	return slog.New(NewHandler(sink, runID, opts))
}

// LevelName maps a slog level onto the names used in the log stream.
func LevelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warning"
	case l >= slog.LevelInfo:
		return "info"
	}
	return "debug"
}

func (h *Handler) storeEnabled(l slog.Level) bool {
	return l >= h.level.Level()
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.storeEnabled(l) || (h.tee != nil && h.tee.Enabled(ctx, l))
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if h.tee != nil && h.tee.Enabled(ctx, r.Level) {
		if err := h.tee.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	if !h.storeEnabled(r.Level) {
		return nil
	}
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.prefix, a)
		return true
	})
	return h.sink.AppendLog(h.runID, LevelName(r.Level), b.String())
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	var b strings.Builder
	for _, a := range attrs {
		writeAttr(&b, h.prefix, a)
	}
	c.attrs = h.attrs + b.String()
	if h.tee != nil {
		c.tee = h.tee.WithAttrs(attrs)
	}
	return &c
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	if h.tee != nil {
		c.tee = h.tee.WithGroup(name)
	}
	return &c
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, p, ga)
		}
		return
	}
	v := a.Value.String()
	if strings.ContainsAny(v, " \t\"=") {
		v = fmt.Sprintf("%q", v)
	}
	fmt.Fprintf(b, " %s%s=%s", prefix, a.Key, v)
}
