// Package logger provides a colored slog handler for terminal output.
//
// Warnings print yellow and errors red. Info messages about graph writes
// (episodes persisted, statements invalidated, episodes deleted) print green
// so they stand out while following ingestion in a terminal.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// highlights are message fragments that mark graph writes.
var highlights = []string{"persist", "invalidat", "deleted", "compacted", "synthesized"}

// Options configures a ColorHandler.
type Options struct {
	Level slog.Leveler
	// ForceColor emits escape codes even when the output is not a terminal.
	ForceColor bool
}

// ColorHandler is a slog.Handler writing one colored line per record.
type ColorHandler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	prefix string
	groups []string

	debug, info, warn, errc, write, key *color.Color
}

// NewColorHandler creates a handler writing to w.
func NewColorHandler(w io.Writer, opts *Options) *ColorHandler {
	if opts == nil {
		opts = &Options{}
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	h := &ColorHandler{
		w:     w,
		mu:    &sync.Mutex{},
		level: level,
		debug: color.New(color.FgHiBlack),
		info:  color.New(color.Reset),
		warn:  color.New(color.FgYellow),
		errc:  color.New(color.FgRed, color.Bold),
		write: color.New(color.FgGreen),
		key:   color.New(color.FgCyan),
	}
	if opts.ForceColor {
		for _, c := range []*color.Color{h.debug, h.info, h.warn, h.errc, h.write, h.key} {
			c.EnableColor()
		}
	}
	return h
}

// NewDefaultLogger returns a logger writing colored lines to stderr.
func NewDefaultLogger(level slog.Level) *slog.Logger {
	return slog.New(NewColorHandler(os.Stderr, &Options{Level: level}))
}

// Enabled implements slog.Handler.
func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	if !r.Time.IsZero() {
		b.WriteString(r.Time.Format("15:04:05.000"))
		b.WriteByte(' ')
	}

	msgColor := h.colorFor(r.Level, r.Message)
	b.WriteString(msgColor.Sprintf("%-5s", r.Level.String()))
	b.WriteByte(' ')
	b.WriteString(msgColor.Sprint(r.Message))
	b.WriteString(h.prefix)

	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, strings.Join(h.groups, "."), a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs implements slog.Handler.
func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	for _, a := range attrs {
		h.appendAttr(&b, strings.Join(h.groups, "."), a)
	}
	clone := *h
	clone.prefix = h.prefix + b.String()
	return &clone
}

// WithGroup implements slog.Handler.
func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func (h *ColorHandler) colorFor(level slog.Level, msg string) *color.Color {
	switch {
	case level >= slog.LevelError:
		return h.errc
	case level >= slog.LevelWarn:
		return h.warn
	case level < slog.LevelInfo:
		return h.debug
	}
	lower := strings.ToLower(msg)
	for _, s := range highlights {
		if strings.Contains(lower, s) {
			return h.write
		}
	}
	return h.info
}

func (h *ColorHandler) appendAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.appendAttr(b, key, ga)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(h.key.Sprint(key))
	b.WriteByte('=')
	b.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindTime:
		s = v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		s = v.Duration().String()
	default:
		s = fmt.Sprint(v.Any())
	}
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
