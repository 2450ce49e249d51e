package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ConsoleHandler writes one human-readable line per record:
//
//	15:04:05 INFO  message key=value ...
//
// Levels are coloured when enabled.
type ConsoleHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	colors map[slog.Level]*color.Color
	faint  *color.Color
	color  bool

	// preformatted attributes from WithAttrs, and the open group prefix
	attrs  []byte
	prefix string
}

var _ slog.Handler = (*ConsoleHandler)(nil)

// NewConsoleHandler returns a handler writing records at or above level.
func NewConsoleHandler(out io.Writer, level slog.Leveler, useColor bool) *ConsoleHandler {
	colors := map[slog.Level]*color.Color{
		slog.LevelDebug: color.New(color.FgCyan),
		slog.LevelInfo:  color.New(color.FgBlue),
		slog.LevelWarn:  color.New(color.FgYellow),
		slog.LevelError: color.New(color.FgRed),
	}
	faint := color.New(color.Faint)
	if useColor {
		for _, c := range colors {
			c.EnableColor()
		}
		faint.EnableColor()
	}
	return &ConsoleHandler{
		mu:     &sync.Mutex{},
		out:    out,
		level:  level,
		colors: colors,
		faint:  faint,
		color:  useColor,
	}
}

func (h *ConsoleHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	if !r.Time.IsZero() {
		buf.WriteString(r.Time.Format("15:04:05"))
		buf.WriteByte(' ')
	}
	buf.WriteString(h.levelText(r.Level))
	buf.WriteByte(' ')
	buf.WriteString(r.Message)
	buf.Write(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	buf := bytes.NewBuffer(append([]byte(nil), h.attrs...))
	for _, a := range attrs {
		h.appendAttr(buf, h.prefix, a)
	}
	h2.attrs = buf.Bytes()
	return &h2
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func (h *ConsoleHandler) levelText(l slog.Level) string {
	text := fmt.Sprintf("%-5s", l.String())
	if !h.color {
		return text
	}
	c := h.colors[slog.LevelError]
	switch {
	case l < slog.LevelInfo:
		c = h.colors[slog.LevelDebug]
	case l < slog.LevelWarn:
		c = h.colors[slog.LevelInfo]
	case l < slog.LevelError:
		c = h.colors[slog.LevelWarn]
	}
	return c.Sprint(text)
}

func (h *ConsoleHandler) appendAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			h.appendAttr(buf, prefix, ga)
		}
		return
	}

	var val string
	switch a.Value.Kind() {
	case slog.KindString:
		val = a.Value.String()
		if needsQuote(val) {
			val = fmt.Sprintf("%q", val)
		}
	case slog.KindTime:
		val = a.Value.Time().Format(time.RFC3339)
	default:
		val = a.Value.String()
	}

	text := prefix + a.Key + "=" + val
	buf.WriteByte(' ')
	if h.color {
		buf.WriteString(h.faint.Sprint(text))
		return
	}
	buf.WriteString(text)
}

func needsQuote(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r == ' ' || r == '=' || r == '"' || r < 0x20 {
			return true
		}
	}
	return false
}
