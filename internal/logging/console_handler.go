package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ConsoleHandler writes one line per record:
//
//	2026-01-02T15:04:05Z humangym[812]: [info] supervisor: session accepted session=3f2a
//
// The component attribute is lifted into the line header.
type ConsoleHandler struct {
	level   slog.Leveler
	process string
	pid     int

	mu  *sync.Mutex
	out io.Writer

	component string
	group     string
	attrs     []byte // preformatted " k=v" pairs from WithAttrs
}

// NewConsoleHandler returns a handler tagged with process, typically the
// binary name.
func NewConsoleHandler(out io.Writer, process string, level slog.Leveler) *ConsoleHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ConsoleHandler{
		level:   level,
		process: process,
		pid:     os.Getpid(),
		mu:      &sync.Mutex{},
		out:     out,
	}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	component := h.component
	var attrs []byte
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == componentKey && h.group == "" {
			component = a.Value.String()
			return true
		}
		attrs = h.appendAttr(attrs, h.group, a)
		return true
	})

	buf := make([]byte, 0, 256)
	buf = t.AppendFormat(buf, time.RFC3339)
	buf = append(buf, ' ')
	buf = append(buf, h.process...)
	buf = append(buf, '[')
	buf = strconv.AppendInt(buf, int64(h.pid), 10)
	buf = append(buf, "]: ["...)
	buf = append(buf, strings.ToLower(r.Level.String())...)
	buf = append(buf, "] "...)
	if component != "" {
		buf = append(buf, strings.ToLower(component)...)
		buf = append(buf, ": "...)
	}
	buf = append(buf, r.Message...)
	buf = append(buf, h.attrs...)
	buf = append(buf, attrs...)
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]byte(nil), h.attrs...)
	for _, a := range attrs {
		if a.Key == componentKey && h.group == "" {
			c.component = a.Value.String()
			continue
		}
		c.attrs = h.appendAttr(c.attrs, h.group, a)
	}
	return &c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	if c.group != "" {
		c.group += "."
	}
	c.group += name
	return &c
}

func (h *ConsoleHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, key, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = append(buf, key...)
	buf = append(buf, '=')
	val := a.Value.String()
	if val == "" || strings.ContainsAny(val, " \t\n\"=") {
		return strconv.AppendQuote(buf, val)
	}
	return append(buf, val...)
}
