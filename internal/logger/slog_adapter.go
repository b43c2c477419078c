package logger

import (
	"context"
	"log"
	"log/slog"
	"strings"
)

// NewStdLogger returns a *log.Logger whose output is written to l at the given
// level. It is meant for APIs such as http.Server.ErrorLog.
func NewStdLogger(l *Logger, level slog.Level) *log.Logger {
	return slog.NewLogLogger(&slogHandler{log: l}, level)
}

// slogHandler forwards slog records to a Logger. Attributes are appended to
// the message as key=value pairs, qualified by the open groups.
type slogHandler struct {
	log    *Logger
	attrs  string
	groups string
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return fromSlogLevel(level) >= h.log.GetLevel()
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(record.Message))
	b.WriteString(h.attrs)
	record.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, a)
		return true
	})

	message := strings.TrimSpace(b.String())
	switch fromSlogLevel(record.Level) {
	case LevelError:
		h.log.Error("%s", message)
	case LevelWarn:
		h.log.Warn("%s", message)
	case LevelInfo:
		h.log.Info("%s", message)
	default:
		h.log.Debug("%s", message)
	}
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		h.writeAttr(&b, a)
	}
	return &slogHandler{log: h.log, attrs: b.String(), groups: h.groups}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &slogHandler{log: h.log, attrs: h.attrs, groups: h.groups + name + "."}
}

func (h *slogHandler) writeAttr(b *strings.Builder, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	b.WriteString(h.groups)
	b.WriteString(a.String())
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}
