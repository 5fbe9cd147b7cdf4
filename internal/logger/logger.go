// Package logger provides the colored console slog handler used by the
// command-line tools.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const timeFormat = "2006-01-02T15:04:05.000"

// ConsoleHandler writes one colored line per record:
//
//	time | LEVEL | message key=value ...
type ConsoleHandler struct {
	lock   *sync.Mutex
	writer io.Writer
	level  slog.Leveler
	attrs  string
	group  string
}

// NewConsoleHandler returns a handler writing records at or above level.
func NewConsoleHandler(writer io.Writer, level slog.Leveler) *ConsoleHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ConsoleHandler{lock: &sync.Mutex{}, writer: writer, level: level}
}

// New returns a logger backed by a ConsoleHandler.
func New(level slog.Level, writer io.Writer) *slog.Logger {
	return slog.New(NewConsoleHandler(writer, level))
}

// ParseLevel accepts debug, info, warn or error in any case. An empty
// string means info.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(name) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

func (handler *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level.Level()
}

func (handler *ConsoleHandler) Handle(_ context.Context, record slog.Record) error {
	var line strings.Builder
	line.WriteString(color.GreenString(record.Time.Format(timeFormat)))
	line.WriteString(" | ")
	line.WriteString(levelString(record.Level))
	line.WriteString(" | ")
	line.WriteString(color.CyanString(record.Message))
	line.WriteString(handler.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		line.WriteString(formatAttr(handler.group, attr))
		return true
	})
	line.WriteByte('\n')

	handler.lock.Lock()
	defer handler.lock.Unlock()
	_, err := io.WriteString(handler.writer, line.String())
	return err
}

func (handler *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return handler
	}
	clone := *handler
	var extra strings.Builder
	for _, attr := range attrs {
		extra.WriteString(formatAttr(handler.group, attr))
	}
	clone.attrs += extra.String()
	return &clone
}

func (handler *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return handler
	}
	clone := *handler
	if clone.group == "" {
		clone.group = name
	} else {
		clone.group += "." + name
	}
	return &clone
}

func levelString(level slog.Level) string {
	text := fmt.Sprintf("%-5s", level.String())
	switch {
	case level >= slog.LevelError:
		return color.RedString(text)
	case level >= slog.LevelWarn:
		return color.YellowString(text)
	case level >= slog.LevelInfo:
		return color.BlueString(text)
	default:
		return color.MagentaString(text)
	}
}

func formatAttr(group string, attr slog.Attr) string {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return ""
	}

	key := attr.Key
	if group != "" {
		key = group + "." + key
	}
	if attr.Value.Kind() == slog.KindGroup {
		var nested strings.Builder
		for _, member := range attr.Value.Group() {
			nested.WriteString(formatAttr(key, member))
		}
		return nested.String()
	}
	return color.CyanString(" %s=%v", key, attr.Value.Any())
}
