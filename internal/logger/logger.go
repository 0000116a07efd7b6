package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Level is a logging threshold. It shares its scale with slog.Level.
type Level = slog.Level

const (
	LevelTrace Level = slog.LevelDebug - 4
	LevelDebug Level = slog.LevelDebug
	LevelInfo  Level = slog.LevelInfo
	LevelWarn  Level = slog.LevelWarn
	LevelError Level = slog.LevelError
	LevelFatal Level = slog.LevelError + 4
)

// Options configures the handler fan-out installed by Setup.
type Options struct {
	Level   string
	File    string
	Journal bool
	Stderr  io.Writer
}

var (
	level = new(slog.LevelVar)

	mu      sync.Mutex
	current = newLogger([]slog.Handler{textHandler(os.Stderr)})
	closers []io.Closer
)

func textHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelName,
	})
}

func newLogger(handlers []slog.Handler) *slog.Logger {
	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

// Setup replaces the active handlers. Stderr text output is always present;
// a JSON file handler and the systemd journal handler are added on request.
func Setup(opts Options) error {
	if opts.Level != "" {
		lvl, err := ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		SetLevel(lvl)
	}

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	handlers := []slog.Handler{textHandler(stderr)}
	var opened []io.Closer

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		opened = append(opened, f)
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceLevelName,
		}))
	}

	if opts.Journal {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			Level: level,
			ReplaceGroup: func(key string) string {
				return toJournalKey(key)
			},
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			// journald is optional; keep going with the remaining handlers
			Warn("systemd journal unavailable: %v", err)
		} else {
			handlers = append(handlers, journal)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, c := range closers {
		c.Close()
	}
	closers = opened
	current = newLogger(handlers)
	return nil
}

// ParseLevel converts a level name into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal", "panic":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

// SetLevel changes the threshold for every handler.
func SetLevel(l Level) {
	level.Set(l)
}

// GetLevel returns the current threshold.
func GetLevel() Level {
	return level.Level()
}

func Trace(format string, args ...any) { logf(LevelTrace, format, args...) }
func Debug(format string, args ...any) { logf(LevelDebug, format, args...) }
func Info(format string, args ...any)  { logf(LevelInfo, format, args...) }
func Warn(format string, args ...any)  { logf(LevelWarn, format, args...) }
func Error(format string, args ...any) { logf(LevelError, format, args...) }

func logf(l Level, format string, args ...any) {
	mu.Lock()
	lg := current
	mu.Unlock()

	ctx := context.Background()
	if !lg.Enabled(ctx, l) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), l, fmt.Sprintf(format, args...), pcs[0])
	_ = lg.Handler().Handle(ctx, r)
}

func replaceLevelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch {
	case lvl < LevelDebug:
		a.Value = slog.StringValue("TRACE")
	case lvl >= LevelFatal:
		a.Value = slog.StringValue("FATAL")
	}
	return a
}

func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
}
