package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts github.com/rs/zerolog to the Logger interface for
// applications that already standardize on zerolog.
type ZerologLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	level  Level
}

// NewZerolog creates a zerolog-backed Logger writing to w with the given minimum level.
// If w is nil, os.Stdout is used.
func NewZerolog(level Level, w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}

	inst := &ZerologLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
	inst.SetLevel(level)

	return inst
}

func (l *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	l.emit(l.logger.Debug(), msg, keysAndValues...)
}

func (l *ZerologLogger) Info(msg string, keysAndValues ...any) {
	l.emit(l.logger.Info(), msg, keysAndValues...)
}

func (l *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	l.emit(l.logger.Warn(), msg, keysAndValues...)
}

func (l *ZerologLogger) Error(msg string, keysAndValues ...any) {
	l.emit(l.logger.Error(), msg, keysAndValues...)
}

func (l *ZerologLogger) Fatal(msg string, keysAndValues ...any) {
	l.emit(l.logger.Fatal(), msg, keysAndValues...)
}

func (l *ZerologLogger) With(keyValues ...any) Logger {
	ctx := l.logger.With()
	for i := 0; i+1 < len(keyValues); i += 2 {
		ctx = ctx.Interface(toKey(keyValues[i]), keyValues[i+1])
	}

	return &ZerologLogger{logger: ctx.Logger(), level: l.level}
}

func (l *ZerologLogger) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.level
}

func (l *ZerologLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.level = level
	l.logger = l.logger.Level(toZerologLevel(level))
}

func (l *ZerologLogger) emit(ev *zerolog.Event, msg string, keysAndValues ...any) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ev = ev.Interface(toKey(keysAndValues[i]), keysAndValues[i+1])
	}
	ev.Msg(msg)
}

func toKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toZerologLevel(level Level) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	default:
		return zerolog.ErrorLevel
	}
}
