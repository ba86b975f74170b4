package realtime

import (
	"log/slog"

	"go.uber.org/zap"
)

// Log categories used by the client.
const (
	CategoryConnection = "connection"
	CategoryReconnect  = "reconnect"
	CategoryHeartbeat  = "heartbeat"
	CategoryQueue      = "queue"
	CategoryDispatch   = "dispatch"
)

// Logger receives the client's diagnostics. args are alternating
// key/value pairs, as with log/slog.
type Logger interface {
	Debug(category, msg string, args ...any)
	Info(category, msg string, args ...any)
	Warn(category, msg string, args ...any)
	Error(category, msg string, args ...any)
}

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger adapts a *slog.Logger. A nil logger uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return slogLogger{l: l}
}

func (s slogLogger) Debug(category, msg string, args ...any) {
	s.l.Debug(msg, withCategory(category, args)...)
}

func (s slogLogger) Info(category, msg string, args ...any) {
	s.l.Info(msg, withCategory(category, args)...)
}

func (s slogLogger) Warn(category, msg string, args ...any) {
	s.l.Warn(msg, withCategory(category, args)...)
}

func (s slogLogger) Error(category, msg string, args ...any) {
	s.l.Error(msg, withCategory(category, args)...)
}

type zapLogger struct {
	l *zap.SugaredLogger
}

// NewZapLogger adapts a *zap.Logger. A nil logger discards everything.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return zapLogger{l: l.Sugar()}
}

func (z zapLogger) Debug(category, msg string, args ...any) {
	z.l.Debugw(msg, withCategory(category, args)...)
}

func (z zapLogger) Info(category, msg string, args ...any) {
	z.l.Infow(msg, withCategory(category, args)...)
}

func (z zapLogger) Warn(category, msg string, args ...any) {
	z.l.Warnw(msg, withCategory(category, args)...)
}

func (z zapLogger) Error(category, msg string, args ...any) {
	z.l.Errorw(msg, withCategory(category, args)...)
}

// NopLogger discards all diagnostics.
type NopLogger struct{}

func (NopLogger) Debug(string, string, ...any) {}
func (NopLogger) Info(string, string, ...any)  {}
func (NopLogger) Warn(string, string, ...any)  {}
func (NopLogger) Error(string, string, ...any) {}

func withCategory(category string, args []any) []any {
	out := make([]any, 0, len(args)+2)
	out = append(out, "category", category)
	return append(out, args...)
}
