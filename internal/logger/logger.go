// Package logger настраивает zerolog для сервиса и хранит логгер запроса
// в контексте.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

type Config struct {
	Level  string
	Format string
}

// New создаёт корневой логгер. Неизвестный уровень → info.
func New(cfg Config) zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

func NewWithWriter(cfg Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "amethyst").Logger()
}

// WithRequest: дочерний логгер запроса, привязанный к ctx.
// Достаётся через zerolog.Ctx.
func WithRequest(ctx context.Context, base zerolog.Logger, requestID, method, path, ip string) (context.Context, *zerolog.Logger) {
	l := base.With().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Str("ip", ip).
		Logger()
	return l.WithContext(ctx), &l
}

// WithAgent дописывает agent_id в логгер из ctx.
func WithAgent(ctx context.Context, agentID string) context.Context {
	l := zerolog.Ctx(ctx).With().Str("agent_id", agentID).Logger()
	return l.WithContext(ctx)
}
