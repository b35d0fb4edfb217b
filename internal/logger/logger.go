// Package logger provides structured logging for the dendrodb storage engine.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with engine-specific helpers.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // off, warn, info, debug
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// LevelFromEnv reads the DENDRODB_LOG environment variable (off/warn/info/debug)
// per the external CLI collaborator's contract; "" falls back to "info".
func LevelFromEnv() string {
	v := os.Getenv("DENDRODB_LOG")
	switch v {
	case "off", "warn", "info", "debug":
		return v
	default:
		return "info"
	}
}

// New creates a structured logger for the engine.
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "off":
		level = zerolog.Disabled
	case "warn":
		level = zerolog.WarnLevel
	case "info":
		level = zerolog.InfoLevel
	case "debug":
		level = zerolog.DebugLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "dendrodb").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything, used as a safe zero value.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger { return &l.zlog }

func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// With returns a logger scoped to a component (pager, wal, txn, engine, catalog).
func (l *Logger) With(component string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", component).Logger()}
}

// LogCommit logs a transaction commit with duration and page count.
func (l *Logger) LogCommit(txnID uint64, pages int, duration time.Duration, err error) {
	event := l.zlog.Debug()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}
	event.
		Uint64("txn_id", txnID).
		Int("pages", pages).
		Dur("duration_ms", duration).
		Msg("transaction commit")
}

// LogRecovery logs WAL recovery outcome.
func (l *Logger) LogRecovery(committed, uncommitted, replayed int) {
	l.zlog.Info().
		Int("committed_txns", committed).
		Int("uncommitted_txns", uncommitted).
		Int("replayed_pages", replayed).
		Msg("wal recovery complete")
}
