// Package logger provides structured logging utilities.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// New creates a JSON logger writing to stdout at the given level.
func New(level string) (*Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))
	config.Sampling = nil
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// NewDevelopment creates a console logger with colored levels.
func NewDevelopment() (*Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// NewNop returns a logger that discards everything. Intended for tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Named returns a child logger scoped to a component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.Named(component)}
}

// WithContext scopes a logger to one HTTP request.
func (l *Logger) WithContext(correlationID, userID string) *Logger {
	return l.With(zap.String("correlation_id", correlationID), UserID(userID))
}

// WithConversation scopes a logger to one conversation.
func (l *Logger) WithConversation(conversationID, userID string) *Logger {
	return l.With(ConversationID(conversationID), UserID(userID))
}

// Field constructors for keys shared across packages.

func UserID(id string) zap.Field { return zap.String("user_id", id) }

func ConversationID(id string) zap.Field { return zap.String("conversation_id", id) }

func Provider(name string) zap.Field { return zap.String("provider", name) }

func Kind[T ~string](kind T) zap.Field { return zap.String("kind", string(kind)) }

func parseLevel(level string) zapcore.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zapcore.WarnLevel
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

var global *Logger

func init() {
	if os.Getenv("ENV") == "development" {
		global, _ = NewDevelopment()
	} else {
		global, _ = New("info")
	}
}

// Global returns the process-wide logger.
func Global() *Logger {
	return global
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *Logger) {
	global = l
}
