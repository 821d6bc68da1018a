package log

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type ContextKey string

const LoggerContextKey ContextKey = "logger"

// NewContext returns ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext returns the request logger, or one wrapping slog.Default.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: slog.Default(), component: "unknown"}
}

// StructuredLogger emits the fixed-shape records for requests and ledger changes.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
		WithHTTPResponse(statusCode, durationMs, statusCode < 400).
		WithClientIP(clientIP).
		WithComponent(ComponentHTTP)

	sl.logger.Logger.Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
}

// LogPaymentRecorded logs a payment accepted by the membership API.
func (sl *StructuredLogger) LogPaymentRecorded(ctx context.Context, memberID string, year int, months []int, method string, tags []string) {
	fields := NewFields().
		WithPayment(memberID, year, months, method).
		WithTags(tags).
		WithOperation(OpPay).
		WithComponent(ComponentMembers)

	sl.logger.Logger.InfoContext(ctx, "Payment recorded", fields.ToSlice()...)
}

// LogCommandFailed logs a rejected or failed command.
func (sl *StructuredLogger) LogCommandFailed(ctx context.Context, op string, err error, errorType string) {
	fields := NewFields().
		WithError(err).
		WithErrorType(errorType).
		WithOperation(op).
		WithComponent(ComponentMembers)

	level := slog.LevelError
	if errorType == ErrorTypeValidation || errorType == ErrorTypeDomain || errorType == ErrorTypeNotFound {
		level = slog.LevelWarn
	}
	sl.logger.Logger.Log(ctx, level, "Command "+strings.ReplaceAll(op, "_", " ")+" failed", fields.ToSlice()...)
}
