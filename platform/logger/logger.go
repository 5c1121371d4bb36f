// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// TenantIDKey is the context key for tenant ID
	TenantIDKey contextKey = "tenant_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id and tenant_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("request_id", requestID))}
	}

	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok && tenantID != "" {
		newLogger = newLogger.WithTenantID(tenantID)
	}

	return newLogger
}

// WithTenantID returns a logger with tenant ID
func (l *Logger) WithTenantID(tenantID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("tenant_id", tenantID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// StageApplied logs a successful stage transition.
func (l *Logger) StageApplied(leadID, previousStage, newStage, origin string, created bool) {
	l.Info("stage_applied",
		slog.String("lead_id", leadID),
		slog.String("previous_stage", previousStage),
		slog.String("new_stage", newStage),
		slog.String("origin", origin),
		slog.Bool("created", created),
	)
}

// StageSkipped logs a stage apply that resulted in no write.
func (l *Logger) StageSkipped(leadRef, reason, origin string) {
	l.Debug("stage_skipped",
		slog.String("lead_ref", leadRef),
		slog.String("reason", reason),
		slog.String("origin", origin),
	)
}

// ResolutionAmbiguous logs a contact match that found more than one candidate.
func (l *Logger) ResolutionAmbiguous(leadRef, pickedID string, candidates int) {
	l.Warn("resolution_ambiguous",
		slog.String("lead_ref", leadRef),
		slog.String("picked_id", pickedID),
		slog.Int("candidates", candidates),
	)
}

// BroadcastError logs a broadcast channel failure.
func (l *Logger) BroadcastError(channel string, err error) {
	l.Warn("broadcast_error",
		slog.String("channel", channel),
		slog.String("error", err.Error()),
	)
}

// PollTickFailed logs a skipped reconciliation tick.
func (l *Logger) PollTickFailed(err error) {
	l.Warn("poll_tick_failed",
		slog.String("error", err.Error()),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
