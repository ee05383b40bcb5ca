package logging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const loggerContextKey contextKey = "logger"

var fallbackLogger = NewLogger(true)

// RequestLogger stores a request-scoped logger in the context and logs
// the start and completion of every request. Mount it after
// middleware.RequestID and middleware.RealIP.
func RequestLogger(logger *Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLogger := logger.WithFields(map[string]any{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"remote_ip":  r.RemoteAddr,
			})
			reqLogger.Debug("request started", "user_agent", r.UserAgent())

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			r = middleware.WithLogEntry(r, &logEntry{logger: reqLogger})
			next.ServeHTTP(ww, r.WithContext(WithLogger(r.Context(), reqLogger)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}

			reqLogger.Log(r.Context(), level, "request completed",
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// logEntry lets chi's Recoverer report panics through the request logger.
type logEntry struct {
	logger *Logger
}

func (e *logEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra any) {}

func (e *logEntry) Panic(v any, stack []byte) {
	e.logger.Error("panic recovered",
		"panic", fmt.Sprint(v),
		"stack", string(stack),
	)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// LoggerFromContext retrieves the request logger if one is set.
func LoggerFromContext(ctx context.Context) (*Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*Logger)
	return logger, ok
}

// GetLoggerFromContext retrieves the request logger, falling back to a
// development logger outside of a request.
func GetLoggerFromContext(ctx context.Context) *Logger {
	if logger, ok := LoggerFromContext(ctx); ok {
		return logger
	}
	return fallbackLogger
}
