package obs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusRetrying = "retrying"
	StatusSkipped  = "skipped"

	ErrKindValidation = "validation"
	ErrKindNotFound   = "not_found"
	ErrKindConflict   = "conflict"
	ErrKindTimeout    = "timeout"
	ErrKindInternal   = "internal"
	ErrKindDatabase   = "database"
	ErrKindKafka      = "kafka"
	ErrKindProtocol   = "protocol"
)

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|secret|token|key|auth|credential)\s*[:=]\s*["']?[^"'\s]+["']?`),
	regexp.MustCompile(`(?i)(email)\s*[:=]\s*["']?[^"'\s@]+@[^"'\s]+\.[^"'\s]+["']?`),
	regexp.MustCompile(`(?i)(card|iban)\s*[:=]\s*["']?[\d\-\s]+["']?`),
}

// SagaFields identifies the saga hop a log record belongs to.
type SagaFields struct {
	OrderID       string
	TransactionID string
	EventID       string
	Source        string
}

type sagaKey struct{}

// WithSaga stores saga correlation fields in ctx. Empty fields keep the
// value already present in ctx.
func WithSaga(ctx context.Context, f SagaFields) context.Context {
	if prev, ok := SagaFromContext(ctx); ok {
		if f.OrderID == "" {
			f.OrderID = prev.OrderID
		}
		if f.TransactionID == "" {
			f.TransactionID = prev.TransactionID
		}
		if f.EventID == "" {
			f.EventID = prev.EventID
		}
		if f.Source == "" {
			f.Source = prev.Source
		}
	}
	return context.WithValue(ctx, sagaKey{}, f)
}

func SagaFromContext(ctx context.Context) (SagaFields, bool) {
	f, ok := ctx.Value(sagaKey{}).(SagaFields)
	return f, ok
}

type Logger struct {
	base   *slog.Logger
	redact bool
	hash   bool
}

// NewLogger builds a logger writing to w with the service defaults from config.
func NewLogger(config Config, w io.Writer) *Logger {
	level := parseLogLevel(config.LogLevel)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	var handler slog.Handler
	if config.LogPretty {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	hostname, _ := os.Hostname()
	return &Logger{
		base: slog.New(handler).With(
			"service", config.ServiceName,
			"version", config.ServiceVersion,
			"env", config.Environment,
			"hostname", hostname,
			"git_sha", gitSHA(),
		),
		redact: config.LogRedactText,
		hash:   config.LogHashPII,
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func gitSHA() string {
	for _, name := range []string{"GIT_SHA", "COMMIT_SHA"} {
		if sha := os.Getenv(name); sha != "" {
			return sha
		}
	}
	return "unknown"
}

func correlationAttrs(ctx context.Context) []any {
	var attrs []any
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		attrs = append(attrs, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	f, ok := SagaFromContext(ctx)
	if !ok {
		return attrs
	}
	if f.OrderID != "" {
		attrs = append(attrs, "order_id", f.OrderID)
	}
	if f.TransactionID != "" {
		attrs = append(attrs, "transaction_id", f.TransactionID)
	}
	if f.EventID != "" {
		attrs = append(attrs, "event_id", f.EventID)
	}
	if f.Source != "" {
		attrs = append(attrs, "saga_source", f.Source)
	}
	return attrs
}

func (l *Logger) mask(s string) string {
	if l.hash {
		sum := sha256.Sum256([]byte(s))
		return fmt.Sprintf("[REDACTED:%s]", hex.EncodeToString(sum[:8]))
	}
	return "[REDACTED]"
}

func (l *Logger) redactText(msg string) string {
	if !l.redact {
		return msg
	}
	for _, pattern := range secretPatterns {
		msg = pattern.ReplaceAllStringFunc(msg, l.mask)
	}
	return msg
}

func (l *Logger) redactAttrs(attrs []any) []any {
	if !l.redact {
		return attrs
	}
	out := make([]any, len(attrs))
	copy(out, attrs)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok {
			continue
		}
		value, ok := out[i+1].(string)
		if !ok {
			continue
		}
		for _, pattern := range secretPatterns {
			if pattern.MatchString(key + ": " + value) {
				out[i+1] = l.mask(value)
				break
			}
		}
	}
	return out
}

func (l *Logger) Log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	attrs = append(l.redactAttrs(attrs), correlationAttrs(ctx)...)
	l.base.Log(ctx, level, l.redactText(msg), attrs...)
}

func (l *Logger) Debug(ctx context.Context, msg string, attrs ...any) {
	l.Log(ctx, slog.LevelDebug, msg, attrs...)
}

func (l *Logger) Info(ctx context.Context, msg string, attrs ...any) {
	l.Log(ctx, slog.LevelInfo, msg, attrs...)
}

func (l *Logger) Warn(ctx context.Context, msg string, attrs ...any) {
	l.Log(ctx, slog.LevelWarn, msg, attrs...)
}

func (l *Logger) Error(ctx context.Context, msg string, err error, attrs ...any) {
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	l.Log(ctx, slog.LevelError, msg, attrs...)
}

// Event logs a named lifecycle event such as "saga.route" with an outcome status.
func (l *Logger) Event(ctx context.Context, event, status string, attrs ...any) {
	l.Info(ctx, event, append([]any{"event", event, "status", status}, attrs...)...)
}

func (l *Logger) EventWithLatency(ctx context.Context, event, status string, latency time.Duration, attrs ...any) {
	l.Info(ctx, event, append([]any{
		"event", event,
		"status", status,
		"latency_ms", latency.Milliseconds(),
	}, attrs...)...)
}

func StartTimer() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}

func globalLogger() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalObs == nil {
		return nil
	}
	return globalObs.logger
}

func Debug(ctx context.Context, msg string, attrs ...any) {
	if l := globalLogger(); l != nil {
		l.Debug(ctx, msg, attrs...)
	}
}

func Info(ctx context.Context, msg string, attrs ...any) {
	if l := globalLogger(); l != nil {
		l.Info(ctx, msg, attrs...)
	}
}

func Warn(ctx context.Context, msg string, attrs ...any) {
	if l := globalLogger(); l != nil {
		l.Warn(ctx, msg, attrs...)
	}
}

func Error(ctx context.Context, msg string, err error, attrs ...any) {
	if l := globalLogger(); l != nil {
		l.Error(ctx, msg, err, attrs...)
	}
}

func Event(ctx context.Context, event, status string, attrs ...any) {
	if l := globalLogger(); l != nil {
		l.Event(ctx, event, status, attrs...)
	}
}

func EventWithLatency(ctx context.Context, event, status string, latency time.Duration, attrs ...any) {
	if l := globalLogger(); l != nil {
		l.EventWithLatency(ctx, event, status, latency, attrs...)
	}
}
