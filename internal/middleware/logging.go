package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khanflow/voice-assistant/pkg/logger"
	"github.com/khanflow/voice-assistant/pkg/metrics"
)

// CorrelationIDKey is the context key for the correlation id.
const CorrelationIDKey ContextKey = "correlation_id"

// CorrelationHeader carries the correlation id on requests and responses.
const CorrelationHeader = "X-Correlation-ID"

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logging logs each request and records request metrics. Metrics are
// labelled with the chi route pattern so ids do not explode cardinality.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := r.Header.Get(CorrelationHeader)
			if correlationID == "" {
				correlationID = uuid.New().String()
			}

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			wrapped.Header().Set(CorrelationHeader, correlationID)

			// The user id is only known after Auth runs further down the
			// chain, so it is read back from this holder.
			holder := &requestInfo{}
			ctx := context.WithValue(r.Context(), CorrelationIDKey, correlationID)
			ctx = context.WithValue(ctx, requestInfoKey, holder)
			r = r.WithContext(ctx)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			log.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", wrapped.statusCode),
				zap.Int64("bytes", wrapped.written),
				zap.Duration("duration", duration),
				zap.String("correlation_id", correlationID),
				logger.UserID(holder.userID),
				zap.String("remote_addr", r.RemoteAddr),
			)

			metrics.RecordRequest(r.Method, route, strconv.Itoa(wrapped.statusCode), duration.Seconds())
		})
	}
}

type requestInfo struct {
	userID string
}

const requestInfoKey ContextKey = "request_info"

// noteUser records the authenticated user for the access log.
func noteUser(ctx context.Context, userID string) {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		info.userID = userID
	}
}

// GetCorrelationID gets the correlation id from context.
func GetCorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(CorrelationIDKey).(string)
	return v
}
