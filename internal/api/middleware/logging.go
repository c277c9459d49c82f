package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const accessKey contextKey = "access"

// access collects fields that are only known deeper in the chain, such as
// the verified subject, for the request log line.
type access struct {
	subject string
}

// noteSubject records the caller for the access log. No-op outside RequestLogger.
func noteSubject(ctx context.Context, subject string) {
	if a, ok := ctx.Value(accessKey).(*access); ok {
		a.subject = subject
	}
}

// RequestLogger logs one line per completed request with status, bytes
// written, latency, request id and, on authenticated routes, the token
// subject. Health checks and scrapes are not logged.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			a := &access{}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), accessKey, a)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if a.subject != "" {
				fields = append(fields, zap.String("subject", a.subject))
			}

			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("http request", fields...)
			case status >= http.StatusBadRequest:
				logger.Warn("http request", fields...)
			default:
				logger.Info("http request", fields...)
			}
		})
	}
}
