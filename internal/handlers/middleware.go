package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"contactrecon/internal/logger"
	"contactrecon/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFromContext returns the id assigned by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID reuses an incoming X-Request-ID or generates one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// AccessLog logs one line per request and counts it by route and status.
func AccessLog(log *zap.Logger, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.ObserveRequest(route, rec.status)

			log.Info(route,
				zap.String(logger.FieldRequestID, RequestIDFromContext(r.Context())),
				zap.String(logger.FieldMethod, r.Method),
				zap.String(logger.FieldPath, r.URL.Path),
				zap.Int(logger.FieldStatus, rec.status),
				zap.Duration(logger.FieldDuration, time.Since(start)),
				zap.String(logger.FieldRemote, r.RemoteAddr),
			)
		})
	}
}

// Recovery turns a panic into a 500 response and logs the stack.
func Recovery(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("recovered from panic",
						zap.String(logger.FieldRequestID, RequestIDFromContext(r.Context())),
						zap.String(logger.FieldMethod, r.Method),
						zap.String(logger.FieldPath, r.URL.Path),
						zap.String("panic", fmt.Sprintf("%v", rec)),
						zap.String("stack", string(debug.Stack())),
					)
					writeError(w, r, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
