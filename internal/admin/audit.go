package admin

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const maxAuditBodyBytes = 1024

// AuditMiddleware logs every mutating request with its outcome.
func AuditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	auditLogger := logger.With("component", "admin_audit")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = "unknown"
		}

		var bodySummary string
		if r.Body != nil {
			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBodyBytes+1))
			if err == nil {
				if len(bodyBytes) > maxAuditBodyBytes {
					bodySummary = string(bodyBytes[:maxAuditBodyBytes]) + "...(truncated)"
				} else {
					bodySummary = string(bodyBytes)
				}
				r.Body = readCloser{io.MultiReader(bytes.NewReader(bodyBytes), r.Body), r.Body}
			}
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		auditLogger.Info("admin audit",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
			"authenticated", r.Header.Get("Authorization") != "",
			"method", r.Method,
			"path", r.URL.Path,
			"body_summary", bodySummary,
			"response_status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type readCloser struct {
	io.Reader
	io.Closer
}
