package admin

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditMiddleware_LogsMutatingRequests(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	handler := middleware.RequestID(AuditMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodPost, "/strategies/3/execute", strings.NewReader(`{"reason":"manual"}`))
	req.Header.Set("Authorization", "Bearer t")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logBuf.Bytes(), &entry))
	assert.Equal(t, "admin audit", entry["msg"])
	assert.Equal(t, "POST", entry["method"])
	assert.Equal(t, "/strategies/3/execute", entry["path"])
	assert.Equal(t, `{"reason":"manual"}`, entry["body_summary"])
	assert.Equal(t, float64(http.StatusAccepted), entry["response_status"])
	assert.Equal(t, true, entry["authenticated"])
	assert.NotEqual(t, "unknown", entry["request_id"])
}

func TestAuditMiddleware_SkipsReads(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	handler := AuditMiddleware(logger, okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/strategies/3", nil))

	assert.Empty(t, logBuf.String())
}

func TestAuditMiddleware_TruncatesBody(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	var seen int
	handler := AuditMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		seen = buf.Len()
	}))
	body := strings.Repeat("a", maxAuditBodyBytes+10)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/strategies/3/execute", strings.NewReader(body)))

	assert.Equal(t, len(body), seen, "downstream sees the whole body")
	assert.Contains(t, logBuf.String(), "...(truncated)")
}
