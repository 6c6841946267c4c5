package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogUsesRequestLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	slog.SetDefault(NewLoggerWithWriters(slog.LevelInfo, &buf))

	h := WithRequestID(WithRequestLog(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"missing"}`))
	})))
	req := httptest.NewRequest(http.MethodGet, "/api/documents/r1", nil)
	req.Header.Set("X-Request-Id", "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log %q: %v", buf.String(), err)
	}
	if rec["request_id"] != "req-42" || rec["level"] != "WARN" || rec["status"] != float64(404) {
		t.Fatalf("unexpected log record %v", rec)
	}
	if rec["bytes"] != float64(len(`{"error":"missing"}`)) {
		t.Fatalf("unexpected byte count %v", rec["bytes"])
	}
}
