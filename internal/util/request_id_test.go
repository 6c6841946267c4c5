package util

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestID(t *testing.T) {
	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"propagates caller id", "clinic-gw-7f3a", true},
		{"generates when missing", "", false},
		{"replaces whitespace", "bad id\twith spaces", false},
		{"replaces oversized id", strings.Repeat("r", maxRequestIDLength+1), false},
		{"keeps id at the length limit", strings.Repeat("r", maxRequestIDLength), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			var logged bool
			h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromRequest(r)
				logged = LoggerFromContext(r.Context()) != slog.Default()
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/documents/run-1/status", nil)
			if tc.incoming != "" {
				req.Header.Set(requestIDHeader, tc.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" {
				t.Fatalf("expected request id in context")
			}
			if got := rec.Header().Get(requestIDHeader); got != seen {
				t.Fatalf("response id %q differs from context id %q", got, seen)
			}
			if tc.keep != (seen == tc.incoming) {
				t.Fatalf("keep=%v but got id %q for incoming %q", tc.keep, seen, tc.incoming)
			}
			if !logged {
				t.Fatalf("expected request logger in context")
			}
		})
	}
}

func TestRequestIDFromNil(t *testing.T) {
	if RequestIDFromRequest(nil) != "" {
		t.Fatalf("nil request should have no id")
	}
}
