package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"vetrecords/internal/ratelimit"
	"vetrecords/pkg/pipeline"
	"vetrecords/pkg/queue"
	"vetrecords/pkg/storage"
	"vetrecords/pkg/store"
	"vetrecords/services/records/internal/app"
)

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	runs := store.NewMemoryStore()
	orch, err := pipeline.New(pipeline.Config{Store: runs, Files: files, Queue: queue.NewMemoryQueue(queue.MemoryQueueConfig{})})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	core, err := app.New(app.Config{Store: runs, Files: files, Processor: orch, MaxUploadBytes: 4096})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	cfg.App = core
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func upload(t *testing.T, baseURL, filename, content string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	_ = mw.Close()
	resp, err := http.Post(baseURL+"/api/documents/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload request: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	return resp
}

func TestDocumentLifecycle(t *testing.T) {
	srv := newTestServer(t, Config{})

	resp := upload(t, srv.URL, "bella.pdf", "%PDF-1.4 exam")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var up app.Upload
	decode(t, resp, &up)
	if up.ID == "" || up.Status != "uploaded" || up.Size != int64(len("%PDF-1.4 exam")) {
		t.Fatalf("unexpected upload %+v", up)
	}

	var list struct {
		Documents []map[string]any `json:"documents"`
		Count     int              `json:"count"`
	}
	decode(t, get(t, srv.URL+"/api/documents"), &list)
	if list.Count != 1 || list.Documents[0]["id"] != up.ID || list.Documents[0]["document_type"] != "pdf" {
		t.Fatalf("unexpected list %+v", list)
	}

	resp = postJSON(t, srv.URL+"/api/documents/process", `{"file_id":"`+up.ID+`"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("process status = %d", resp.StatusCode)
	}
	var ticket map[string]string
	decode(t, resp, &ticket)
	if ticket["file_id"] != up.ID || ticket["status"] != "processing" || ticket["status_url"] != "/api/documents/"+up.ID+"/status" {
		t.Fatalf("unexpected ticket %v", ticket)
	}

	resp = postJSON(t, srv.URL+"/api/documents/process", `{"file_id":"`+up.ID+`"}`)
	var conflict errorResponse
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second process status = %d", resp.StatusCode)
	}
	decode(t, resp, &conflict)
	if conflict.Code != "DOCUMENT_INVALID_STATE" || conflict.RequestID == "" {
		t.Fatalf("unexpected conflict body %+v", conflict)
	}

	var status map[string]string
	decode(t, get(t, srv.URL+"/api/documents/"+up.ID+"/status"), &status)
	if status["status"] != "processing" {
		t.Fatalf("unexpected status %v", status)
	}

	var detail map[string]any
	decode(t, get(t, srv.URL+"/api/documents/"+up.ID), &detail)
	if detail["file_id"] != up.ID || detail["extracted_text"] != nil || detail["structured_data"] != nil {
		t.Fatalf("unexpected detail %v", detail)
	}

	resp = get(t, srv.URL+"/api/documents/"+up.ID+"/metrics")
	var noMetrics errorResponse
	decode(t, resp, &noMetrics)
	if resp.StatusCode != http.StatusNotFound || noMetrics.Code != "METRICS_NOT_FOUND" {
		t.Fatalf("unexpected metrics response %d %+v", resp.StatusCode, noMetrics)
	}
}

func TestErrorCodes(t *testing.T) {
	srv := newTestServer(t, Config{})
	cases := []struct {
		name   string
		resp   func() *http.Response
		status int
		code   string
	}{
		{"unknown document", func() *http.Response { return get(t, srv.URL+"/api/documents/nope") }, http.StatusNotFound, "DOCUMENT_NOT_FOUND"},
		{"unknown status", func() *http.Response { return get(t, srv.URL+"/api/documents/nope/status") }, http.StatusNotFound, "DOCUMENT_NOT_FOUND"},
		{"process unknown", func() *http.Response { return postJSON(t, srv.URL+"/api/documents/process", `{"file_id":"nope"}`) }, http.StatusNotFound, "DOCUMENT_NOT_FOUND"},
		{"process bad json", func() *http.Response { return postJSON(t, srv.URL+"/api/documents/process", `{`) }, http.StatusBadRequest, "DOCUMENT_INVALID_REQUEST"},
		{"process blank id", func() *http.Response { return postJSON(t, srv.URL+"/api/documents/process", `{}`) }, http.StatusBadRequest, "DOCUMENT_INVALID_REQUEST"},
		{"bad extension", func() *http.Response { return upload(t, srv.URL, "notes.txt", "hello") }, http.StatusBadRequest, "DOCUMENT_UNSUPPORTED_FILE_TYPE"},
		{"empty file", func() *http.Response { return upload(t, srv.URL, "scan.png", "") }, http.StatusBadRequest, "DOCUMENT_INVALID_REQUEST"},
		{"too large", func() *http.Response { return upload(t, srv.URL, "scan.png", strings.Repeat("x", 5000)) }, http.StatusBadRequest, "DOCUMENT_FILE_TOO_LARGE"},
		{"wrong method", func() *http.Response { return get(t, srv.URL+"/api/documents/upload") }, http.StatusMethodNotAllowed, "SYSTEM_METHOD_NOT_ALLOWED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := tc.resp()
			var body errorResponse
			decode(t, resp, &body)
			if resp.StatusCode != tc.status || body.Code != tc.code {
				t.Fatalf("got %d %+v, want %d %s", resp.StatusCode, body, tc.status, tc.code)
			}
		})
	}
}

func TestUploadRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "", 1, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	srv := newTestServer(t, Config{UploadLimiter: limiter})

	first := upload(t, srv.URL, "a.png", "png")
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first upload status = %d", first.StatusCode)
	}
	second := upload(t, srv.URL, "b.png", "png")
	var body errorResponse
	decode(t, second, &body)
	if second.StatusCode != http.StatusTooManyRequests || body.Code != "RATE_LIMITED" {
		t.Fatalf("expected 429 RATE_LIMITED, got %d %+v", second.StatusCode, body)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestExportAndHealth(t *testing.T) {
	srv := newTestServer(t, Config{})
	resp := get(t, srv.URL+"/healthz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp = get(t, srv.URL+"/api/documents/metrics/export.xlsx")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "spreadsheetml") {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "processing-metrics.xlsx") {
		t.Fatalf("unexpected disposition %q", resp.Header.Get("Content-Disposition"))
	}
}
