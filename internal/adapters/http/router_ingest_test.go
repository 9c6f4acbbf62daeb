package httpadapter

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/42012606/Memex-Neural/internal/config"
	"github.com/42012606/Memex-Neural/internal/core/domain"
)

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestHealthzEndpoint(t *testing.T) {
	tr := newTestRouter(config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	tr.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected %s header to be set", requestIDHeader)
	}
}

func TestUploadDocumentSuccess(t *testing.T) {
	tr := newTestRouter(config.Config{MaxUploadMB: 1})
	body, contentType := multipartUpload(t, "invoice.txt", "hello", map[string]string{"owner": "alice", "model": "qwen2.5:14b"})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	tr.handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var doc domain.Document
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc.Status != domain.StatusPending || doc.OwnerID != "alice" {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if len(tr.ingest.uploaded) != 1 {
		t.Fatalf("expected one upload, got %d", len(tr.ingest.uploaded))
	}
	up := tr.ingest.uploaded[0]
	if up.Filename != "invoice.txt" || up.Model != "qwen2.5:14b" || tr.ingest.body != "hello" {
		t.Fatalf("unexpected upload request: %+v body=%q", up, tr.ingest.body)
	}
}

func TestUploadDocumentDefaultsOwner(t *testing.T) {
	tr := newTestRouter(config.Config{DefaultOwner: "family"})
	body, contentType := multipartUpload(t, "a.txt", "x", nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	tr.handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if got := tr.ingest.uploaded[0].OwnerID; got != "family" {
		t.Fatalf("expected default owner, got %q", got)
	}
}

func TestUploadDocumentWithoutFileReturns400(t *testing.T) {
	tr := newTestRouter(config.Config{})
	body, contentType := multipartUpload(t, "", "", map[string]string{"owner": "alice"})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	tr.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "multipart field 'file' is required") {
		t.Fatalf("expected validation detail, got %s", res.Body.String())
	}
}

func TestUploadDocumentTooLargeReturns413(t *testing.T) {
	tr := newTestRouter(config.Config{MaxUploadMB: 1})
	body, contentType := multipartUpload(t, "big.txt", strings.Repeat("a", 2<<20), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	tr.handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
	if len(tr.ingest.uploaded) != 0 {
		t.Fatalf("upload must not reach the use case")
	}
}

func TestDocumentLifecycleEndpoints(t *testing.T) {
	tr := newTestRouter(config.Config{})

	cases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/v1/documents/7", http.StatusOK},
		{http.MethodPost, "/v1/documents/7/retry", http.StatusAccepted},
		{http.MethodPost, "/v1/documents/7/reindex", http.StatusOK},
		{http.MethodDelete, "/v1/documents/7/vector", http.StatusOK},
		{http.MethodDelete, "/v1/documents/7", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		res := httptest.NewRecorder()
		tr.handler.ServeHTTP(res, req)
		if res.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d: %s", tc.method, tc.path, tc.status, res.Code, res.Body.String())
		}
	}

	if len(tr.ingest.retried) != 1 || tr.ingest.retried[0] != 7 {
		t.Fatalf("unexpected retries: %v", tr.ingest.retried)
	}
	if len(tr.vectors.reindexed) != 1 || len(tr.vectors.removed) != 1 {
		t.Fatalf("unexpected vector calls: reindexed=%v removed=%v", tr.vectors.reindexed, tr.vectors.removed)
	}
	if len(tr.ingest.deleted) != 1 || tr.ingest.deleted[0] != 7 {
		t.Fatalf("unexpected deletes: %v", tr.ingest.deleted)
	}
}

func TestReindexReportsVectorized(t *testing.T) {
	tr := newTestRouter(config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/3/reindex", nil)
	res := httptest.NewRecorder()
	tr.handler.ServeHTTP(res, req)

	var payload struct {
		DocumentID int64 `json:"document_id"`
		Vectorized bool  `json:"vectorized"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.DocumentID != 3 || !payload.Vectorized {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestInvalidDocumentIDReturns400(t *testing.T) {
	tr := newTestRouter(config.Config{})
	for _, path := range []string{"/v1/documents/abc", "/v1/documents/0", "/v1/documents/-4/retry"} {
		method := http.MethodGet
		if strings.HasSuffix(path, "/retry") {
			method = http.MethodPost
		}
		req := httptest.NewRequest(method, path, nil)
		res := httptest.NewRecorder()
		tr.handler.ServeHTTP(res, req)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, res.Code)
		}
	}
}
