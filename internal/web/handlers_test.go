package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/sheetdrop/internal/config"
	"github.com/JonMunkholm/sheetdrop/internal/ingest"
)

type fakeDecoder struct {
	rows []ingest.RawRow
	err  error
}

func (d fakeDecoder) Decode(path string) ([]ingest.RawRow, error) {
	return d.rows, d.err
}

type fakePersister struct {
	err error
}

func (p fakePersister) BulkInsert(ctx context.Context, records []ingest.Record) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	return len(records), nil
}

type fakeStore struct {
	runs    []ingest.RunRecord
	runsErr error
	pingErr error
}

func (s *fakeStore) RecentRuns(ctx context.Context, limit int) ([]ingest.RunRecord, error) {
	return s.runs, s.runsErr
}

func (s *fakeStore) Ping(ctx context.Context) error {
	return s.pingErr
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			RequestTimeout: 30 * time.Second,
		},
		Upload: config.UploadConfig{
			MaxFileSize:   1 << 20,
			TempDir:       t.TempDir(),
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
		},
	}
}

func newTestServer(t *testing.T, decoder ingest.Decoder, persister ingest.Persister, store *fakeStore) *Server {
	t.Helper()
	cfg := testConfig(t)
	pipeline := ingest.NewPipeline(decoder, persister, nil, nil)
	limiter := ingest.NewLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)
	return NewServer(cfg, pipeline, limiter, store, nil)
}

// uploadRequest builds a multipart POST /upload with the given form field
// carrying an arbitrary payload. The decoder is faked in these tests, so
// the payload bytes never need to be a real workbook.
func uploadRequest(t *testing.T, field string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "people.xlsx")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("payload")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return v
}

func validRows() []ingest.RawRow {
	return []ingest.RawRow{
		{"name": "Ana", "age": int64(30), "email": "ana@example.com"},
		{"name": "Bo", "age": int64(25), "email": "bo@example.com"},
	}
}

func TestHandleUpload_Success(t *testing.T) {
	srv := newTestServer(t, fakeDecoder{rows: validRows()}, fakePersister{}, &fakeStore{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, uploadFieldName))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	resp := decodeBody[uploadResponse](t, rec)
	if resp.InsertedCount != 2 {
		t.Errorf("insertedCount = %d, want 2", resp.InsertedCount)
	}
	if resp.Message == "" {
		t.Error("message should not be empty")
	}
}

func TestHandleUpload_MissingFileField(t *testing.T) {
	srv := newTestServer(t, fakeDecoder{rows: validRows()}, fakePersister{}, &fakeStore{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, "wrongField"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Message != ingest.ErrNoFile.Error() {
		t.Errorf("message = %q, want %q", resp.Message, ingest.ErrNoFile.Error())
	}
	if resp.Error != "" {
		t.Errorf("error field should be empty on a 400, got %q", resp.Error)
	}
}

func TestHandleUpload_NotMultipart(t *testing.T) {
	srv := newTestServer(t, fakeDecoder{rows: validRows()}, fakePersister{}, &fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("not a form"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleUpload_DecodeFailure(t *testing.T) {
	srv := newTestServer(t,
		fakeDecoder{err: &ingest.DecodeError{Reason: "not a readable xlsx workbook"}},
		fakePersister{}, &fakeStore{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, uploadFieldName))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Message != "failed to decode spreadsheet" {
		t.Errorf("message = %q", resp.Message)
	}
	if !strings.Contains(resp.Error, "not a readable xlsx workbook") {
		t.Errorf("error = %q, should carry the decode reason", resp.Error)
	}
}

func TestHandleUpload_ValidationFailure(t *testing.T) {
	rows := []ingest.RawRow{
		{"name": "Ana", "age": int64(-3), "email": "ana@example.com"},
	}
	srv := newTestServer(t, fakeDecoder{rows: rows}, fakePersister{}, &fakeStore{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, uploadFieldName))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Message != "spreadsheet failed validation" {
		t.Errorf("message = %q", resp.Message)
	}
	if !strings.Contains(resp.Error, "age") {
		t.Errorf("error = %q, should name the failing field", resp.Error)
	}
}

func TestHandleUpload_DuplicateKey(t *testing.T) {
	srv := newTestServer(t, fakeDecoder{rows: validRows()},
		fakePersister{err: &ingest.PersistenceError{
			Kind:   ingest.KindDuplicateKey,
			Detail: "E11000 duplicate key",
		}},
		&fakeStore{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, uploadFieldName))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Message != "duplicate email already exists" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestHandleUpload_StoreUnavailable(t *testing.T) {
	srv := newTestServer(t, fakeDecoder{rows: validRows()},
		fakePersister{err: &ingest.PersistenceError{
			Kind:   ingest.KindConnectionUnavailable,
			Detail: "document store unavailable",
		}},
		&fakeStore{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, uploadFieldName))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Message != "failed to persist records" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestHandleUpload_LimiterSaturated(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.MaxConcurrent = 1
	cfg.Upload.MaxWaitTime = 10 * time.Millisecond

	pipeline := ingest.NewPipeline(fakeDecoder{rows: validRows()}, fakePersister{}, nil, nil)
	limiter := ingest.NewLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)
	srv := NewServer(cfg, pipeline, limiter, &fakeStore{}, nil)

	// Hold the only slot so the request cannot acquire one.
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer limiter.Release()

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, uploadFieldName))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "5" {
		t.Errorf("Retry-After = %q, want %q", got, "5")
	}
}

func TestHandleIndex(t *testing.T) {
	srv := newTestServer(t, fakeDecoder{}, fakePersister{}, &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(rec.Body.String(), uploadFieldName) {
		t.Errorf("upload form should reference the %q field", uploadFieldName)
	}
}

func TestHandleHistory(t *testing.T) {
	store := &fakeStore{runs: []ingest.RunRecord{
		{FileName: "people.xlsx", Outcome: "success", Inserted: 2, At: time.Now()},
	}}
	srv := newTestServer(t, fakeDecoder{}, fakePersister{}, store)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	runs := decodeBody[[]ingest.RunRecord](t, rec)
	if len(runs) != 1 || runs[0].FileName != "people.xlsx" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestHandleHistory_EmptyIsArray(t *testing.T) {
	srv := newTestServer(t, fakeDecoder{}, fakePersister{}, &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %q, want empty JSON array", body)
	}
}

func TestHandleHistory_StoreError(t *testing.T) {
	srv := newTestServer(t, fakeDecoder{}, fakePersister{},
		&fakeStore{runsErr: errors.New("find failed")})

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
	}{
		{name: "healthy", pingErr: nil, wantStatus: http.StatusOK},
		{name: "store down", pingErr: errors.New("no reachable servers"), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, fakeDecoder{}, fakePersister{}, &fakeStore{pingErr: tt.pingErr})

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "absent", query: "", want: 20},
		{name: "valid", query: "limit=5", want: 5},
		{name: "zero falls back", query: "limit=0", want: 20},
		{name: "negative falls back", query: "limit=-3", want: 20},
		{name: "garbage falls back", query: "limit=abc", want: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/history?"+tt.query, nil)
			if got := parseIntParam(req, "limit", 20); got != tt.want {
				t.Errorf("parseIntParam() = %d, want %d", got, tt.want)
			}
		})
	}
}
