package web

// handlers.go maps pipeline outcomes onto the wire contract:
//
//	200 {message, insertedCount} on full success
//	400 {message}                when no file field was present
//	500 {message, error}         for decode, validation, or persistence
//	                             failures; error echoes the underlying
//	                             failure message
//
// Error kinds never leak past this layer except as message strings.

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sheetdrop/internal/ingest"
	"github.com/JonMunkholm/sheetdrop/internal/logging"
)

// uploadFieldName is the multipart form field carrying the spreadsheet.
const uploadFieldName = "excelFile"

type uploadResponse struct {
	Message       string `json:"message"`
	InsertedCount int    `json:"insertedCount"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// handleIndex serves the static upload form.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "upload form unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// handleUpload accepts a spreadsheet, stages it to a temporary file, and
// runs the ingestion pipeline synchronously. The pipeline owns the staged
// file from Run onward and deletes it on every outcome.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)
	if err := r.ParseMultipartForm(s.cfg.Upload.MaxFileSize); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "file too large or invalid multipart form"})
		return
	}

	file, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		// A missing file field is the only client error in the taxonomy
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: ingest.ErrNoFile.Error()})
		return
	}
	defer file.Close()

	if err := s.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, ingest.ErrTooManyIngestions) {
			w.Header().Set("Retry-After", "5")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Message: "request cancelled"})
		return
	}
	defer s.limiter.Release()

	path, size, err := s.stageUpload(file)
	if err != nil {
		logging.FromContext(ctx).Error("failed to stage upload", "file", header.Filename, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Message: "failed to store uploaded file",
			Error:   err.Error(),
		})
		return
	}

	res, err := s.pipeline.Run(ctx, ingest.UploadedFile{
		Path: path,
		Name: header.Filename,
		Size: size,
	})
	if err != nil {
		s.respondPipelineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Message:       "file ingested successfully",
		InsertedCount: res.Inserted,
	})
}

// stageUpload copies the multipart file to a uniquely named temporary
// artifact and returns its path and size. On failure the partial file is
// removed here; from a successful return the pipeline owns the path.
func (s *Server) stageUpload(src multipart.File) (string, int64, error) {
	dir := s.cfg.Upload.TempDir
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, "upload-"+uuid.New().String()+".xlsx")
	dst, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}

	size, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}

	return path, size, nil
}

// respondPipelineError maps a pipeline error to its response shape.
func (s *Server) respondPipelineError(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context()).Error("ingestion failed",
		"outcome", ingest.Outcome(err),
		"error", err,
	)

	if errors.Is(err, ingest.ErrNoFile) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}

	message := "ingestion failed"
	var de *ingest.DecodeError
	var ve *ingest.ValidationError
	var pe *ingest.PersistenceError
	switch {
	case errors.As(err, &de):
		message = "failed to decode spreadsheet"
	case errors.As(err, &ve):
		message = "spreadsheet failed validation"
	case errors.As(err, &pe):
		if pe.Kind == ingest.KindDuplicateKey {
			message = "duplicate email already exists"
		} else {
			message = "failed to persist records"
		}
	}

	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Message: message,
		Error:   err.Error(),
	})
}

// handleHistory returns the most recent ingestion runs, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)

	runs, err := s.store.RecentRuns(r.Context(), limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list run history", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Message: "failed to load upload history",
			Error:   err.Error(),
		})
		return
	}
	if runs == nil {
		runs = []ingest.RunRecord{}
	}

	writeJSON(w, http.StatusOK, runs)
}

// handleHealth pings the document store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Message: "document store unreachable",
			Error:   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
