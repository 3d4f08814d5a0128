package ingest

// errors.go defines the ingestion error taxonomy. Every failure below the
// pipeline is wrapped into one of these kinds before it reaches the HTTP
// layer, which maps them to deterministic response shapes:
//
//	ErrNoFile          -> 400, no file field in the multipart form
//	DecodeError        -> 500, the upload is not a readable spreadsheet
//	ValidationError    -> 500, a row failed schema validation
//	PersistenceError   -> 500, the bulk insert failed (duplicate key,
//	                      store unreachable, or unknown)
//
// Cleanup failures are logged only and never surfaced to the caller.

import (
	"errors"
	"fmt"
)

// ErrNoFile indicates the request carried no uploaded file.
var ErrNoFile = errors.New("no file uploaded")

// DecodeError indicates the uploaded bytes are not a recognizable
// spreadsheet, or the workbook has no usable header row.
type DecodeError struct {
	Reason string
	Err    error // underlying decoder error, may be nil
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError identifies the first row that failed schema validation.
// Row is the 1-based position in the sheet, excluding the header row.
type ValidationError struct {
	Row    int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d: field %q: %s", e.Row, e.Field, e.Reason)
}

// PersistenceKind classifies a bulk-insert failure.
type PersistenceKind string

const (
	KindDuplicateKey          PersistenceKind = "duplicate_key"
	KindConnectionUnavailable PersistenceKind = "connection_unavailable"
	KindUnknown               PersistenceKind = "unknown"
)

// PersistenceError reports a failed bulk insert. The whole batch is
// treated as not committed; the store layer rolls back any documents a
// partially-applied bulk call managed to insert.
type PersistenceError struct {
	Kind   PersistenceKind
	Detail string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist (%s): %s", e.Kind, e.Detail)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Outcome returns the short label used for metrics and the run history.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}

	var de *DecodeError
	var ve *ValidationError
	var pe *PersistenceError

	switch {
	case errors.Is(err, ErrNoFile):
		return "no_file"
	case errors.As(err, &de):
		return "decode_error"
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &pe):
		if pe.Kind == KindDuplicateKey {
			return "duplicate_key"
		}
		return "persistence_error"
	default:
		return "error"
	}
}
