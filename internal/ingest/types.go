// Package ingest implements the spreadsheet ingestion pipeline: decoding an
// uploaded workbook into rows, validating those rows against the record
// schema, and bulk-persisting the result. The pipeline is synchronous and
// all-or-nothing per request; it has no UI or transport dependencies.
package ingest

import (
	"context"
	"time"
)

// UploadedFile is the ephemeral on-disk artifact for a single request.
// The pipeline owns the file at Path for the duration of one run and
// deletes it on every exit path, success or failure.
type UploadedFile struct {
	Path string // absolute path of the temporary artifact
	Name string // original client-supplied file name
	Size int64  // size in bytes
}

// RawRow maps column headers to decoded cell values. Values are string,
// int64, float64, or bool depending on what the cell held; empty cells
// are omitted from the map entirely.
type RawRow map[string]any

// Record is a validated row ready for persistence.
type Record struct {
	Name  string
	Age   int64
	Email string // normalized: trimmed and lower-cased
}

// Result is the outcome of a successful ingestion run.
type Result struct {
	Inserted int
	Duration time.Duration
}

// Phase identifies where the pipeline currently is, or where it stopped.
type Phase string

const (
	PhaseReceived  Phase = "received"
	PhaseDecoded   Phase = "decoded"
	PhaseValidated Phase = "validated"
	PhasePersisted Phase = "persisted"
	PhaseCleaned   Phase = "cleaned"
	PhaseFailed    Phase = "failed"
)

// Decoder turns a spreadsheet file into an ordered sequence of raw rows.
type Decoder interface {
	Decode(path string) ([]RawRow, error)
}

// Persister submits a validated record set to the backing store as one
// bulk operation and reports how many documents were inserted.
type Persister interface {
	BulkInsert(ctx context.Context, records []Record) (int, error)
}

// RunRecord captures the outcome of one completed ingestion run for the
// history log. Outcome is "success" or the failing error kind.
type RunRecord struct {
	FileName string        `bson:"fileName" json:"fileName"`
	Outcome  string        `bson:"outcome" json:"outcome"`
	Inserted int           `bson:"inserted" json:"inserted"`
	Error    string        `bson:"error,omitempty" json:"error,omitempty"`
	Duration time.Duration `bson:"duration" json:"duration"`
	At       time.Time     `bson:"at" json:"at"`
}

// RunRecorder receives completed run records. Implementations must not
// block the pipeline on failure; errors are logged by the caller.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}
