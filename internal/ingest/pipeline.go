package ingest

// pipeline.go is the ingestion orchestrator. One Run per inbound request,
// executed as a strictly sequential pipeline:
//
//	received -> decoded -> validated -> persisted -> cleaned
//
// with a failure exit from any step. Two invariants hold on every path:
//
//  1. The temporary artifact is deleted exactly once per run, whether the
//     run succeeded or failed. A deletion failure is logged, never
//     propagated, so it cannot mask the primary outcome.
//  2. The batch is all-or-nothing: the first invalid row, in-batch
//     duplicate, or persistence failure means zero records are committed.

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Pipeline coordinates decoder, validator, and persister for one upload at
// a time. Instances are safe for concurrent use; each Run is independent.
type Pipeline struct {
	decoder   Decoder
	persister Persister
	history   RunRecorder // optional
	metrics   *Metrics    // optional
}

// NewPipeline wires the pipeline dependencies. history and metrics may be
// nil; the pipeline then skips run recording and instrumentation.
func NewPipeline(decoder Decoder, persister Persister, history RunRecorder, metrics *Metrics) *Pipeline {
	return &Pipeline{
		decoder:   decoder,
		persister: persister,
		history:   history,
		metrics:   metrics,
	}
}

// Run executes one ingestion. On success the Result carries the number of
// records inserted, equal to the number of rows that passed validation.
func (p *Pipeline) Run(ctx context.Context, file UploadedFile) (Result, error) {
	start := time.Now()

	res, err := p.run(ctx, file)
	p.removeArtifact(ctx, file)

	res.Duration = time.Since(start)
	p.record(ctx, file, res, err)

	return res, err
}

func (p *Pipeline) run(ctx context.Context, file UploadedFile) (Result, error) {
	logger := slog.With("file", file.Name, "size", file.Size)

	if file.Path == "" {
		return Result{}, ErrNoFile
	}
	logger.DebugContext(ctx, "ingestion started", "phase", PhaseReceived)

	rows, err := p.decoder.Decode(file.Path)
	if err != nil {
		return Result{}, err
	}
	logger.DebugContext(ctx, "workbook decoded", "phase", PhaseDecoded, "rows", len(rows))

	records, err := MapRows(rows)
	if err != nil {
		return Result{}, err
	}
	logger.DebugContext(ctx, "rows validated", "phase", PhaseValidated, "records", len(records))

	inserted, err := p.persister.BulkInsert(ctx, records)
	if err != nil {
		return Result{}, err
	}
	logger.InfoContext(ctx, "ingestion complete", "phase", PhasePersisted, "inserted", inserted)

	return Result{Inserted: inserted}, nil
}

// removeArtifact deletes the temporary upload exactly once per run. An
// absent path (request without a file) is not an error.
func (p *Pipeline) removeArtifact(ctx context.Context, file UploadedFile) {
	if file.Path == "" {
		return
	}
	if err := os.Remove(file.Path); err != nil {
		slog.WarnContext(ctx, "failed to remove uploaded artifact", "path", file.Path, "error", err)
	}
}

// record writes the run outcome to history and metrics, best effort.
func (p *Pipeline) record(ctx context.Context, file UploadedFile, res Result, runErr error) {
	outcome := Outcome(runErr)
	p.metrics.observe(outcome, res.Inserted, res.Duration)

	if p.history == nil {
		return
	}

	rec := RunRecord{
		FileName: file.Name,
		Outcome:  outcome,
		Inserted: res.Inserted,
		Duration: res.Duration,
		At:       time.Now().UTC(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	// history must be written even when the request context is gone
	if err := p.history.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		slog.WarnContext(ctx, "failed to record ingestion run", "file", file.Name, "error", err)
	}
}
