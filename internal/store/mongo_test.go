package store

import (
	"errors"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/JonMunkholm/sheetdrop/internal/ingest"
)

func duplicateKeyErr(msg string) error {
	return mongo.BulkWriteException{
		WriteErrors: []mongo.BulkWriteError{
			{
				WriteError: mongo.WriteError{
					Code:    11000,
					Message: msg,
				},
			},
		},
	}
}

func TestClassifyBulkError_DuplicateKey(t *testing.T) {
	err := classifyBulkError(duplicateKeyErr(`E11000 duplicate key error collection: sheetdrop.Data index: email_1 dup key: { email: "ana@x.com" }`))

	if err.Kind != ingest.KindDuplicateKey {
		t.Fatalf("Kind = %q, want %q", err.Kind, ingest.KindDuplicateKey)
	}
	if !strings.Contains(err.Detail, "ana@x.com") {
		t.Errorf("Detail = %q, should carry the store's duplicate message", err.Detail)
	}
}

func TestClassifyBulkError_NetworkError(t *testing.T) {
	cmdErr := mongo.CommandError{
		Message: "connection refused",
		Labels:  []string{"NetworkError"},
	}

	err := classifyBulkError(cmdErr)

	if err.Kind != ingest.KindConnectionUnavailable {
		t.Fatalf("Kind = %q, want %q", err.Kind, ingest.KindConnectionUnavailable)
	}
}

func TestClassifyBulkError_Unknown(t *testing.T) {
	cause := errors.New("something unexpected")

	err := classifyBulkError(cause)

	if err.Kind != ingest.KindUnknown {
		t.Fatalf("Kind = %q, want %q", err.Kind, ingest.KindUnknown)
	}
	if !errors.Is(err, cause) {
		t.Errorf("classified error should unwrap to the driver error")
	}
}

func TestDuplicateDetail_FallsBack(t *testing.T) {
	got := duplicateDetail(errors.New("opaque"))
	if got == "" {
		t.Error("duplicateDetail must never be empty")
	}
}

func TestClassifyBulkError_SatisfiesTaxonomy(t *testing.T) {
	// The pipeline matches on *ingest.PersistenceError; classification
	// must always produce one, whatever the driver handed back.
	var pe *ingest.PersistenceError
	if !errors.As(classifyBulkError(errors.New("boom")), &pe) {
		t.Fatal("classifyBulkError must return a PersistenceError")
	}
}
