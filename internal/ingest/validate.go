package ingest

// validate.go maps raw rows onto the record schema. Validating here,
// before the bulk insert, means a type mismatch is reported as the exact
// failing row rather than an opaque store-level error.
//
// Schema, applied per field:
//   - name:  required, non-empty string after trimming
//   - age:   required, coercible to a non-negative integer
//   - email: required, non-empty string; normalized by trimming and
//     lower-casing before uniqueness is considered
//
// Email uniqueness inside one batch is enforced here; uniqueness against
// already-persisted data is the store's unique index.

import (
	"math"
	"strconv"
	"strings"
)

const (
	fieldName  = "name"
	fieldAge   = "age"
	fieldEmail = "email"
)

// MapRows validates every raw row in order and returns the record set, or
// the first ValidationError encountered. A duplicate normalized email is
// reported against the later of the two rows.
func MapRows(rows []RawRow) ([]Record, error) {
	records := make([]Record, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))

	for i, row := range rows {
		rec, err := MapRow(row, i+1)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[rec.Email]; dup {
			return nil, &ValidationError{Row: i + 1, Field: fieldEmail, Reason: "duplicate email " + strconv.Quote(rec.Email) + " in batch"}
		}
		seen[rec.Email] = struct{}{}
		records = append(records, rec)
	}

	return records, nil
}

// MapRow validates a single raw row. pos is the 1-based position of the
// row in the sheet, excluding the header.
func MapRow(row RawRow, pos int) (Record, error) {
	name, err := stringField(row, fieldName, pos)
	if err != nil {
		return Record{}, err
	}

	age, err := ageField(row, pos)
	if err != nil {
		return Record{}, err
	}

	email, err := stringField(row, fieldEmail, pos)
	if err != nil {
		return Record{}, err
	}

	return Record{
		Name:  name,
		Age:   age,
		Email: strings.ToLower(email),
	}, nil
}

func stringField(row RawRow, field string, pos int) (string, error) {
	v, ok := row[field]
	if !ok {
		return "", &ValidationError{Row: pos, Field: field, Reason: "missing required field"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Row: pos, Field: field, Reason: "must be a string"}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ValidationError{Row: pos, Field: field, Reason: "must not be empty"}
	}
	return s, nil
}

func ageField(row RawRow, pos int) (int64, error) {
	v, ok := row[fieldAge]
	if !ok {
		return 0, &ValidationError{Row: pos, Field: fieldAge, Reason: "missing required field"}
	}

	var age int64
	switch n := v.(type) {
	case int64:
		age = n
	case float64:
		if n != math.Trunc(n) {
			return 0, &ValidationError{Row: pos, Field: fieldAge, Reason: "must be a whole number"}
		}
		age = int64(n)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, &ValidationError{Row: pos, Field: fieldAge, Reason: "must be a number"}
		}
		age = parsed
	default:
		return 0, &ValidationError{Row: pos, Field: fieldAge, Reason: "must be a number"}
	}

	if age < 0 {
		return 0, &ValidationError{Row: pos, Field: fieldAge, Reason: "must not be negative"}
	}
	return age, nil
}
