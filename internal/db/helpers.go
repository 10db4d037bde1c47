package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/klauspost/compress/zstd"

	"payretry/internal/types"
)

// nilIfEmpty returns nil for an empty string so optional columns store NULL.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nilIfZeroTime returns nil if the time is zero, otherwise returns a pointer
// to the time. Used to let the DB default (NOW()) apply when no time is set.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint
// violation (error code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// insertError maps a failed INSERT onto the matching AppError.
func insertError(err error, entity string) error {
	if isUniqueViolation(err) {
		return types.NewAppError(types.ErrCodeConflictDuplicate, entity+" already exists", err)
	}
	return types.NewAppError(types.ErrCodeInternalDB, "failed to create "+entity, err)
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// compressRaw stores provider payloads compressed; they are rarely read and
// can be large.
func compressRaw(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func decompressRaw(b []byte) (json.RawMessage, error) {
	if len(b) == 0 {
		return nil, nil
	}
	out, err := zstdDecoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress raw response: %w", err)
	}
	return json.RawMessage(out), nil
}

// whereBuilder accumulates positional conditions for dynamic list queries.
type whereBuilder struct {
	conditions []string
	args       []any
}

// add appends a condition whose single placeholder is written as "?".
func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conditions = append(w.conditions, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1))
}

// raw appends a condition without arguments.
func (w *whereBuilder) raw(cond string) {
	w.conditions = append(w.conditions, cond)
}

// next reserves the placeholder for a trailing argument such as LIMIT.
func (w *whereBuilder) next(arg any) string {
	w.args = append(w.args, arg)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) clause() string {
	if len(w.conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conditions, " AND ")
}
