package db

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payretry/internal/types"
)

func TestCompressRaw_RoundTrip(t *testing.T) {
	raw := json.RawMessage(`{"id":"pi_123","status":"requires_payment_method","last_payment_error":{"code":"` +
		strings.Repeat("x", 512) + `"}}`)

	compressed := compressRaw(raw)
	require.NotEmpty(t, compressed)
	assert.Less(t, len(compressed), len(raw))

	out, err := decompressRaw(compressed)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))

	assert.Nil(t, compressRaw(nil))
	out, err = decompressRaw(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = decompressRaw([]byte("not zstd"))
	assert.Error(t, err)
}

func TestWhereBuilder(t *testing.T) {
	var w whereBuilder
	assert.Equal(t, "", w.clause())

	w.add("organisation_id = ?", "org_1")
	w.raw("is_active")
	w.add("status = ?", "JOB_RUNNING")
	limit := w.next(51)

	assert.Equal(t, "WHERE organisation_id = $1 AND is_active AND status = $2", w.clause())
	assert.Equal(t, "$3", limit)
	assert.Equal(t, []any{"org_1", "JOB_RUNNING", 51}, w.args)
}

func TestInsertError(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505"}
	assert.True(t, types.HasCode(insertError(dup, "retry schedule"), types.ErrCodeConflictDuplicate))
	assert.True(t, types.HasCode(insertError(errors.New("io"), "retry schedule"), types.ErrCodeInternalDB))
}

func TestNilHelpers(t *testing.T) {
	assert.Nil(t, nilIfEmpty(""))
	assert.Equal(t, "x", *nilIfEmpty("x"))
	assert.Equal(t, "", deref(nil))
	assert.NotNil(t, nonNilStrings(nil))
}
