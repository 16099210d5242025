package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func TestHashRequest(t *testing.T) {
	base := HashRequest("user-1", "post", "/api/orders", []byte(`{"a":1}`))

	require.Equal(t, base, HashRequest("user-1", "POST", "/api/orders", []byte(`{"a":1}`)))
	require.NotEqual(t, base, HashRequest("user-2", "POST", "/api/orders", []byte(`{"a":1}`)))
	require.NotEqual(t, base, HashRequest("user-1", "POST", "/api/orders", []byte(`{"a":2}`)))
	require.NotEqual(t, HashRequest("ab", "POST", "c", nil), HashRequest("a", "POST", "bc", nil))
}

func TestGuardLifecycle(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	replay, err := guard.Begin(ctx, "key-1", "hash-1")
	require.NoError(t, err)
	require.Nil(t, replay)

	_, err = guard.Begin(ctx, "key-1", "hash-1")
	require.ErrorIs(t, err, ErrInProgress)
	require.True(t, domain.IsIdempotencyConflict(err))

	guard.Complete(ctx, "key-1", http.StatusCreated, []byte(`{"id":"o-1"}`))

	replay, err = guard.Begin(ctx, "key-1", "hash-1")
	require.NoError(t, err)
	require.NotNil(t, replay)
	require.Equal(t, http.StatusCreated, replay.HTTPStatus)
	require.JSONEq(t, `{"id":"o-1"}`, string(replay.Body))

	_, err = guard.Begin(ctx, "key-1", "hash-2")
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestGuardReplaysFailures(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, 0, nil)

	_, err := guard.Begin(ctx, "key-2", "hash")
	require.NoError(t, err)
	guard.Complete(ctx, "key-2", http.StatusBadRequest, []byte(`{"error":{}}`))

	record, err := repo.Get(ctx, "key-2")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, record.Status)

	replay, err := guard.Begin(ctx, "key-2", "hash")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, replay.HTTPStatus)
}

func TestGuardAbortFreesKey(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	_, err := guard.Begin(ctx, "key-3", "hash")
	require.NoError(t, err)
	guard.Abort(ctx, "key-3")

	replay, err := guard.Begin(ctx, "key-3", "hash")
	require.NoError(t, err)
	require.Nil(t, replay)
}

func TestGuardRejectsBlankKey(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	_, err := guard.Begin(context.Background(), "  ", "hash")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrIdempotencyKeyRequired))
}
