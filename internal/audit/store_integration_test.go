//go:build integration

package audit

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollsync/internal/config"
	"enrollsync/internal/logger"
	"enrollsync/internal/notification"
	"enrollsync/internal/testinfra"
)

func storedRecord(enrollmentID, transactionID string) Record {
	return Record{
		HbxEnrollmentID:  enrollmentID,
		EnrollmentAction: string(notification.ActionInitial),
		EventKey:         EventKeyProcessed,
		Level:            LevelInfo,
		StatusCode:       http.StatusOK,
		Headers:          map[string]string{"hbx_enrollment_id": enrollmentID},
		TransactionID:    transactionID,
	}
}

func TestPostgresStore_AppendIsIdempotentPerTransaction(t *testing.T) {
	store := NewPostgresStore(testinfra.Postgres(t), "test")
	ctx := context.Background()

	txID := uuid.New().String()
	inserted, err := store.Append(ctx, storedRecord("E1", txID))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Append(ctx, storedRecord("E1", txID))
	require.NoError(t, err)
	assert.False(t, inserted)

	// records without a transaction are never deduplicated
	for i := 0; i < 2; i++ {
		inserted, err = store.Append(ctx, Record{EventKey: "malformed_event", Level: LevelError, StatusCode: http.StatusUnprocessableEntity})
		require.NoError(t, err)
		assert.True(t, inserted)
	}
}

func TestPostgresStore_HasProcessedAndQuery(t *testing.T) {
	store := NewPostgresStore(testinfra.Postgres(t), "test")
	ctx := context.Background()

	processed, err := store.HasProcessed(ctx, "E1", string(notification.ActionInitial))
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.Append(ctx, storedRecord("E1", uuid.New().String()))
	require.NoError(t, err)
	_, err = store.Append(ctx, Record{
		HbxEnrollmentID:  "E2",
		EnrollmentAction: string(notification.ActionTerminate),
		EventKey:         "unresolved_events",
		Level:            LevelError,
		StatusCode:       http.StatusUnprocessableEntity,
		Details:          map[string]interface{}{"reason": "unknown_action"},
	})
	require.NoError(t, err)

	processed, err = store.HasProcessed(ctx, "E1", string(notification.ActionInitial))
	require.NoError(t, err)
	assert.True(t, processed)

	records, err := store.Query(ctx, Query{HbxEnrollmentID: "E2"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "unresolved_events", records[0].EventKey)
	assert.Equal(t, "unknown_action", records[0].Details["reason"])

	all, err := store.Query(ctx, Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProcessedIndex_RedisWarmsFromStore(t *testing.T) {
	store := NewPostgresStore(testinfra.Postgres(t), "test")
	client := testinfra.Redis(t)
	ctx := context.Background()

	index := NewProcessedIndex(NewRedisCache(client), store, config.ProcessingConfig{ProcessedIndexTTLSeconds: 300}, logger.NopLogger())

	_, err := store.Append(ctx, storedRecord("E1", uuid.New().String()))
	require.NoError(t, err)

	processed, err := index.IsProcessed(ctx, "E1", notification.ActionInitial)
	require.NoError(t, err)
	assert.True(t, processed)

	n, err := client.Exists(ctx, ProcessedKey("E1", notification.ActionInitial)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, index.MarkProcessed(ctx, "E2", notification.ActionTerminate))
	processed, err = index.IsProcessed(ctx, "E2", notification.ActionTerminate)
	require.NoError(t, err)
	assert.True(t, processed)
}
