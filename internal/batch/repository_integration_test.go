//go:build integration

package batch

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollsync/internal/notification"
	"enrollsync/internal/testinfra"
	apperrors "enrollsync/pkg/errors"
)

func TestPostgresRepository_AppendGroupsByKey(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t), "test")
	ctx := context.Background()

	key := Key{SubscriberID: "S1", BenefitKind: notification.CoverageHealth}
	first, appended, err := repo.Append(ctx, key, Transaction{MessageID: "m1", Body: "<a/>", EventTime: time.Now()})
	require.NoError(t, err)
	assert.True(t, appended)
	assert.Equal(t, StateOpen, first.State)
	assert.Equal(t, 1, first.TransactionCount)

	second, appended, err := repo.Append(ctx, key, Transaction{MessageID: "m2", Body: "<b/>", EventTime: time.Now()})
	require.NoError(t, err)
	assert.True(t, appended)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.TransactionCount)

	other, _, err := repo.Append(ctx, Key{SubscriberID: "S1", BenefitKind: notification.CoverageDental},
		Transaction{MessageID: "m3", Body: "<c/>", EventTime: time.Now()})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestPostgresRepository_AppendSkipsRedelivery(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t), "test")
	ctx := context.Background()

	key := Key{SubscriberID: "S1", BenefitKind: notification.CoverageHealth}
	tx := Transaction{MessageID: "m1", Body: "<a/>", EventTime: time.Now()}

	_, _, err := repo.Append(ctx, key, tx)
	require.NoError(t, err)
	b, appended, err := repo.Append(ctx, key, tx)
	require.NoError(t, err)
	assert.False(t, appended)
	assert.Equal(t, 1, b.TransactionCount)
}

func TestPostgresRepository_TransitionAndPending(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t), "test")
	ctx := context.Background()

	key := Key{SubscriberID: "S1", EmployerID: "E1", BenefitKind: notification.CoverageHealth}
	base := time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC)
	b, _, err := repo.Append(ctx, key, Transaction{MessageID: "late", Body: "<a/>", EventTime: base.Add(time.Hour)})
	require.NoError(t, err)
	_, _, err = repo.Append(ctx, key, Transaction{MessageID: "early", Body: "<b/>", EventTime: base})
	require.NoError(t, err)

	require.NoError(t, repo.Transition(ctx, b.ID, StateOpen, StatePendingTransmission, ""))

	err = repo.Transition(ctx, b.ID, StateOpen, StatePendingTransmission, "")
	assert.True(t, apperrors.IsConflict(err))

	// a new event for the same key opens a fresh batch while the first is pending
	next, _, err := repo.Append(ctx, key, Transaction{MessageID: "next", Body: "<c/>", EventTime: base})
	require.NoError(t, err)
	assert.NotEqual(t, b.ID, next.ID)

	open, err := repo.ListOpen(ctx, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].PendingSibling)

	txs, err := repo.PendingTransactions(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "early", txs[0].MessageID)
	assert.Equal(t, "late", txs[1].MessageID)

	require.NoError(t, repo.AckTransaction(ctx, txs[0].ID, "event_processed", http.StatusOK))
	require.NoError(t, repo.AckTransaction(ctx, txs[1].ID, "publish_failed", http.StatusInternalServerError))

	pending, err := repo.PendingTransactions(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "late", pending[0].MessageID)

	require.NoError(t, repo.Transition(ctx, b.ID, StatePendingTransmission, StateError, "publish failed"))
	got, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StateError, got.State)
	assert.Equal(t, "publish failed", got.LastError)

	listed, err := repo.List(ctx, ListFilter{State: StateError})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, b.ID, listed[0].ID)
}

func TestPostgresRepository_GetUnknown(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t), "test")

	_, err := repo.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.True(t, apperrors.IsNotFound(err))
}
