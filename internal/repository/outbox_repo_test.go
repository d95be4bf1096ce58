package repository

import (
	"context"
	"testing"

	"creditgate/internal/model"
	"creditgate/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, nil, "credit_events", model.EventCreditsPurchased, "u1", map[string]interface{}{
		"identity": "u1",
		"credits":  50,
	}))
	require.NoError(t, repo.Enqueue(ctx, nil, "credit_events", model.EventIdentityRebound, "u2", map[string]string{
		"old_identity": "u1",
		"new_identity": "u2",
	}))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, model.EventCreditsPurchased, pending[0].EventType)
	assert.JSONEq(t, `{"identity":"u1","credits":50}`, pending[0].Payload)

	require.NoError(t, repo.UpdateStatus(ctx, pending[0].ID, model.OutboxStatusSent))
	require.NoError(t, repo.IncrementRetryCount(ctx, pending[1].ID))
	require.NoError(t, repo.MarkAsFailed(ctx, pending[1].ID))

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var failed model.OutboxMessage
	require.NoError(t, db.First(&failed, "status = ?", model.OutboxStatusFailed).Error)
	assert.Equal(t, 2, failed.RetryCount)
}
