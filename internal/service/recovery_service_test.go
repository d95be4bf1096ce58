package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"creditgate/internal/infrastructure/lock"
	"creditgate/internal/model"
	"creditgate/internal/repository"
	"creditgate/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestRecovery(t *testing.T) (*RecoveryService, *redis.Client, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := NewRecoveryService(db, client, testConfig(), zap.NewNop())
	svc.lockRetryInterval = time.Millisecond
	svc.lockRetries = 5
	return svc, client, db
}

func TestRecoveryService_Validation(t *testing.T) {
	svc, _, _ := newTestRecovery(t)

	cases := []*RecoverRequest{
		{Email: "", NewIdentity: "u2"},
		{Email: "a@x.io", NewIdentity: ""},
		{Email: "nope", NewIdentity: "u2"},
	}
	for _, req := range cases {
		_, err := svc.Recover(context.Background(), req)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestRecoveryService_NotFound(t *testing.T) {
	svc, _, _ := newTestRecovery(t)

	_, err := svc.Recover(context.Background(), &RecoverRequest{Email: "ghost@x.io", NewIdentity: "u2"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecoveryService_RebindPreservesBalance(t *testing.T) {
	svc, _, db := newTestRecovery(t)
	seedCredits(t, db, "u1", 47, "a@x.io")

	res, err := svc.Recover(context.Background(), &RecoverRequest{Email: "A@X.io", NewIdentity: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "u2", res.Identity)
	assert.Equal(t, int64(47), res.Credits)

	assert.Equal(t, int64(47), balanceOf(t, db, "u2"))
	assert.Equal(t, int64(0), balanceOf(t, db, "u1"))
	_, err = repository.NewAccountRepository(db).GetByIdentity(context.Background(), "u1")
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)

	messages := outboxMessages(t, db, model.EventIdentityRebound)
	require.Len(t, messages, 1)
	var body IdentityReboundPayload
	require.NoError(t, json.Unmarshal([]byte(messages[0].Payload), &body))
	assert.Equal(t, "u1", body.OldIdentity)
	assert.Equal(t, "u2", body.NewIdentity)
	assert.Equal(t, int64(47), body.Credits)
}

func TestRecoveryService_Conflict(t *testing.T) {
	svc, _, db := newTestRecovery(t)
	seedCredits(t, db, "u1", 47, "a@x.io")
	seedCredits(t, db, "u2", 3, "")

	_, err := svc.Recover(context.Background(), &RecoverRequest{Email: "a@x.io", NewIdentity: "u2"})
	assert.ErrorIs(t, err, ErrConflict)

	assert.Equal(t, int64(47), balanceOf(t, db, "u1"))
	assert.Equal(t, int64(3), balanceOf(t, db, "u2"))
	assert.Empty(t, outboxMessages(t, db, model.EventIdentityRebound))
}

func TestRecoveryService_AlreadyBound(t *testing.T) {
	svc, _, db := newTestRecovery(t)
	seedCredits(t, db, "u1", 10, "a@x.io")

	res, err := svc.Recover(context.Background(), &RecoverRequest{Email: "a@x.io", NewIdentity: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.Identity)
	assert.Equal(t, int64(10), res.Credits)
	assert.Empty(t, outboxMessages(t, db, model.EventIdentityRebound))
}

func TestRecoveryService_LockHeld(t *testing.T) {
	svc, client, db := newTestRecovery(t)
	seedCredits(t, db, "u1", 10, "a@x.io")

	held := lock.NewRecoverLock(client, "a@x.io", "other-request")
	ok, err := held.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Recover(context.Background(), &RecoverRequest{Email: "a@x.io", NewIdentity: "u2"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int64(10), balanceOf(t, db, "u1"))

	require.NoError(t, held.Unlock(context.Background()))
	_, err = svc.Recover(context.Background(), &RecoverRequest{Email: "a@x.io", NewIdentity: "u2"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), balanceOf(t, db, "u2"))
}

func TestRecoveryService_WithoutRedis(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewRecoveryService(db, nil, testConfig(), zap.NewNop())
	seedCredits(t, db, "u1", 5, "a@x.io")

	_, err := svc.Recover(context.Background(), &RecoverRequest{Email: "a@x.io", NewIdentity: "u2"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), balanceOf(t, db, "u2"))
}
