package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ledger-service/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registryFactory func(t *testing.T, wait time.Duration) Registry

func memoryFactory(t *testing.T, wait time.Duration) Registry {
	return NewMemoryRegistry(time.Hour, time.Minute, wait)
}

func redisFactory(t *testing.T, wait time.Duration) Registry {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRegistry(client, time.Hour, time.Minute, wait)
}

func TestMemoryRegistry(t *testing.T) {
	runRegistrySuite(t, memoryFactory)
}

func TestRedisRegistry(t *testing.T) {
	runRegistrySuite(t, redisFactory)
}

func runRegistrySuite(t *testing.T, newRegistry registryFactory) {
	t.Run("FreshThenReplay", func(t *testing.T) { testFreshThenReplay(t, newRegistry(t, time.Second)) })
	t.Run("Conflict", func(t *testing.T) { testConflict(t, newRegistry(t, time.Second)) })
	t.Run("ReplaysErrors", func(t *testing.T) { testReplaysErrors(t, newRegistry(t, time.Second)) })
	t.Run("Release", func(t *testing.T) { testRelease(t, newRegistry(t, time.Second)) })
	t.Run("WaitsForInFlight", func(t *testing.T) { testWaitsForInFlight(t, newRegistry(t, 2*time.Second)) })
	t.Run("InFlightTimesOut", func(t *testing.T) { testInFlightTimesOut(t, newRegistry(t, 100*time.Millisecond)) })
	t.Run("SingleFlight", func(t *testing.T) { testSingleFlight(t, newRegistry(t, 5*time.Second)) })
	t.Run("RenewRequiresOwner", func(t *testing.T) { testRenewRequiresOwner(t, newRegistry(t, time.Second)) })
}

func testRenewRequiresOwner(t *testing.T, registry Registry) {
	ctx := context.Background()

	owner, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, owner.Lease)

	require.NoError(t, registry.Renew(ctx, "k1", owner.Token))
	assert.ErrorIs(t, registry.Renew(ctx, "k1", "someone-else"), ErrReservationLost)
	assert.ErrorIs(t, registry.Commit(ctx, "k1", "someone-else", SuccessOutcome(sampleTransaction())), ErrReservationLost)

	require.NoError(t, registry.Commit(ctx, "k1", owner.Token, SuccessOutcome(sampleTransaction())))
	assert.ErrorIs(t, registry.Renew(ctx, "k1", owner.Token), ErrReservationLost, "committed keys have no lease")
}

func sampleTransaction() *models.Transaction {
	return &models.Transaction{
		ID:        "txn_1",
		AccountID: "acc_1",
		Money:     models.NewMoney(10, "USD"),
		Direction: models.DirectionCredit,
		State:     models.StateCompleted,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func testFreshThenReplay(t *testing.T, registry Registry) {
	ctx := context.Background()

	res, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, Fresh, res.Status)
	assert.NotEmpty(t, res.Token)
	token := res.Token

	require.NoError(t, registry.Commit(ctx, "k1", token, SuccessOutcome(sampleTransaction())))

	res, err = registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)
	require.Equal(t, Replay, res.Status)

	txn, err := res.Outcome.Result()
	require.NoError(t, err)
	assert.Equal(t, "txn_1", txn.ID)
	assert.Equal(t, models.StateCompleted, txn.State)
	assert.Equal(t, int64(10), txn.Money.Amount)

	assert.ErrorIs(t, registry.Commit(ctx, "k1", token, SuccessOutcome(sampleTransaction())), ErrReservationLost, "a key commits once")
}

func testConflict(t *testing.T, registry Registry) {
	ctx := context.Background()

	owner, err := registry.CheckAndReserve(ctx, "k1", "fp-a")
	require.NoError(t, err)

	res, err := registry.CheckAndReserve(ctx, "k1", "fp-b")
	require.NoError(t, err)
	assert.Equal(t, Conflict, res.Status, "in-flight key bound to another request")
	assert.Empty(t, res.Token)

	require.NoError(t, registry.Commit(ctx, "k1", owner.Token, SuccessOutcome(sampleTransaction())))

	res, err = registry.CheckAndReserve(ctx, "k1", "fp-b")
	require.NoError(t, err)
	assert.Equal(t, Conflict, res.Status, "committed key bound to another request")
}

func testReplaysErrors(t *testing.T, registry Registry) {
	ctx := context.Background()

	owner, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)

	original := fmt.Errorf("create transaction: %w", models.ErrCurrencyMismatch)
	require.NoError(t, registry.Commit(ctx, "k1", owner.Token, ErrorOutcome(original)))

	res, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)
	require.Equal(t, Replay, res.Status)

	txn, err := res.Outcome.Result()
	assert.Nil(t, txn)
	assert.ErrorIs(t, err, models.ErrCurrencyMismatch)
	assert.Equal(t, original.Error(), err.Error())

	var replayed *models.ReplayedError
	assert.True(t, errors.As(err, &replayed))
}

func testRelease(t *testing.T, registry Registry) {
	ctx := context.Background()

	first, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)
	require.NoError(t, registry.Release(ctx, "k1", first.Token))

	res, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, Fresh, res.Status)
	assert.NotEqual(t, first.Token, res.Token)

	require.NoError(t, registry.Release(ctx, "k1", first.Token), "a stale token cannot release the new owner")
	require.NoError(t, registry.Commit(ctx, "k1", res.Token, SuccessOutcome(sampleTransaction())))
	require.NoError(t, registry.Release(ctx, "k1", res.Token), "releasing a committed key is a no-op")

	res, err = registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, Replay, res.Status)

	require.NoError(t, registry.Release(ctx, "unknown", "token"))
}

func testWaitsForInFlight(t *testing.T, registry Registry) {
	ctx := context.Background()

	owner, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = registry.Commit(ctx, "k1", owner.Token, SuccessOutcome(sampleTransaction()))
	}()

	res, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, Replay, res.Status)
}

func testInFlightTimesOut(t *testing.T, registry Registry) {
	ctx := context.Background()

	_, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)

	start := time.Now()
	_, err = registry.CheckAndReserve(ctx, "k1", "fp")
	assert.ErrorIs(t, err, models.ErrIdempotencyInFlight)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func testSingleFlight(t *testing.T, registry Registry) {
	ctx := context.Background()

	const callers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[Status]int{}
	)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()

			res, err := registry.CheckAndReserve(ctx, "shared", "fp")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if res.Status == Fresh {
				time.Sleep(20 * time.Millisecond)
				if err := registry.Commit(ctx, "shared", res.Token, SuccessOutcome(sampleTransaction())); err != nil {
					t.Errorf("commit failed: %v", err)
				}
			}

			mu.Lock()
			results[res.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, results[Fresh])
	assert.Equal(t, callers-1, results[Replay])
	assert.Zero(t, results[Conflict])
}

func TestMemoryRegistryReservationExpires(t *testing.T) {
	registry := NewMemoryRegistry(time.Hour, time.Minute, time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	registry.now = func() time.Time { return now }

	ctx := context.Background()
	stale, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	res, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, Fresh, res.Status)

	assert.ErrorIs(t, registry.Commit(ctx, "k1", stale.Token, SuccessOutcome(sampleTransaction())), ErrReservationLost,
		"an expired owner must not commit into the new reservation")
	require.NoError(t, registry.Commit(ctx, "k1", res.Token, SuccessOutcome(sampleTransaction())))
}

func TestMemoryRegistryRenewExtendsLease(t *testing.T) {
	registry := NewMemoryRegistry(time.Hour, time.Minute, time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	registry.now = func() time.Time { return now }

	ctx := context.Background()
	owner, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		now = now.Add(40 * time.Second)
		require.NoError(t, registry.Renew(ctx, "k1", owner.Token))
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = registry.Commit(ctx, "k1", owner.Token, SuccessOutcome(sampleTransaction()))
	}()

	res, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, Replay, res.Status, "a renewed reservation outlives its original lease")
}

func TestRedisRegistryReservationExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	registry := NewRedisRegistry(client, time.Hour, time.Minute, time.Second)
	ctx := context.Background()

	stale, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"k1"))

	mr.FastForward(2 * time.Minute)

	res, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)
	assert.Equal(t, Fresh, res.Status)

	assert.ErrorIs(t, registry.Commit(ctx, "k1", stale.Token, SuccessOutcome(sampleTransaction())), ErrReservationLost)
	require.NoError(t, registry.Commit(ctx, "k1", res.Token, SuccessOutcome(sampleTransaction())))
	assert.Equal(t, time.Hour, mr.TTL(keyPrefix+"k1"))
}

func TestRedisRegistryRenewExtendsLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	registry := NewRedisRegistry(client, time.Hour, time.Minute, time.Second)
	ctx := context.Background()

	owner, err := registry.CheckAndReserve(ctx, "k1", "fp")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		mr.FastForward(40 * time.Second)
		require.NoError(t, registry.Renew(ctx, "k1", owner.Token))
		assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"k1"))
	}

	require.NoError(t, registry.Commit(ctx, "k1", owner.Token, SuccessOutcome(sampleTransaction())))
}

func TestFingerprint(t *testing.T) {
	req := &models.CreateTransactionRequest{
		AccountID: "acc_1",
		Money:     models.NewMoney(10, "USD"),
		Direction: models.DirectionDebit,
		Memo:      "rent",
	}
	base := Fingerprint(models.EntryDeferred, req)
	assert.Len(t, base, 64)

	sameButMemo := *req
	sameButMemo.Memo = "different memo"
	assert.Equal(t, base, Fingerprint(models.EntryDeferred, &sameButMemo))

	assert.NotEqual(t, base, Fingerprint(models.EntryImmediate, req))

	otherAmount := *req
	otherAmount.Money.Amount = 11
	assert.NotEqual(t, base, Fingerprint(models.EntryDeferred, &otherAmount))

	otherDirection := *req
	otherDirection.Direction = models.DirectionCredit
	assert.NotEqual(t, base, Fingerprint(models.EntryDeferred, &otherDirection))

	otherAccount := *req
	otherAccount.AccountID = "acc_2"
	assert.NotEqual(t, base, Fingerprint(models.EntryDeferred, &otherAccount))
}
