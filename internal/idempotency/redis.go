package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledger-service/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "ledger:idempotency:"

	stateReserved  = "reserved"
	stateCommitted = "committed"
)

var errStillInFlight = errors.New("idempotency key still in flight")

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type redisRecord struct {
	Fingerprint string   `json:"fingerprint"`
	Token       string   `json:"token"`
	State       string   `json:"state"`
	Outcome     *Outcome `json:"outcome,omitempty"`
}

// RedisRegistry shares keys between service instances. A reservation is a
// SET NX with the lock TTL holding the owner token; committing rewrites the
// record with the record TTL. Ownership is checked under WATCH.
type RedisRegistry struct {
	client  redis.UniversalClient
	ttl     time.Duration
	lockTTL time.Duration
	wait    time.Duration
}

func NewRedisRegistry(client redis.UniversalClient, ttl, lockTTL, wait time.Duration) *RedisRegistry {
	return &RedisRegistry{
		client:  client,
		ttl:     ttl,
		lockTTL: lockTTL,
		wait:    wait,
	}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func (r *RedisRegistry) CheckAndReserve(ctx context.Context, key, fingerprint string) (Reservation, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = r.wait

	reservation, err := backoff.RetryWithData(func() (Reservation, error) {
		return r.attempt(ctx, keyPrefix+key, fingerprint)
	}, backoff.WithContext(policy, ctx))
	if errors.Is(err, errStillInFlight) {
		return Reservation{}, models.ErrIdempotencyInFlight
	}
	if err != nil {
		return Reservation{}, err
	}

	return reservation, nil
}

func (r *RedisRegistry) attempt(ctx context.Context, key, fingerprint string) (Reservation, error) {
	token := uuid.NewString()
	reserved, err := json.Marshal(redisRecord{Fingerprint: fingerprint, Token: token, State: stateReserved})
	if err != nil {
		return Reservation{}, backoff.Permanent(err)
	}

	ok, err := r.client.SetNX(ctx, key, reserved, r.lockTTL).Result()
	if err != nil {
		return Reservation{}, backoff.Permanent(fmt.Errorf("failed to reserve idempotency key: %w", err))
	}
	if ok {
		return Reservation{Status: Fresh, Token: token, Lease: r.lockTTL}, nil
	}

	record, err := r.load(ctx, r.client, key)
	if errors.Is(err, redis.Nil) {
		// expired or released between SET NX and GET
		return Reservation{}, errStillInFlight
	}
	if err != nil {
		return Reservation{}, backoff.Permanent(err)
	}

	switch {
	case record.Fingerprint != fingerprint:
		return Reservation{Status: Conflict}, nil
	case record.State == stateCommitted && record.Outcome != nil:
		return Reservation{Status: Replay, Outcome: record.Outcome}, nil
	default:
		return Reservation{}, errStillInFlight
	}
}

func (r *RedisRegistry) Commit(ctx context.Context, key, token string, outcome Outcome) error {
	err := r.withOwned(ctx, keyPrefix+key, token, func(pipe redis.Pipeliner, key string, record *redisRecord) error {
		record.State = stateCommitted
		record.Outcome = &outcome
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode idempotency record: %w", err)
		}
		pipe.Set(ctx, key, data, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit idempotency key: %w", err)
	}

	return nil
}

func (r *RedisRegistry) Release(ctx context.Context, key, token string) error {
	err := r.withOwned(ctx, keyPrefix+key, token, func(pipe redis.Pipeliner, key string, record *redisRecord) error {
		pipe.Del(ctx, key)
		return nil
	})
	if errors.Is(err, ErrReservationLost) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}

	return nil
}

func (r *RedisRegistry) Renew(ctx context.Context, key, token string) error {
	err := r.withOwned(ctx, keyPrefix+key, token, func(pipe redis.Pipeliner, key string, record *redisRecord) error {
		pipe.Expire(ctx, key, r.lockTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to renew idempotency key: %w", err)
	}

	return nil
}

// withOwned runs update in a MULTI block while the key is watched, provided
// the stored record is still a reservation held by token.
func (r *RedisRegistry) withOwned(ctx context.Context, key, token string, update func(pipe redis.Pipeliner, key string, record *redisRecord) error) error {
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		record, err := r.load(ctx, tx, key)
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %q", ErrReservationLost, key)
		}
		if err != nil {
			return err
		}
		if record.State != stateReserved || record.Token != token {
			return fmt.Errorf("%w: %q", ErrReservationLost, key)
		}

		var updateErr error
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			updateErr = update(pipe, key, record)
			return updateErr
		})
		if updateErr != nil {
			return updateErr
		}
		return err
	}, key)
}

func (r *RedisRegistry) load(ctx context.Context, client getter, key string) (*redisRecord, error) {
	raw, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var record redisRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &record, nil
}
