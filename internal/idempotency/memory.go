package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ledger-service/models"

	"github.com/google/uuid"
)

type memoryEntry struct {
	fingerprint string
	token       string
	committed   bool
	outcome     Outcome
	expiresAt   time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func (e *memoryEntry) finish() {
	e.closeOnce.Do(func() { close(e.done) })
}

// MemoryRegistry keeps keys in process memory. Waiters on an in-flight key
// are woken when its reservation is committed, released or expires.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	ttl     time.Duration
	lockTTL time.Duration
	wait    time.Duration
	now     func() time.Time
}

func NewMemoryRegistry(ttl, lockTTL, wait time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		lockTTL: lockTTL,
		wait:    wait,
		now:     time.Now,
	}
}

func (r *MemoryRegistry) CheckAndReserve(ctx context.Context, key, fingerprint string) (Reservation, error) {
	deadline := time.NewTimer(r.wait)
	defer deadline.Stop()

	for {
		r.mu.Lock()
		now := r.now()
		e, ok := r.entries[key]
		if ok && now.After(e.expiresAt) {
			delete(r.entries, key)
			e.finish()
			ok = false
		}

		if !ok {
			token := uuid.NewString()
			r.entries[key] = &memoryEntry{
				fingerprint: fingerprint,
				token:       token,
				expiresAt:   now.Add(r.lockTTL),
				done:        make(chan struct{}),
			}
			r.mu.Unlock()
			return Reservation{Status: Fresh, Token: token, Lease: r.lockTTL}, nil
		}

		if e.fingerprint != fingerprint {
			r.mu.Unlock()
			return Reservation{Status: Conflict}, nil
		}

		if e.committed {
			outcome := e.outcome
			r.mu.Unlock()
			return Reservation{Status: Replay, Outcome: &outcome}, nil
		}

		done := e.done
		expiry := time.NewTimer(e.expiresAt.Sub(now))
		r.mu.Unlock()

		select {
		case <-done:
		case <-expiry.C:
		case <-deadline.C:
			expiry.Stop()
			return Reservation{}, models.ErrIdempotencyInFlight
		case <-ctx.Done():
			expiry.Stop()
			return Reservation{}, ctx.Err()
		}
		expiry.Stop()
	}
}

// owned returns the live reservation held by token.
func (r *MemoryRegistry) owned(key, token string) (*memoryEntry, bool) {
	e, ok := r.entries[key]
	if !ok || e.committed || e.token != token || r.now().After(e.expiresAt) {
		return nil, false
	}
	return e, true
}

func (r *MemoryRegistry) Commit(ctx context.Context, key, token string, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.owned(key, token)
	if !ok {
		return fmt.Errorf("%w: %q", ErrReservationLost, key)
	}

	e.committed = true
	e.outcome = outcome
	e.expiresAt = r.now().Add(r.ttl)
	e.finish()
	return nil
}

func (r *MemoryRegistry) Release(ctx context.Context, key, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok && !e.committed && e.token == token {
		delete(r.entries, key)
		e.finish()
	}
	return nil
}

func (r *MemoryRegistry) Renew(ctx context.Context, key, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.owned(key, token)
	if !ok {
		return fmt.Errorf("%w: %q", ErrReservationLost, key)
	}

	e.expiresAt = r.now().Add(r.lockTTL)
	return nil
}
