// Package lock implements the distributed advisory lock (C3): a lease
// record living in the object store itself, so any number of processes
// sharing a Store can serialise access to a (bucket, key) pair without a
// separate lock service.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/svctrust/core/cmn/debug"
	"github.com/svctrust/core/encoding"
	"github.com/svctrust/core/metrics"
	"github.com/svctrust/core/objstore"
	"github.com/svctrust/core/persist"
	"github.com/svctrust/core/svcerrors"
)

// DefaultTimeout is how long Lock blocks waiting for a contended lease
// before giving up with a MutexTimeoutError.
const DefaultTimeout = 10 * time.Second

// DefaultLeaseDuration is how long a held lease remains valid without
// renewal. A crashed holder's lock self-heals once this elapses.
const DefaultLeaseDuration = 30 * time.Second

const pollInterval = 20 * time.Millisecond

type lease struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Mutex is an advisory lock rooted at <key>.lock in the given bucket.
// It is safe to share a single Mutex value across goroutines in the same
// process: the same Mutex re-enters (Lock is a no-op past the first call
// until a matching number of Unlocks), but two distinct Mutex values — in
// this process or another — always contend for the underlying lease.
type Mutex struct {
	store         objstore.Store
	bucket        objstore.Bucket
	key           string
	timeout       time.Duration
	leaseDuration time.Duration

	holder string

	localMu   sync.Mutex
	refcount  int
	haveLease bool
}

// New returns a Mutex over store's (bucket, key). Pass zero for timeout or
// leaseDuration to use the defaults.
func New(store objstore.Store, bucket objstore.Bucket, key string, timeout, leaseDuration time.Duration) *Mutex {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if leaseDuration <= 0 {
		leaseDuration = DefaultLeaseDuration
	}
	return &Mutex{
		store:         store,
		bucket:        bucket,
		key:           key,
		timeout:       timeout,
		leaseDuration: leaseDuration,
		holder:        uuid.New().String(),
	}
}

func (m *Mutex) leaseKey() string { return m.key + ".lock" }

// Lock blocks until the lease is acquired or the timeout elapses, in which
// case it returns a *svcerrors.MutexTimeoutError. A second Lock call on the
// same Mutex value while it already holds the lease re-enters immediately;
// it does not contact the store.
func (m *Mutex) Lock(ctx context.Context) error {
	m.localMu.Lock()
	if m.haveLease {
		m.refcount++
		m.localMu.Unlock()
		return nil
	}
	m.localMu.Unlock()

	start := time.Now()
	deadline := start.Add(m.timeout)
	for {
		acquired, err := m.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if acquired {
			m.localMu.Lock()
			if m.haveLease {
				// another goroutine sharing this Mutex took the lease first
				m.refcount++
			} else {
				m.haveLease = true
				m.refcount = 1
			}
			m.localMu.Unlock()
			metrics.ObserveMutexWait(time.Since(start))
			return nil
		}
		if time.Now().After(deadline) {
			metrics.ObserveMutexWait(time.Since(start))
			log.Ctx(ctx).Warn().Str("key", m.key).Dur("waited", time.Since(start)).Msg("mutex: timed out acquiring lease")
			return svcerrors.NewMutexTimeoutError(m.key)
		}
		select {
		case <-ctx.Done():
			metrics.ObserveMutexWait(time.Since(start))
			return svcerrors.NewMutexTimeoutError(m.key)
		case <-time.After(pollInterval):
		}
	}
}

// tryAcquire makes one attempt to take the lease, returning true on
// success. It relies on SetInsStringObject as the only atomic primitive
// the store promises: a fresh key is claimed outright; an expired key is
// deleted and immediately re-claimed, which leaves a race window between
// the delete and the insert where a second expired-lease challenger could
// also pass the expiry check. That window is bounded by one round trip to
// the store and is the documented cost of synthesising CAS-replace out of
// insert-if-absent (see DESIGN.md, C3).
func (m *Mutex) tryAcquire(ctx context.Context) (bool, error) {
	candidate := lease{Holder: m.holder, ExpiresAt: encoding.GetDatetimeNow().Add(m.leaseDuration)}
	encoded, err := persist.Marshal(candidate)
	if err != nil {
		return false, fmt.Errorf("encoding lease: %w", err)
	}

	won, err := m.store.SetInsStringObject(ctx, m.bucket, m.leaseKey(), string(encoded))
	if err != nil {
		return false, err
	}
	if won == string(encoded) {
		return true, nil
	}

	var current lease
	if err := persist.Unmarshal([]byte(won), &current); err != nil {
		// Unreadable lease record: treat as contended rather than fail the
		// whole acquire loop, and let the next poll retry.
		return false, nil
	}
	if current.Holder == m.holder {
		return true, nil
	}
	if encoding.GetDatetimeNow().Before(current.ExpiresAt) {
		return false, nil
	}

	if err := m.store.DeleteObject(ctx, m.bucket, m.leaseKey()); err != nil {
		return false, err
	}
	won, err = m.store.SetInsStringObject(ctx, m.bucket, m.leaseKey(), string(encoded))
	if err != nil {
		return false, err
	}
	return won == string(encoded), nil
}

// Unlock releases one level of re-entrancy. The underlying lease is
// deleted only when the last Unlock brings the local refcount to zero.
// Unlock on a Mutex that does not hold the lease is a no-op, matching the
// idempotent-release discipline the spec calls for.
func (m *Mutex) Unlock(ctx context.Context) error {
	m.localMu.Lock()
	defer m.localMu.Unlock()
	if !m.haveLease {
		return nil
	}
	debug.Assert(m.refcount > 0, "mutex: Unlock with haveLease but non-positive refcount")
	m.refcount--
	if m.refcount > 0 {
		return nil
	}
	m.haveLease = false
	return m.store.DeleteObject(ctx, m.bucket, m.leaseKey())
}
