package memstore

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	workerID  string
	expiresAt time.Time
}

// Locker is an in-process types.JobLocker with the same expiry semantics as
// the job_locks table.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{
		leases: make(map[string]lease),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Acquire takes lockID for workerID unless another holder's lease is still
// running.
func (l *Locker) Acquire(_ context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[lockID]; ok && !held.expiresAt.Before(now) {
		return false, nil
	}
	l.leases[lockID] = lease{workerID: workerID, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release drops the lease if workerID still owns it.
func (l *Locker) Release(_ context.Context, lockID, workerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.leases[lockID]; ok && held.workerID == workerID {
		delete(l.leases, lockID)
	}
	return nil
}
