package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ruralpay/ledger/internal/repository"
)

// LockCoordinator serializes work on overlapping account sets. Ids are always
// acquired in ascending order so no two callers can wait on each other in a
// cycle. fn runs with every lock held and is expected to commit the unit of
// work before returning.
type LockCoordinator interface {
	WithLocks(ctx context.Context, uow repository.UnitOfWork, accountIDs []string, fn func(ctx context.Context) error) error
}

// sortedUnique returns the ids in lock order with duplicates removed.
func sortedUnique(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RowLockCoordinator takes SELECT ... FOR UPDATE row locks through the unit of
// work. The database releases them at commit or rollback.
type RowLockCoordinator struct{}

func NewRowLockCoordinator() *RowLockCoordinator {
	return &RowLockCoordinator{}
}

func (RowLockCoordinator) WithLocks(ctx context.Context, uow repository.UnitOfWork, accountIDs []string, fn func(ctx context.Context) error) error {
	for _, id := range sortedUnique(accountIDs) {
		if err := uow.LockAccount(ctx, id); err != nil {
			return storageError("lock account "+id, err)
		}
	}
	return fn(ctx)
}

// ProcessLockCoordinator is the process-wide registry of per-account locks.
// Locks are created on first use and live as long as the coordinator. They
// are not re-entrant: acquiring an id already held by the same operation
// blocks until the lock timeout.
type ProcessLockCoordinator struct {
	mu      sync.Mutex
	locks   map[string]chan struct{}
	timeout time.Duration
}

// NewProcessLockCoordinator creates the registry. A positive timeout bounds
// the wait for each lock; expiry surfaces as ErrTransientConflict.
func NewProcessLockCoordinator(timeout time.Duration) *ProcessLockCoordinator {
	return &ProcessLockCoordinator{
		locks:   make(map[string]chan struct{}),
		timeout: timeout,
	}
}

func (c *ProcessLockCoordinator) lockFor(id string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		c.locks[id] = l
	}
	return l
}

func (c *ProcessLockCoordinator) WithLocks(ctx context.Context, _ repository.UnitOfWork, accountIDs []string, fn func(ctx context.Context) error) error {
	release, err := c.Acquire(ctx, accountIDs)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}

// Acquire locks the ids in sorted order and returns a function releasing them
// in reverse order. On failure nothing stays held.
func (c *ProcessLockCoordinator) Acquire(ctx context.Context, accountIDs []string) (func(), error) {
	waitCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var held []chan struct{}
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, id := range sortedUnique(accountIDs) {
		l := c.lockFor(id)
		select {
		case l <- struct{}{}:
			held = append(held, l)
		case <-waitCtx.Done():
			release()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: lock wait timeout on account %s", ErrTransientConflict, id)
			}
			return nil, waitCtx.Err()
		}
	}
	return release, nil
}
