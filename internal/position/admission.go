package position

import (
	"context"
	"fmt"
	"sync"

	"kestrel/internal/logger"

	"golang.org/x/sync/semaphore"
)

// Admission is the counting semaphore bounding concurrently open positions.
// One permit is held per open position. Permits are released only when a
// position fully closes or is removed as an orphan; partial exits and DCA
// buys never touch the permit count.
type Admission struct {
	mu       sync.Mutex
	sem      *semaphore.Weighted
	capacity int64
	held     int64
}

func NewAdmission(capacity int) *Admission {
	if capacity <= 0 {
		capacity = 1
	}
	return &Admission{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Reconcile rebuilds the semaphore against the number of currently open
// positions. Run at startup so a capacity change between restarts cannot
// leak or fabricate permits. If more positions are open than the new
// capacity allows, the excess is tolerated: no new entries are admitted
// until closures bring the count back under capacity.
func (a *Admission) Reconcile(capacity, openCount int) {
	if capacity <= 0 {
		capacity = 1
	}
	if openCount < 0 {
		openCount = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capacity = int64(capacity)
	a.sem = semaphore.NewWeighted(a.capacity)
	claim := int64(openCount)
	if claim > a.capacity {
		logger.Warnf("admission: %d open positions exceed capacity %d, admissions blocked until closures catch up", openCount, capacity)
		claim = a.capacity
	}
	if claim > 0 {
		// Cannot fail: the semaphore is fresh and claim <= capacity.
		_ = a.sem.TryAcquire(claim)
	}
	a.held = int64(openCount)
}

// Acquire blocks until a permit is free or ctx is done.
func (a *Admission) Acquire(ctx context.Context) error {
	a.mu.Lock()
	sem := a.sem
	a.mu.Unlock()
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("admission acquire: %w", err)
	}
	a.mu.Lock()
	a.held++
	a.mu.Unlock()
	return nil
}

// TryAcquire grabs a permit without blocking.
func (a *Admission) TryAcquire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sem.TryAcquire(1) {
		return false
	}
	a.held++
	return true
}

// Release returns one permit. Safe to call while over capacity after a
// downsizing Reconcile: the excess closures drain without freeing permits.
func (a *Admission) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.held <= 0 {
		logger.Warnf("admission: release without held permit ignored")
		return
	}
	a.held--
	if a.held < a.capacity {
		a.sem.Release(1)
	}
}

// Held reports the number of permits currently held.
func (a *Admission) Held() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.held)
}

// Capacity reports the configured maximum.
func (a *Admission) Capacity() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.capacity)
}
