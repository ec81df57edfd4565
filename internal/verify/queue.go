package verify

import (
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// Queue holds the live verification items, keyed by signature. Items leave
// the pending pool on PollBatch and come back via Requeue with a fresh
// backoff deadline, so a batch can never pick up the same signature twice.
type Queue struct {
	mu    sync.Mutex
	items map[string]*Item
	bo    *backoff.Backoff
}

func NewQueue(min, max time.Duration, factor float64) *Queue {
	if min <= 0 {
		min = 2 * time.Second
	}
	if max < min {
		max = 30 * min
	}
	if factor < 1 {
		factor = 2
	}
	return &Queue{
		items: make(map[string]*Item),
		bo: &backoff.Backoff{
			Min:    min,
			Max:    max,
			Factor: factor,
			Jitter: true,
		},
	}
}

// Enqueue inserts the item unless a live item already holds its signature.
// Returns false on the duplicate no-op.
func (q *Queue) Enqueue(it Item) bool {
	if it.Signature == "" {
		return false
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[it.Signature]; ok {
		return false
	}
	q.items[it.Signature] = &it
	return true
}

// Contains reports whether a live item holds the signature.
func (q *Queue) Contains(signature string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[signature]
	return ok
}

// PollBatch removes and returns up to n items whose retry deadline has
// elapsed. The caller owns the returned items: finalize them or Requeue.
func (q *Queue) PollBatch(n int, now time.Time) []Item {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Item
	for sig, it := range q.items {
		if it.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *it)
		delete(q.items, sig)
		if len(out) >= n {
			break
		}
	}
	return out
}

// Requeue reinserts an item after a transient outcome, bumping its attempt
// count and pushing the retry deadline out by the backoff schedule.
func (q *Queue) Requeue(it Item, now time.Time) {
	it.Attempts++
	it.LastAttemptAt = now
	it.NextRetryAt = now.Add(q.bo.ForAttempt(float64(it.Attempts - 1)))
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[it.Signature] = &it
}

// Remove drops the live item for the signature, if any.
func (q *Queue) Remove(signature string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, signature)
}

// Size reports the number of live items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// HasExpiringItems reports whether any live item carries a finite expiry
// height. It gates the block-height RPC call in the worker's GC pass.
func (q *Queue) HasExpiringItems() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.ExpiryHeight > 0 {
			return true
		}
	}
	return false
}

// GCExpired removes and returns every item whose expiry height has passed.
func (q *Queue) GCExpired(currentHeight uint64) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Item
	for sig, it := range q.items {
		if it.ExpiryHeight == 0 || currentHeight <= it.ExpiryHeight {
			continue
		}
		out = append(out, *it)
		delete(q.items, sig)
	}
	return out
}

// Snapshot returns copies of every live item, for the status API.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, *it)
	}
	return out
}
