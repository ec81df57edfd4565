package verify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue() *Queue {
	return NewQueue(time.Millisecond, 10*time.Millisecond, 2)
}

func TestEnqueueIdempotentOnSignature(t *testing.T) {
	q := newTestQueue()
	it := Item{Signature: "sig-1", Mint: "mint-1", Kind: KindEntry}
	assert.True(t, q.Enqueue(it))
	assert.False(t, q.Enqueue(it))
	assert.Equal(t, 1, q.Size())
	assert.True(t, q.Contains("sig-1"))
}

func TestPollBatchHonorsRetryDeadline(t *testing.T) {
	q := newTestQueue()
	now := time.Now()
	q.Enqueue(Item{Signature: "due", Kind: KindEntry})
	future := Item{Signature: "later", Kind: KindEntry, NextRetryAt: now.Add(time.Hour)}
	q.Enqueue(future)

	batch := q.PollBatch(10, now)
	require.Len(t, batch, 1)
	assert.Equal(t, "due", batch[0].Signature)
	// Polled items leave the pool; the not-yet-due one stays.
	assert.False(t, q.Contains("due"))
	assert.True(t, q.Contains("later"))
}

func TestPollBatchRespectsLimit(t *testing.T) {
	q := newTestQueue()
	for _, sig := range []string{"a", "b", "c", "d"} {
		q.Enqueue(Item{Signature: sig, Kind: KindEntry})
	}
	batch := q.PollBatch(2, time.Now())
	assert.Len(t, batch, 2)
	assert.Equal(t, 2, q.Size())
}

func TestRequeueBumpsAttemptsAndDeadline(t *testing.T) {
	q := newTestQueue()
	now := time.Now()
	q.Requeue(Item{Signature: "sig-r", Kind: KindExit}, now)

	require.True(t, q.Contains("sig-r"))
	// Not due immediately.
	assert.Empty(t, q.PollBatch(10, now))

	batch := q.PollBatch(10, now.Add(time.Minute))
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].Attempts)
	assert.Equal(t, now, batch[0].LastAttemptAt)
}

func TestGCExpired(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(Item{Signature: "expires", Kind: KindEntry, IsDca: true, ExpiryHeight: 100})
	q.Enqueue(Item{Signature: "forever", Kind: KindEntry})

	assert.True(t, q.HasExpiringItems())

	// Not past the deadline yet.
	assert.Empty(t, q.GCExpired(100))

	expired := q.GCExpired(101)
	require.Len(t, expired, 1)
	assert.Equal(t, "expires", expired[0].Signature)
	assert.True(t, q.Contains("forever"))
	assert.False(t, q.HasExpiringItems())
}

func TestSnapshotCopies(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(Item{Signature: "s1", Mint: "m1", Kind: KindEntry})
	snap := q.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Mint = "mutated"
	again := q.Snapshot()
	assert.Equal(t, "m1", again[0].Mint)
}
