package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"kestrel/internal/gateway/database"
	"kestrel/internal/logger"

	"github.com/google/uuid"
)

// Recorder is the fire-and-forget telemetry sink. Record never blocks the
// verification path: events go through a buffered channel drained by one
// goroutine, and are dropped (counted) when the buffer is full.
type Recorder struct {
	sink   database.EventStore
	ch     chan database.EventRecord
	wg     sync.WaitGroup
	once   sync.Once
	closed chan struct{}

	dropped atomic.Int64
}

func NewRecorder(sink database.EventStore) *Recorder {
	r := &Recorder{
		sink:   sink,
		ch:     make(chan database.EventRecord, 256),
		closed: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Record queues one event. Payload is marshalled to JSON; marshal failures
// only lose the payload, never the event.
func (r *Recorder) Record(name string, severity database.EventSeverity, mint, signature string, payload map[string]any) {
	if r == nil {
		return
	}
	var raw []byte
	if len(payload) > 0 {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	rec := database.EventRecord{
		ID:        uuid.NewString(),
		Name:      name,
		Severity:  severity,
		Mint:      mint,
		Signature: signature,
		Payload:   raw,
		CreatedAt: time.Now(),
	}
	select {
	case <-r.closed:
		return
	default:
	}
	select {
	case r.ch <- rec:
	default:
		if n := r.dropped.Add(1); n%100 == 1 {
			logger.Warnf("event recorder buffer full, dropped %d events so far", n)
		}
	}
}

// Dropped reports how many events were discarded due to backpressure.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for {
		select {
		case rec := <-r.ch:
			r.persist(rec)
		case <-r.closed:
			// Flush whatever is still buffered, then stop.
			for {
				select {
				case rec := <-r.ch:
					r.persist(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(rec database.EventRecord) {
	if r.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.sink.AppendEvent(ctx, rec); err != nil {
		logger.Debugf("event append failed (%s): %v", rec.Name, err)
	}
}

// Close flushes buffered events and stops the drain goroutine.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.closed) })
	r.wg.Wait()
}
