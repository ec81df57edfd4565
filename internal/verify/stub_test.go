package verify

import (
	"context"
	"sync"

	"kestrel/internal/gateway/chain"
	"kestrel/internal/types"

	"github.com/google/uuid"
)

// memStore is an in-memory stand-in for the SQLite persistence layer.
type memStore struct {
	mu        sync.Mutex
	positions map[string]types.Position
	dca       map[string]types.PendingDcaSwap
	partial   map[string]types.PendingPartialExit
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{
		positions: make(map[string]types.Position),
		dca:       make(map[string]types.PendingDcaSwap),
		partial:   make(map[string]types.PendingPartialExit),
	}
}

func (m *memStore) LoadAllPositions(context.Context) ([]types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) SavePosition(_ context.Context, pos *types.Position) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	m.positions[pos.ID] = *pos
	return pos.ID, nil
}

func (m *memStore) UpdatePosition(_ context.Context, pos *types.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.positions[pos.ID] = *pos
	return nil
}

func (m *memStore) DeletePositionByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, id)
	return nil
}

func (m *memStore) SavePendingDcaSwap(_ context.Context, rec types.PendingDcaSwap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dca[rec.Signature] = rec
	return nil
}

func (m *memStore) ListPendingDcaSwaps(context.Context) ([]types.PendingDcaSwap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.PendingDcaSwap, 0, len(m.dca))
	for _, rec := range m.dca {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) DeletePendingDcaSwap(_ context.Context, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dca, signature)
	return nil
}

func (m *memStore) SavePendingPartialExit(_ context.Context, rec types.PendingPartialExit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partial[rec.Signature] = rec
	return nil
}

func (m *memStore) ListPendingPartialExits(context.Context) ([]types.PendingPartialExit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.PendingPartialExit, 0, len(m.partial))
	for _, rec := range m.partial {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) FindPendingPartialExit(_ context.Context, signature string) (types.PendingPartialExit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.partial[signature]
	return rec, ok, nil
}

func (m *memStore) DeletePendingPartialExit(_ context.Context, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.partial, signature)
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) position(id string) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	return p, ok
}

// stubChain replays scripted responses per signature. The last response for
// a signature repeats once the script runs out.
type stubChain struct {
	mu          sync.Mutex
	height      uint64
	heightCalls int
	heightErr   error
	script      map[string][]stubResult
	panicSigs   map[string]bool
}

type stubResult struct {
	status chain.TxStatus
	err    error
}

func newStubChain() *stubChain {
	return &stubChain{
		script:    make(map[string][]stubResult),
		panicSigs: make(map[string]bool),
	}
}

func (c *stubChain) respond(sig string, results ...stubResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script[sig] = append(c.script[sig], results...)
}

func (c *stubChain) GetBlockHeight(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heightCalls++
	return c.height, c.heightErr
}

func (c *stubChain) GetTransactionStatus(_ context.Context, signature string) (chain.TxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicSigs[signature] {
		panic("scripted panic for " + signature)
	}
	results := c.script[signature]
	if len(results) == 0 {
		return chain.TxStatus{}, chain.ErrNotFound
	}
	next := results[0]
	if len(results) > 1 {
		c.script[signature] = results[1:]
	}
	return next.status, next.err
}

var _ chain.Client = (*stubChain)(nil)

func confirmed(tokenDelta, solDelta, fee float64) stubResult {
	return stubResult{status: chain.TxStatus{
		Confirmed:  true,
		Succeeded:  true,
		FeeSol:     fee,
		TokenDelta: tokenDelta,
		SolDelta:   solDelta,
		Slot:       1,
	}}
}

func rejected(errText string) stubResult {
	return stubResult{status: chain.TxStatus{Confirmed: true, Succeeded: false, ErrText: errText}}
}

func notFound() stubResult {
	return stubResult{err: chain.ErrNotFound}
}
