package position

import (
	"sync"
	"time"

	"kestrel/internal/types"
)

// Store is the authoritative in-memory position ledger plus two lookup
// indices: signature -> mint and mint -> slot. Structural mutations rebuild
// the indices before the write lock is released, so readers can never
// observe an index pointing at a stale slot.
//
// Per-mint serialization is a separate concern from the store lock: callers
// that read-modify-write a position take LockMint first, so a new entry and
// a concurrent exit verification for the same token cannot interleave.
type Store struct {
	mu         sync.RWMutex
	positions  []*types.Position
	sigToMint  map[string]string
	mintToSlot map[string]int

	mintMu    sync.Mutex
	mintLocks map[string]*sync.Mutex
}

func NewStore() *Store {
	return &Store{
		sigToMint:  make(map[string]string),
		mintToSlot: make(map[string]int),
		mintLocks:  make(map[string]*sync.Mutex),
	}
}

// LockMint serializes all state-changing work for one mint. The returned
// func releases the lock.
func (s *Store) LockMint(mint string) func() {
	s.mintMu.Lock()
	lock, ok := s.mintLocks[mint]
	if !ok {
		lock = &sync.Mutex{}
		s.mintLocks[mint] = lock
	}
	s.mintMu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Load replaces the store contents, used at startup rehydration.
func (s *Store) Load(positions []types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = s.positions[:0]
	for i := range positions {
		cp := positions[i]
		s.positions = append(s.positions, &cp)
	}
	s.rebuildIndicesLocked()
}

// Upsert inserts or replaces the position for its mint.
func (s *Store) Upsert(pos *types.Position) {
	if pos == nil {
		return
	}
	cp := pos.Clone()
	cp.UpdatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.mintToSlot[cp.Mint]; ok {
		s.positions[slot] = cp
	} else {
		s.positions = append(s.positions, cp)
	}
	s.rebuildIndicesLocked()
}

// RemoveByID deletes the position with the given id and purges every index
// entry referencing it. Returns the removed position, if any.
func (s *Store) RemoveByID(id string) (*types.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, pos := range s.positions {
		if pos.ID != id {
			continue
		}
		removed := pos
		s.positions = append(s.positions[:i], s.positions[i+1:]...)
		s.rebuildIndicesLocked()
		return removed.Clone(), true
	}
	return nil, false
}

// GetByMint returns a copy of the position for mint.
func (s *Store) GetByMint(mint string) (*types.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.mintToSlot[mint]
	if !ok {
		return nil, false
	}
	return s.positions[slot].Clone(), true
}

// GetBySignature resolves a transaction signature to its position.
func (s *Store) GetBySignature(sig string) (*types.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mint, ok := s.sigToMint[sig]
	if !ok {
		return nil, false
	}
	slot, ok := s.mintToSlot[mint]
	if !ok {
		return nil, false
	}
	return s.positions[slot].Clone(), true
}

// Snapshot returns copies of every position.
func (s *Store) Snapshot() []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, *pos.Clone())
	}
	return out
}

// Count returns the number of tracked positions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// OpenCount returns how many tracked positions are still open.
func (s *Store) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	open := 0
	for _, pos := range s.positions {
		if pos.IsOpen() {
			open++
		}
	}
	return open
}

// RebuildIndices recomputes both indices from the position slice.
func (s *Store) RebuildIndices() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildIndicesLocked()
}

func (s *Store) rebuildIndicesLocked() {
	s.sigToMint = make(map[string]string, len(s.positions)*2)
	s.mintToSlot = make(map[string]int, len(s.positions))
	for i, pos := range s.positions {
		s.mintToSlot[pos.Mint] = i
		if pos.EntrySignature != "" {
			s.sigToMint[pos.EntrySignature] = pos.Mint
		}
		if pos.ExitSignature != "" {
			s.sigToMint[pos.ExitSignature] = pos.Mint
		}
	}
}
