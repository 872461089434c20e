package statestore

import (
	"context"
	"sync"

	"github.com/synchrony-labs/synchrony/ledger"
)

// Memory store for tests and dry runs
type Memory struct {
	mutex   sync.RWMutex
	state   ledger.State
	records map[string][]byte
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{
		state:   make(ledger.State),
		records: make(map[string][]byte),
	}
}

func (m *Memory) Read(_ context.Context, k ledger.Key) (float64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return m.state[k], nil
}

func (m *Memory) Apply(ctx context.Context, deltas ledger.DeltaSet, rec *Record) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, d := range deltas {
		if stored := m.state[d.Key]; !ledger.ValuesEqual(stored, d.Before) {
			return staleError(d.Key, stored, d.Before)
		}
	}
	for _, d := range deltas {
		m.state[d.Key] = d.After
	}
	if rec != nil {
		m.records[rec.ID] = rec.Bytes()
	}
	return nil
}

func (m *Memory) Record(_ context.Context, id string) (*Record, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	data, ok := m.records[id]
	if !ok {
		return nil, recordNotFound(id)
	}
	return RecordFromBytes(data)
}

func (m *Memory) Snapshot(_ context.Context) (ledger.State, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	return m.state.Clone(), nil
}

func (m *Memory) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.closed = true
	return nil
}
