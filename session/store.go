package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// Store persists workspace state per user. Load returns nil, nil when the
// user has no saved state.
type Store interface {
	Load(ctx context.Context, userID string) (*State, error)
	Save(ctx context.Context, userID string, s *State) error
	Delete(ctx context.Context, userID string) error
	Close() error
}

// MemoryStore keeps encoded states in a map
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte)}
}

func (m *MemoryStore) Load(ctx context.Context, userID string) (*State, error) {
	m.mu.RLock()
	raw, ok := m.states[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeState(raw)
}

func (m *MemoryStore) Save(ctx context.Context, userID string, s *State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode workspace: %w", err)
	}
	m.mu.Lock()
	m.states[userID] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	delete(m.states, userID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// BadgerStore keeps workspaces in an embedded Badger database
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadgerStore opens the database in dir; an empty dir keeps it in memory.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace store: %w", err)
	}
	slog.Info("workspace store initialized", "driver", "badger", "dir", dir)
	return &BadgerStore{db: db}, nil
}

func stateKey(userID string) []byte {
	return []byte("workspace:" + userID)
}

func (b *BadgerStore) Load(ctx context.Context, userID string) (*State, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(userID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	return decodeState(raw)
}

func (b *BadgerStore) Save(ctx context.Context, userID string, s *State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode workspace: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(userID), raw)
	})
}

func (b *BadgerStore) Delete(ctx context.Context, userID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(stateKey(userID))
	})
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func decodeState(raw []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode workspace: %w", err)
	}
	return &s, nil
}
