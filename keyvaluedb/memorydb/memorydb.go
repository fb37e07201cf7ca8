package memorydb

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/mutualcredit/mcledger/keyvaluedb"
	"github.com/mutualcredit/mcledger/types"
)

/*
MemoryDB is in-memory implementation of keyvaluedb.KeyValueDB, data is lost
when the process ends. Used by tests and for ephemeral nodes.
*/
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
	// serializes read-write transactions
	txMu sync.Mutex
}

var _ keyvaluedb.KeyValueDB = (*MemoryDB)(nil)

func New() *MemoryDB {
	return &MemoryDB{data: make(map[string][]byte)}
}

func (db *MemoryDB) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	db.mu.RLock()
	data, ok := db.data[string(key)]
	db.mu.RUnlock()
	return decode(data, ok, v)
}

func (db *MemoryDB) Write(key []byte, v any) error {
	data, err := encode(key, v)
	if err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = data
	return nil
}

func (db *MemoryDB) Scan(prefix []byte, fn func(key []byte, decode keyvaluedb.DecodeFunc) (bool, error)) error {
	if err := keyvaluedb.CheckKey(prefix); err != nil {
		return err
	}
	// copy the matching items so that "fn" runs without holding the lock
	db.mu.RLock()
	items := make(map[string][]byte)
	keys := make([]string, 0)
	for k, v := range db.data {
		if strings.HasPrefix(k, string(prefix)) {
			items[k] = v
			keys = append(keys, k)
		}
	}
	db.mu.RUnlock()

	slices.Sort(keys)
	for _, k := range keys {
		data := items[k]
		next, err := fn([]byte(k), func(v any) error { return types.Unmarshal(data, v) })
		if err != nil || !next {
			return err
		}
	}
	return nil
}

func (db *MemoryDB) Update(fn func(tx keyvaluedb.ReadWriter) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	tx := &memTx{db: db, pending: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for k, v := range tx.pending {
		db.data[k] = v
	}
	return nil
}

// Len returns number of keys in the DB.
func (db *MemoryDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

// memTx buffers the writes until the transaction is committed.
type memTx struct {
	db      *MemoryDB
	pending map[string][]byte
}

func (tx *memTx) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	if data, ok := tx.pending[string(key)]; ok {
		return decode(data, ok, v)
	}
	return tx.db.Read(key, v)
}

func (tx *memTx) Write(key []byte, v any) error {
	data, err := encode(key, v)
	if err != nil {
		return err
	}
	tx.pending[string(key)] = data
	return nil
}

func encode(key []byte, v any) ([]byte, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return nil, err
	}
	data, err := types.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding value of %x: %w", key, err)
	}
	return data, nil
}

func decode(data []byte, found bool, v any) (bool, error) {
	if !found {
		return false, nil
	}
	if err := types.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decoding value: %w", err)
	}
	return true, nil
}
