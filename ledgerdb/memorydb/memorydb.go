// Package memorydb implements ledgerdb.KeyValueStore in process memory.
// It serves tests and ephemeral (no data directory) runs.
package memorydb

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/aidledger/aidledger/ledgerdb"
)

// errClosed is returned on access after Close.
var errClosed = errors.New("memorydb: closed")

// Database is a map-backed key-value store guarded by a RWMutex.
type Database struct {
	mu sync.RWMutex
	db map[string][]byte
}

// New returns an empty in-memory database.
func New() *Database {
	return &Database{db: make(map[string][]byte)}
}

// Has implements ledgerdb.KeyValueStore.
func (d *Database) Has(key []byte) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return false, errClosed
	}
	_, ok := d.db[string(key)]
	return ok, nil
}

// Get implements ledgerdb.KeyValueStore.
func (d *Database) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, errClosed
	}
	if val, ok := d.db[string(key)]; ok {
		return append([]byte(nil), val...), nil
	}
	return nil, ledgerdb.ErrNotFound
}

// Put implements ledgerdb.KeyValueStore.
func (d *Database) Put(key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return errClosed
	}
	d.db[string(key)] = append([]byte(nil), value...)
	return nil
}

// Delete implements ledgerdb.KeyValueStore.
func (d *Database) Delete(key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return errClosed
	}
	delete(d.db, string(key))
	return nil
}

// NewIterator implements ledgerdb.KeyValueStore. The iterator operates on a
// snapshot of the keyspace taken at creation time.
func (d *Database) NewIterator(prefix, start []byte) ledgerdb.Iterator {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		pr   = string(prefix)
		st   = string(append(append([]byte(nil), prefix...), start...))
		keys = make([]string, 0, len(d.db))
	)
	for key := range d.db {
		if strings.HasPrefix(key, pr) && key >= st {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, 0, len(keys))
	for _, key := range keys {
		values = append(values, append([]byte(nil), d.db[key]...))
	}
	return &iterator{keys: keys, values: values, index: -1}
}

// NewBatch implements ledgerdb.KeyValueStore.
func (d *Database) NewBatch() ledgerdb.Batch {
	return &batch{db: d}
}

// Close implements ledgerdb.KeyValueStore.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.db = nil
	return nil
}

// Len returns the number of stored entries (test helper).
func (d *Database) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.db)
}

// batch queues writes and applies them under a single lock acquisition, so
// readers never observe a partially applied batch.
type batch struct {
	db     *Database
	writes []keyvalue
}

type keyvalue struct {
	key    string
	value  []byte
	delete bool
}

func (b *batch) Put(key, value []byte) error {
	b.writes = append(b.writes, keyvalue{key: string(key), value: append([]byte(nil), value...)})
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.writes = append(b.writes, keyvalue{key: string(key), delete: true})
	return nil
}

func (b *batch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if b.db.db == nil {
		return errClosed
	}
	for _, kv := range b.writes {
		if kv.delete {
			delete(b.db.db, kv.key)
			continue
		}
		b.db.db[kv.key] = kv.value
	}
	return nil
}

func (b *batch) Reset() {
	b.writes = b.writes[:0]
}

type iterator struct {
	keys   []string
	values [][]byte
	index  int
}

func (it *iterator) Next() bool {
	if it.index >= len(it.keys) {
		return false
	}
	it.index++
	return it.index < len(it.keys)
}

func (it *iterator) Key() []byte {
	if it.index < 0 || it.index >= len(it.keys) {
		return nil
	}
	return []byte(it.keys[it.index])
}

func (it *iterator) Value() []byte {
	if it.index < 0 || it.index >= len(it.values) {
		return nil
	}
	return it.values[it.index]
}

func (it *iterator) Release() {
	it.keys, it.values, it.index = nil, nil, 0
}

func (it *iterator) Error() error { return nil }
