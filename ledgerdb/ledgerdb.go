// Package ledgerdb defines the key-value store interface backing the
// validator registry and the audit log, with leveldb and in-memory
// implementations in subpackages.
package ledgerdb

import "errors"

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("ledgerdb: not found")

// KeyValueStore is the required interface of a backend. Implementations must
// be safe for concurrent use.
type KeyValueStore interface {
	// Has reports whether a value exists for key.
	Has(key []byte) (bool, error)
	// Get retrieves the value for key, or ErrNotFound.
	Get(key []byte) ([]byte, error)
	// Put stores value under key, replacing any previous value.
	Put(key, value []byte) error
	// Delete removes the value for key. Deleting an absent key is a no-op.
	Delete(key []byte) error
	// NewIterator iterates, in ascending key order, the subset of keys
	// beginning with prefix, starting at prefix+start.
	NewIterator(prefix, start []byte) Iterator
	// NewBatch creates an empty write batch.
	NewBatch() Batch
	// Close releases underlying resources.
	Close() error
}

// Batch accumulates writes and applies them atomically on Write: either
// every entry lands or none does. Batches are not safe for concurrent use.
type Batch interface {
	// Put queues a key/value insertion.
	Put(key, value []byte) error
	// Delete queues a key removal.
	Delete(key []byte) error
	// Write applies every queued entry as one atomic unit.
	Write() error
	// Reset discards queued entries so the batch can be reused.
	Reset()
}

// Iterator walks a key range. The caller must Release it when done.
type Iterator interface {
	// Next advances to the next entry, reporting whether one exists.
	Next() bool
	// Key returns the current key. Valid only after a true Next.
	Key() []byte
	// Value returns the current value. Valid only after a true Next.
	Value() []byte
	// Release frees the iterator. Idempotent.
	Release()
	// Error returns any accumulated iteration failure.
	Error() error
}
