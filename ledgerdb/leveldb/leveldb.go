// Package leveldb implements ledgerdb.KeyValueStore over goleveldb. It is
// the durable backend for the validator registry and the audit log.
package leveldb

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/aidledger/aidledger/ledgerdb"
)

// Database wraps a goleveldb instance.
type Database struct {
	db *leveldb.DB
}

// New opens (creating if necessary) a leveldb database at path.
func New(path string) (*Database, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
			db, err = leveldb.RecoverFile(path, nil)
		}
		if err != nil {
			return nil, err
		}
	}
	return &Database{db: db}, nil
}

// NewInMemory opens a database over leveldb's memory storage (tests).
func NewInMemory() (*Database, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

// Has implements ledgerdb.KeyValueStore.
func (d *Database) Has(key []byte) (bool, error) {
	return d.db.Has(key, nil)
}

// Get implements ledgerdb.KeyValueStore.
func (d *Database) Get(key []byte) ([]byte, error) {
	val, err := d.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ledgerdb.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Put implements ledgerdb.KeyValueStore.
func (d *Database) Put(key, value []byte) error {
	return d.db.Put(key, value, nil)
}

// Delete implements ledgerdb.KeyValueStore.
func (d *Database) Delete(key []byte) error {
	return d.db.Delete(key, nil)
}

// NewIterator implements ledgerdb.KeyValueStore.
func (d *Database) NewIterator(prefix, start []byte) ledgerdb.Iterator {
	r := util.BytesPrefix(prefix)
	if len(start) > 0 {
		r.Start = append(append([]byte(nil), prefix...), start...)
	}
	return &ldbIterator{it: d.db.NewIterator(r, nil)}
}

// NewBatch implements ledgerdb.KeyValueStore.
func (d *Database) NewBatch() ledgerdb.Batch {
	return &ldbBatch{db: d.db, b: new(leveldb.Batch)}
}

// Close implements ledgerdb.KeyValueStore.
func (d *Database) Close() error {
	return d.db.Close()
}

type ldbBatch struct {
	db *leveldb.DB
	b  *leveldb.Batch
}

func (b *ldbBatch) Put(key, value []byte) error {
	b.b.Put(key, value)
	return nil
}

func (b *ldbBatch) Delete(key []byte) error {
	b.b.Delete(key)
	return nil
}

func (b *ldbBatch) Write() error {
	return b.db.Write(b.b, nil)
}

func (b *ldbBatch) Reset() {
	b.b.Reset()
}

type ldbIterator struct {
	it iterator.Iterator
}

func (i *ldbIterator) Next() bool { return i.it.Next() }

func (i *ldbIterator) Key() []byte {
	return append([]byte(nil), i.it.Key()...)
}

func (i *ldbIterator) Value() []byte {
	return append([]byte(nil), i.it.Value()...)
}

func (i *ldbIterator) Release() { i.it.Release() }

func (i *ldbIterator) Error() error { return i.it.Error() }
