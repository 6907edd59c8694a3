// Package dbtest holds the conformance suite every ledgerdb backend must
// pass. Backend test files instantiate their store and call TestDatabaseSuite.
package dbtest

import (
	"bytes"
	"testing"

	"github.com/aidledger/aidledger/ledgerdb"
)

// TestDatabaseSuite runs the shared backend conformance checks.
func TestDatabaseSuite(t *testing.T, newDB func() ledgerdb.KeyValueStore) {
	t.Run("GetPutDelete", func(t *testing.T) {
		db := newDB()
		defer db.Close()

		if _, err := db.Get([]byte("missing")); err != ledgerdb.ErrNotFound {
			t.Errorf("Get on absent key: err = %v, want ErrNotFound", err)
		}
		if ok, _ := db.Has([]byte("missing")); ok {
			t.Error("Has on absent key = true")
		}

		if err := db.Put([]byte("k"), []byte("v1")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := db.Get([]byte("k"))
		if err != nil || !bytes.Equal(got, []byte("v1")) {
			t.Fatalf("Get = (%q, %v), want (v1, nil)", got, err)
		}

		// Overwrite.
		if err := db.Put([]byte("k"), []byte("v2")); err != nil {
			t.Fatalf("Put overwrite: %v", err)
		}
		got, _ = db.Get([]byte("k"))
		if !bytes.Equal(got, []byte("v2")) {
			t.Fatalf("Get after overwrite = %q, want v2", got)
		}

		if err := db.Delete([]byte("k")); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := db.Get([]byte("k")); err != ledgerdb.ErrNotFound {
			t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
		}
		// Deleting absent key must not fail.
		if err := db.Delete([]byte("k")); err != nil {
			t.Errorf("Delete absent key: %v", err)
		}
	})

	t.Run("ValueIsolation", func(t *testing.T) {
		db := newDB()
		defer db.Close()

		val := []byte("mutable")
		if err := db.Put([]byte("k"), val); err != nil {
			t.Fatalf("Put: %v", err)
		}
		val[0] = 'X'
		got, _ := db.Get([]byte("k"))
		if !bytes.Equal(got, []byte("mutable")) {
			t.Errorf("stored value aliased caller slice: %q", got)
		}
	})

	t.Run("Batch", func(t *testing.T) {
		db := newDB()
		defer db.Close()

		if err := db.Put([]byte("stale"), []byte("x")); err != nil {
			t.Fatalf("Put: %v", err)
		}

		b := db.NewBatch()
		if err := b.Put([]byte("k1"), []byte("v1")); err != nil {
			t.Fatalf("batch Put: %v", err)
		}
		if err := b.Put([]byte("k2"), []byte("v2")); err != nil {
			t.Fatalf("batch Put: %v", err)
		}
		if err := b.Delete([]byte("stale")); err != nil {
			t.Fatalf("batch Delete: %v", err)
		}

		// Nothing is visible until Write.
		if ok, _ := db.Has([]byte("k1")); ok {
			t.Error("batched entry visible before Write")
		}
		if ok, _ := db.Has([]byte("stale")); !ok {
			t.Error("batched delete applied before Write")
		}

		if err := b.Write(); err != nil {
			t.Fatalf("batch Write: %v", err)
		}
		for key, want := range map[string]string{"k1": "v1", "k2": "v2"} {
			got, err := db.Get([]byte(key))
			if err != nil || !bytes.Equal(got, []byte(want)) {
				t.Errorf("Get %q after Write = (%q, %v), want %q", key, got, err, want)
			}
		}
		if _, err := db.Get([]byte("stale")); err != ledgerdb.ErrNotFound {
			t.Errorf("deleted key after Write: err = %v, want ErrNotFound", err)
		}

		// Reset discards queued entries.
		b.Reset()
		if err := b.Put([]byte("k3"), []byte("v3")); err != nil {
			t.Fatalf("batch Put after Reset: %v", err)
		}
		b.Reset()
		if err := b.Write(); err != nil {
			t.Fatalf("empty Write: %v", err)
		}
		if ok, _ := db.Has([]byte("k3")); ok {
			t.Error("Reset did not discard queued entry")
		}
	})

	t.Run("PrefixIterator", func(t *testing.T) {
		db := newDB()
		defer db.Close()

		entries := map[string]string{
			"a:1": "1", "a:2": "2", "a:3": "3",
			"b:1": "x", "": "root",
		}
		for k, v := range entries {
			if err := db.Put([]byte(k), []byte(v)); err != nil {
				t.Fatalf("Put %q: %v", k, err)
			}
		}

		var keys []string
		it := db.NewIterator([]byte("a:"), nil)
		for it.Next() {
			keys = append(keys, string(it.Key()))
		}
		it.Release()
		if it.Error() != nil {
			t.Fatalf("iterator error: %v", it.Error())
		}
		want := []string{"a:1", "a:2", "a:3"}
		if len(keys) != len(want) {
			t.Fatalf("prefix scan keys = %v, want %v", keys, want)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Fatalf("prefix scan keys = %v, want %v", keys, want)
			}
		}

		// Start offset within the prefix.
		keys = keys[:0]
		it = db.NewIterator([]byte("a:"), []byte("2"))
		for it.Next() {
			keys = append(keys, string(it.Key()))
		}
		it.Release()
		if len(keys) != 2 || keys[0] != "a:2" || keys[1] != "a:3" {
			t.Fatalf("offset scan keys = %v, want [a:2 a:3]", keys)
		}
	})
}
