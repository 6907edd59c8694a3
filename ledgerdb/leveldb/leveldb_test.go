package leveldb

import (
	"testing"

	"github.com/aidledger/aidledger/ledgerdb"
	"github.com/aidledger/aidledger/ledgerdb/dbtest"
)

func TestLevelDB(t *testing.T) {
	t.Run("DatabaseSuite", func(t *testing.T) {
		dbtest.TestDatabaseSuite(t, func() ledgerdb.KeyValueStore {
			db, err := NewInMemory()
			if err != nil {
				t.Fatal(err)
			}
			return db
		})
	})
}
