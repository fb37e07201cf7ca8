package memorydb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/keyvaluedb"
	"github.com/mutualcredit/mcledger/keyvaluedb/dbtest"
)

func TestMemoryDB(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) keyvaluedb.KeyValueDB { return New() })
}

func TestMemoryDB_Len(t *testing.T) {
	db := New()
	require.Zero(t, db.Len())
	require.NoError(t, db.Write([]byte("a"), 1))
	require.NoError(t, db.Write([]byte("a"), 2))
	require.NoError(t, db.Write([]byte("b"), 3))
	require.Equal(t, 2, db.Len())
}

func TestMemoryDB_ScanDoesNotBlockWrites(t *testing.T) {
	db := New()
	require.NoError(t, db.Write([]byte("k1"), "v1"))
	require.NoError(t, db.Scan([]byte("k"), func(key []byte, decode keyvaluedb.DecodeFunc) (bool, error) {
		// items are copied before "fn" is called
		return true, db.Write([]byte("k2"), "v2")
	}))
	require.Equal(t, 2, db.Len())
}
