/*
Package dbtest contains tests every keyvaluedb.KeyValueDB implementation
must pass.
*/
package dbtest

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/keyvaluedb"
)

type record struct {
	_     struct{} `cbor:",toarray"`
	Name  string
	Value []byte
}

// Run runs the test suite against DB created by "newDB" (new empty DB for every test).
func Run(t *testing.T, newDB func(t *testing.T) keyvaluedb.KeyValueDB) {
	t.Run("invalid input", func(t *testing.T) {
		db := newDB(t)
		var rec *record
		require.ErrorIs(t, db.Write([]byte("rec"), rec), keyvaluedb.ErrValueIsNil)
		require.ErrorIs(t, db.Write(nil, "value"), keyvaluedb.ErrInvalidKey)

		var s string
		found, err := db.Read(nil, &s)
		require.ErrorIs(t, err, keyvaluedb.ErrInvalidKey)
		require.False(t, found)
		found, err = db.Read([]byte("rec"), nil)
		require.ErrorIs(t, err, keyvaluedb.ErrValueIsNil)
		require.False(t, found)

		require.ErrorIs(t, db.Scan(nil, func([]byte, keyvaluedb.DecodeFunc) (bool, error) { return true, nil }), keyvaluedb.ErrInvalidKey)
	})

	t.Run("write and read", func(t *testing.T) {
		db := newDB(t)
		var rec record
		found, err := db.Read([]byte("rec"), &rec)
		require.NoError(t, err)
		require.False(t, found)

		in := &record{Name: "alice", Value: []byte{1, 2, 3}}
		require.NoError(t, db.Write([]byte("rec"), in))
		found, err = db.Read([]byte("rec"), &rec)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, in, &rec)

		// overwrite
		require.NoError(t, db.Write([]byte("rec"), uint64(42)))
		var n uint64
		found, err = db.Read([]byte("rec"), &n)
		require.NoError(t, err)
		require.True(t, found)
		require.EqualValues(t, 42, n)

		// value of different type
		found, err = db.Read([]byte("rec"), &rec)
		require.Error(t, err)
		require.True(t, found)
	})

	t.Run("scan", func(t *testing.T) {
		db := newDB(t)
		for _, k := range []string{"b/2", "a/1", "b/1", "b/3", "c/1", "b"} {
			require.NoError(t, db.Write([]byte(k), k))
		}

		scan := func(prefix string, limit int) []string {
			var res []string
			require.NoError(t, db.Scan([]byte(prefix), func(key []byte, decode keyvaluedb.DecodeFunc) (bool, error) {
				var v string
				if err := decode(&v); err != nil {
					return false, err
				}
				require.Equal(t, string(key), v)
				res = append(res, v)
				return len(res) < limit, nil
			}))
			return res
		}
		require.Equal(t, []string{"b/1", "b/2", "b/3"}, scan("b/", 10))
		require.Equal(t, []string{"b", "b/1", "b/2", "b/3"}, scan("b", 10))
		require.Equal(t, []string{"b/1", "b/2"}, scan("b/", 2))
		require.Empty(t, scan("d", 10))

		expErr := errors.New("stop")
		err := db.Scan([]byte("b"), func([]byte, keyvaluedb.DecodeFunc) (bool, error) { return true, expErr })
		require.ErrorIs(t, err, expErr)
	})

	t.Run("update commits", func(t *testing.T) {
		db := newDB(t)
		require.NoError(t, db.Write([]byte("seq"), uint64(1)))
		require.NoError(t, db.Update(func(tx keyvaluedb.ReadWriter) error {
			var seq uint64
			found, err := tx.Read([]byte("seq"), &seq)
			if err != nil || !found {
				return errors.Join(err, errors.New("seq not found"))
			}
			if err := tx.Write([]byte("seq"), seq+1); err != nil {
				return err
			}
			// own writes are visible inside the transaction
			if found, err := tx.Read([]byte("seq"), &seq); err != nil || !found || seq != 2 {
				return errors.Join(err, errors.New("unexpected seq"))
			}
			return tx.Write([]byte("other"), "value")
		}))

		var seq uint64
		found, err := db.Read([]byte("seq"), &seq)
		require.NoError(t, err)
		require.True(t, found)
		require.EqualValues(t, 2, seq)
		var s string
		found, err = db.Read([]byte("other"), &s)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "value", s)
	})

	t.Run("update rolls back on error", func(t *testing.T) {
		db := newDB(t)
		require.NoError(t, db.Write([]byte("seq"), uint64(1)))
		expErr := errors.New("boom")
		err := db.Update(func(tx keyvaluedb.ReadWriter) error {
			if err := tx.Write([]byte("seq"), uint64(2)); err != nil {
				return err
			}
			if err := tx.Write([]byte("new"), "value"); err != nil {
				return err
			}
			return expErr
		})
		require.ErrorIs(t, err, expErr)

		var seq uint64
		_, err = db.Read([]byte("seq"), &seq)
		require.NoError(t, err)
		require.EqualValues(t, 1, seq)
		var s string
		found, err := db.Read([]byte("new"), &s)
		require.NoError(t, err)
		require.False(t, found)

		// invalid input fails the transaction
		err = db.Update(func(tx keyvaluedb.ReadWriter) error { return tx.Write(nil, "value") })
		require.ErrorIs(t, err, keyvaluedb.ErrInvalidKey)
	})

	t.Run("concurrent updates", func(t *testing.T) {
		db := newDB(t)
		key := []byte("counter")
		require.NoError(t, db.Write(key, uint64(0)))
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := db.Update(func(tx keyvaluedb.ReadWriter) error {
					var n uint64
					if _, err := tx.Read(key, &n); err != nil {
						return err
					}
					return tx.Write(key, n+1)
				})
				if err != nil {
					t.Error(err)
				}
			}()
		}
		wg.Wait()
		var n uint64
		_, err := db.Read(key, &n)
		require.NoError(t, err)
		require.EqualValues(t, 10, n)
	})
}
