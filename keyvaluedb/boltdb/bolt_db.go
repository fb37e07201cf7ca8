package boltdb

import (
	"bytes"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mutualcredit/mcledger/keyvaluedb"
	"github.com/mutualcredit/mcledger/types"
)

// all the data is kept in single bucket, stores needing separation use their own file
var bucket = []byte("mcledger")

// BoltDB is keyvaluedb.KeyValueDB backed by the bbolt file.
type BoltDB struct {
	db *bolt.DB
}

var _ keyvaluedb.KeyValueDB = (*BoltDB)(nil)

// New opens (creates when it doesn't exist) Bolt DB in the file "dbFile".
func New(dbFile string) (*BoltDB, error) {
	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db %s: %w", dbFile, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &BoltDB{db: db}, nil
}

func (db *BoltDB) Path() string {
	return db.db.Path()
}

func (db *BoltDB) Read(key []byte, v any) (found bool, err error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	err = db.db.View(func(tx *bolt.Tx) error {
		found, err = read(tx.Bucket(bucket), key, v)
		return err
	})
	return found, err
}

func (db *BoltDB) Write(key []byte, v any) error {
	return db.db.Update(func(tx *bolt.Tx) error {
		return write(tx.Bucket(bucket), key, v)
	})
}

func (db *BoltDB) Scan(prefix []byte, fn func(key []byte, decode keyvaluedb.DecodeFunc) (bool, error)) error {
	if err := keyvaluedb.CheckKey(prefix); err != nil {
		return err
	}
	return db.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, data := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, data = c.Next() {
			// key is valid only during the transaction
			next, err := fn(bytes.Clone(k), func(v any) error { return types.Unmarshal(data, v) })
			if err != nil || !next {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) Update(fn func(tx keyvaluedb.ReadWriter) error) error {
	return db.db.Update(func(tx *bolt.Tx) error {
		return fn(boltTx{b: tx.Bucket(bucket)})
	})
}

func (db *BoltDB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}

type boltTx struct {
	b *bolt.Bucket
}

func (tx boltTx) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	return read(tx.b, key, v)
}

func (tx boltTx) Write(key []byte, v any) error {
	return write(tx.b, key, v)
}

func read(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := types.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decoding value of %x: %w", key, err)
	}
	return true, nil
}

func write(b *bolt.Bucket, key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	data, err := types.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding value of %x: %w", key, err)
	}
	return b.Put(key, data)
}
