/*
Package keyvaluedb defines the storage interface shared by the source chain
and the public store. Values are CBOR encoded by the implementations.
*/
package keyvaluedb

import (
	"errors"
	"reflect"
)

var (
	ErrInvalidKey = errors.New("invalid key")
	ErrValueIsNil = errors.New("value is nil")
)

type (
	Reader interface {
		// Read decodes the value of the "key" into "value". Returns false
		// when the key is not in the DB.
		Read(key []byte, value any) (bool, error)
	}

	Writer interface {
		// Write inserts or replaces the value of the "key".
		Write(key []byte, value any) error
	}

	ReadWriter interface {
		Reader
		Writer
	}

	// DecodeFunc decodes the value of the current item of a Scan into "value".
	DecodeFunc func(value any) error

	KeyValueDB interface {
		ReadWriter

		/*
		Scan calls "fn" for every key starting with "prefix" in the
		binary-alphabetical order of the keys. Scan stops when "fn" returns
		false or error. "fn" must not write into the DB.
		*/
		Scan(prefix []byte, fn func(key []byte, decode DecodeFunc) (bool, error)) error

		/*
		Update runs "fn" in read-write transaction. Changes made via "tx" are
		committed when "fn" returns nil and discarded otherwise. Only one
		read-write transaction runs at a time.
		*/
		Update(fn func(tx ReadWriter) error) error
	}
)

// CheckKey returns ErrInvalidKey for empty key.
func CheckKey(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidKey
	}
	return nil
}

// CheckValue returns ErrValueIsNil when "v" is nil or nil pointer.
func CheckValue(v any) error {
	if v == nil {
		return ErrValueIsNil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return ErrValueIsNil
	}
	return nil
}

func CheckKeyAndValue(key []byte, v any) error {
	return errors.Join(CheckKey(key), CheckValue(v))
}
