// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package kvstore defines the minimal key-value storage interface
// used by blobstore, and a durable
// implementation backed by go.etcd.io/bbolt (grounded on the
// teacher's crypto/database package, which described the same
// Reader/Writer/Batch shape against an unspecified backend).
package kvstore

import (
	"fmt"

	"go.etcd.io/bbolt"
)

// Reader reads values from a bucket.
type Reader interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}

// Writer writes values to a bucket.
type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Iterator walks a bucket's entries in key order starting at or after
// seek (nil seeks from the start).
type Iterator interface {
	ForEach(seek []byte, fn func(key, value []byte) error) error
}

// Bucket is a durable, ordered key-value namespace.
type Bucket interface {
	Reader
	Writer
	Iterator
}

// Store is a durable multi-bucket key-value database, opened once per
// node and shared (each subsystem keeps its own named bucket) rather
// than one file per subsystem.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates a bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Bucket returns a handle to the named bucket, creating it if it does
// not yet exist.
func (s *Store) Bucket(name string) (*bucket, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: create bucket %s: %w", name, err)
	}
	return &bucket{db: s.db, name: []byte(name)}, nil
}

type bucket struct {
	db   *bbolt.DB
	name []byte
}

func (b *bucket) Has(key []byte) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(b.name).Get(key) != nil
		return nil
	})
	return found, err
}

func (b *bucket) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(b.name).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (b *bucket) Put(key, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(b.name).Put(key, value)
	})
}

func (b *bucket) Delete(key []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(b.name).Delete(key)
	})
}

func (b *bucket) ForEach(seek []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(b.name).Cursor()
		var k, v []byte
		if seek == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(seek)
		}
		for ; k != nil; k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ Bucket = (*bucket)(nil)
