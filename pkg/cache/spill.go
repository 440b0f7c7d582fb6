package cache

import (
	bolt "go.etcd.io/bbolt"
)

var bucketSpill = []byte("object_cache_spill")

// BoltSpill is a Spill backed by a single-bucket BoltDB file: keys
// are cache keys, values are the raw cached bytes: spilled entries
// carry no structure of their own, so one bucket is enough.
type BoltSpill struct {
	db *bolt.DB
}

// NewBoltSpill opens (creating if absent) a BoltDB file at path for
// use as a Cache's disk-spill backend.
func NewBoltSpill(path string) (*BoltSpill, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSpill)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltSpill{db: db}, nil
}

// Close releases the underlying BoltDB file handle.
func (s *BoltSpill) Close() error {
	return s.db.Close()
}

// Put writes value under key, overwriting any prior value.
func (s *BoltSpill) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSpill).Put([]byte(key), value)
	})
}

// Get returns the value stored under key, if any.
func (s *BoltSpill) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSpill).Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// Delete removes key from the spill, if present.
func (s *BoltSpill) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSpill).Delete([]byte(key))
	})
}
