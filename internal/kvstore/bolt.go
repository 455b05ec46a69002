package kvstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var dataBucket = []byte("data")

// BoltStore is a Store backed by a single-bucket bbolt database file. Each
// topic's message store and index store each get their own BoltStore
// (and therefore their own file on disk), which keeps the two KV
// instances per topic genuinely independent the way §4.1 describes.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if necessary) a bbolt database at dir/bettermq.db.
func OpenBolt(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kvstore: create dir %s: %w", dir, err)
	}
	db, err := bolt.Open(filepath.Join(dir, "bettermq.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", dir, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dataBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *BoltStore) Set(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Put(key, value)
	})
}

func (s *BoltStore) Remove(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Delete(key)
	})
}

func (s *BoltStore) Scan(start, end []byte, limit int, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(dataBucket).Cursor()
		n := 0
		for k, v := c.Seek(start); k != nil && bytes.Compare(k, end) < 0; k, v = c.Next() {
			if limit > 0 && n >= limit {
				break
			}
			if err := fn(k, v); err != nil {
				return err
			}
			n++
		}
		return nil
	})
}

func (s *BoltStore) MaxKey() ([]byte, error) {
	var key []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(dataBucket).Cursor().Last()
		if k == nil {
			return ErrNotFound
		}
		key = append([]byte(nil), k...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
