package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/relay/pkg/relayerr"
)

var bucketRecords = []byte("records")

// BoltStore implements Store using BoltDB. Every relay owns two: one for
// requests it originated and one for requests peers sent it.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the database at dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "relay.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Put(key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(key), value)
	})
	return relayerr.Wrap(relayerr.Storage, fmt.Sprintf("failed to write key %s", key), err)
}

func (s *BoltStore) Get(key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRecords).Get([]byte(key))
		if v == nil {
			return relayerr.Newf(relayerr.NotFound, "key not found: %s", key)
		}
		// Copy out: BoltDB values are only valid inside the transaction.
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BoltStore) Unset(key string) ([]byte, error) {
	var data []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		v := b.Get([]byte(key))
		if v == nil {
			return relayerr.Newf(relayerr.NotFound, "key not found: %s", key)
		}
		data = make([]byte, len(v))
		copy(data, v)
		return b.Delete([]byte(key))
	})
	if err != nil {
		if relayerr.IsKind(err, relayerr.NotFound) {
			return nil, err
		}
		return nil, relayerr.Wrap(relayerr.Storage, fmt.Sprintf("failed to delete key %s", key), err)
	}
	return data, nil
}

func (s *BoltStore) Has(key string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketRecords).Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		return false, relayerr.Wrap(relayerr.Storage, fmt.Sprintf("failed to read key %s", key), err)
	}
	return found, nil
}

func (s *BoltStore) ScanPrefix(prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			value := make([]byte, len(v))
			copy(value, v)
			if err := fn(string(k), value); err != nil {
				return err
			}
		}
		return nil
	})
}
