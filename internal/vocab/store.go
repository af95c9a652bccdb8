package vocab

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrBucketNotFound is returned when a column bucket lacks its keys/ids
	// sub-buckets.
	ErrBucketNotFound = errors.New("vocab: bucket not found")

	// ErrCorrupt is returned when stored codes are not dense from 0.
	ErrCorrupt = errors.New("vocab: stored codes are not dense")

	bucketKeys = []byte("keys")
	bucketIDs  = []byte("ids")

	// emptyKey stands in for "" in the keys bucket; bbolt rejects empty keys.
	emptyKey = []byte{0x00, 'E', 'M', 'P', 'T', 'Y', 0x00}
)

// Store persists a Set in a bbolt file. Each column is a top-level bucket
// with two sub-buckets: "keys" (value -> code) and "ids" (code -> value).
// Codes are stored big-endian so cursor order is code order.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens (or creates) the store at path, creating the parent directory
// when needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("vocab: mkdir %s: %w", filepath.Dir(path), err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("vocab: open %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save replaces the stored vocabularies for every column in set. Columns in
// the file that are not in set are left untouched.
func (s *Store) Save(set *Set) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, col := range set.Columns() {
			name := []byte(col)
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return fmt.Errorf("vocab: reset %q: %w", col, err)
				}
			}
			bkt, err := tx.CreateBucket(name)
			if err != nil {
				return fmt.Errorf("vocab: create %q: %w", col, err)
			}
			keys, err := bkt.CreateBucket(bucketKeys)
			if err != nil {
				return err
			}
			ids, err := bkt.CreateBucket(bucketIDs)
			if err != nil {
				return err
			}
			for code, value := range set.Column(col).values {
				id := u64tob(uint64(code))
				if err := keys.Put(boltKey(value), id); err != nil {
					return err
				}
				if err := ids.Put(id, []byte(value)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Load reads every stored column into a new Set.
func (s *Store) Load() (*Set, error) {
	set := NewSet()
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bkt *bolt.Bucket) error {
			ids := bkt.Bucket(bucketIDs)
			if ids == nil || bkt.Bucket(bucketKeys) == nil {
				return fmt.Errorf("%w: column %q", ErrBucketNotFound, name)
			}
			v := set.Column(string(name))
			return ids.ForEach(func(k, val []byte) error {
				if btou64(k) != uint64(v.Len()) {
					return fmt.Errorf("%w: column %q at code %d", ErrCorrupt, name, btou64(k))
				}
				v.Code(string(val))
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

func boltKey(value string) []byte {
	if value == "" {
		return emptyKey
	}
	return []byte(value)
}

func u64tob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btou64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
