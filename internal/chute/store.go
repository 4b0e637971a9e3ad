package chute

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when a chute name is not in the registry.
var ErrNotFound = errors.New("chute not found")

var bucketChutes = []byte("chutes")

// Store is the process-wide chute registry. Capability modules are the only
// writers; the sync manager and local API read it for reporting.
type Store interface {
	Save(c *Chute) error
	Get(name string) (*Chute, error)
	Delete(name string) error
	List() ([]*Chute, error)
	Close() error
}

// BoltStore implements Store on a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the registry database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open chute registry: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketChutes)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Save(c *Chute) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketChutes).Put([]byte(c.Name), data)
	})
}

func (s *BoltStore) Get(name string) (*Chute, error) {
	var c Chute
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketChutes).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("chute %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChutes).Delete([]byte(name))
	})
}

func (s *BoltStore) List() ([]*Chute, error) {
	var out []*Chute
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChutes).ForEach(func(_, v []byte) error {
			var c Chute
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }
