// Package cache persists small client-side state across restarts.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const unreadKeyPrefix = "unread:"

// Store is a badger-backed key/value cache.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

type unreadRecord struct {
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open opens the cache in dir. An empty dir keeps everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadUnread returns the last stored unread count of user.
func (s *Store) LoadUnread(user string) (int, bool, error) {
	var record unreadRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(unreadKeyPrefix + user))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load unread count: %w", err)
	}
	return record.Count, true, nil
}

// StoreUnread records the unread count of user.
func (s *Store) StoreUnread(user string, count int) error {
	data, err := json.Marshal(unreadRecord{Count: count, UpdatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal unread count: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(unreadKeyPrefix+user), data)
	})
	if err != nil {
		return fmt.Errorf("store unread count: %w", err)
	}
	return nil
}
