package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// snapshotKeyPrefix namespaces context entries so the database can be
// shared with other keyspaces later.
const snapshotKeyPrefix = "ctx:"

// BadgerStore is a Store backed by an embedded Badger database. Entry TTL
// is enforced by Badger itself, so expiry survives process restarts.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerStore opens (or creates) the database at path.
func NewBadgerStore(path string, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening context database: %w", err)
	}

	return &BadgerStore{db: db, ttl: ttl}, nil
}

func snapshotKey(sessionID string) []byte {
	return []byte(snapshotKeyPrefix + sessionID)
}

// Get implements Store. Badger treats expired entries as missing, which
// maps directly onto the (nil, nil) fresh-session contract.
func (s *BadgerStore) Get(_ context.Context, sessionID string) (*Snapshot, error) {
	var snap *Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snap = new(Snapshot)
			return json.Unmarshal(val, snap)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return snap, nil
}

// Put implements Store.
func (s *BadgerStore) Put(_ context.Context, sessionID string, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(snapshotKey(sessionID), data).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Update implements Store. The read-modify-write runs inside a single
// Badger transaction; a conflicting concurrent commit aborts and returns
// an error rather than losing a write.
func (s *BadgerStore) Update(_ context.Context, sessionID string, mutate func(*Snapshot)) error {
	now := time.Now()
	err := s.db.Update(func(txn *badger.Txn) error {
		snap := NewSnapshot(now)

		item, err := txn.Get(snapshotKey(sessionID))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, snap)
			}); err != nil {
				return fmt.Errorf("unmarshaling snapshot: %w", err)
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		mutate(snap)
		snap.UpdatedAt = now

		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshaling snapshot: %w", err)
		}
		entry := badger.NewEntry(snapshotKey(sessionID), data).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("updating snapshot: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(_ context.Context, sessionID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(sessionID))
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing context database: %w", err)
	}
	return nil
}
