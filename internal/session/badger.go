package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const sessionKeyPrefix = "session:"

// BadgerPersister stores sessions in BadgerDB. Entries carry a TTL matching
// the session expiry hint so stale cookies are dropped by badger itself.
type BadgerPersister struct {
	db *badger.DB
}

func NewBadgerPersister(db *badger.DB) *BadgerPersister {
	return &BadgerPersister{db: db}
}

// OpenBadger opens (or creates) a badger database in dir. An empty dir opens
// an in-memory database.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

func (p *BadgerPersister) Save(_ context.Context, state SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return p.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(sessionKeyPrefix+state.Key), data)
		if !state.ExpiresAt.IsZero() {
			ttl := time.Until(state.ExpiresAt)
			if ttl <= 0 {
				return txn.Delete(e.Key)
			}
			e = e.WithTTL(ttl)
		}
		if err := txn.SetEntry(e); err != nil {
			return fmt.Errorf("set session: %w", err)
		}
		return nil
	})
}

func (p *BadgerPersister) LoadAll(_ context.Context) ([]SessionState, error) {
	var states []SessionState
	err := p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var st SessionState
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			})
			if err != nil {
				return fmt.Errorf("read session: %w", err)
			}
			states = append(states, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

func (p *BadgerPersister) Delete(_ context.Context, key string) error {
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionKeyPrefix + key))
	})
}
