package metadata

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces collector keys inside the badger keyspace.
const keyPrefix = "md:"

// BadgerRepository keeps pairs in an embedded badger database.
type BadgerRepository struct {
	db *badgerdb.DB
}

// OpenBadger opens (creating if needed) a badger database in dir.
func OpenBadger(dir string) (*BadgerRepository, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	return &BadgerRepository{db: db}, nil
}

// OpenBadgerInMemory opens a throwaway in-memory database.
func OpenBadgerInMemory() (*BadgerRepository, error) {
	db, err := badgerdb.Open(badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &BadgerRepository{db: db}, nil
}

func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

func (r *BadgerRepository) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := r.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (r *BadgerRepository) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyPrefix+key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

// Update applies set and del in a single badger transaction.
func (r *BadgerRepository) Update(ctx context.Context, set map[string][]byte, del []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.db.Update(func(txn *badgerdb.Txn) error {
		for _, key := range sortedKeys(set) {
			if err := txn.Set([]byte(keyPrefix+key), set[key]); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
		}
		for _, key := range del {
			if err := txn.Delete([]byte(keyPrefix + key)); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return nil
}
