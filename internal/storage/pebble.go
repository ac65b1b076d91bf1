package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// PebbleDB implements DB using Pebble.
type PebbleDB struct {
	db *pebble.DB
}

// NewPebble opens or creates a Pebble database in dir.
func NewPebble(dir string) (*PebbleDB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pebble dir: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		if isLockError(err) {
			return nil, fmt.Errorf("database at %s is locked by another process (is another tokenledgerd instance running?): %w", dir, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", dir, err)
	}
	return &PebbleDB{db: db}, nil
}

// Get retrieves a copy of the value at key. Returns ErrNotFound if missing.
func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	out := cloneBytes(val)
	if err := closer.Close(); err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	return out, nil
}

// Put stores a key-value pair.
func (p *PebbleDB) Put(key, value []byte) error {
	if err := p.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (p *PebbleDB) Delete(key []byte) error {
	if err := p.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (p *PebbleDB) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pebble has: %w", err)
	}
	return true, closer.Close()
}

// ForEach iterates over all keys with the given prefix.
func (p *PebbleDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	for it.First(); it.Valid(); it.Next() {
		if err := fn(cloneBytes(it.Key()), cloneBytes(it.Value())); err != nil {
			it.Close()
			return err
		}
	}
	return it.Close()
}

// NewBatch returns a batch committed as one synced pebble batch.
func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{b: p.db.NewBatch()}
}

// Close closes the database.
func (p *PebbleDB) Close() error {
	return p.db.Close()
}

type pebbleBatch struct {
	b *pebble.Batch
}

func (pb *pebbleBatch) Put(key, value []byte) error {
	return pb.b.Set(key, value, nil)
}

func (pb *pebbleBatch) Delete(key []byte) error {
	return pb.b.Delete(key, nil)
}

func (pb *pebbleBatch) Commit() error {
	defer pb.b.Close()
	if err := pb.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble batch: %w", err)
	}
	return nil
}
