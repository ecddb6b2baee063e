package store

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/guycipher/k4/v2"
)

// Default K4 tuning, matching the defaults the engine's own Open doc
// comment recommends for a moderate-write workload: flush the memtable
// every 1 MiB and run a compaction pass every five minutes.
const (
	defaultMemtableFlushThreshold = 1 << 20
	defaultCompactionIntervalSecs = 300
)

// K4Store adapts github.com/guycipher/k4/v2's embedded LSM engine to the
// Store interface.
type K4Store struct {
	db *k4.K4
}

// OpenK4Store opens (or creates) a K4-backed Store rooted at directory.
func OpenK4Store(directory string) (*K4Store, error) {
	db, err := k4.Open(directory, defaultMemtableFlushThreshold, defaultCompactionIntervalSecs, false, true)
	if err != nil {
		return nil, fmt.Errorf("store: opening k4 at %s: %w", directory, err)
	}
	return &K4Store{db: db}, nil
}

func (s *K4Store) Put(key, value []byte) error {
	if err := s.db.Put(key, value, nil); err != nil {
		return fmt.Errorf("store: put: %w", err)
	}
	return nil
}

func sortKV(arr k4.KeyValueArray) {
	sort.Slice(arr, func(i, j int) bool {
		return bytes.Compare(arr[i].Key, arr[j].Key) < 0
	})
}

func (s *K4Store) SeekGE(key []byte) ([]byte, []byte, error) {
	matches, err := s.db.GreaterThanEq(key)
	if err != nil {
		return nil, nil, fmt.Errorf("store: seek ge: %w", err)
	}
	if len(*matches) == 0 {
		return nil, nil, ErrNotFound
	}
	sortKV(*matches)
	kv := (*matches)[0]
	return kv.Key, kv.Value, nil
}

func (s *K4Store) SeekLE(key []byte) ([]byte, []byte, error) {
	matches, err := s.db.LessThanEq(key)
	if err != nil {
		return nil, nil, fmt.Errorf("store: seek le: %w", err)
	}
	if len(*matches) == 0 {
		return nil, nil, ErrNotFound
	}
	sortKV(*matches)
	kv := (*matches)[len(*matches)-1]
	return kv.Key, kv.Value, nil
}

func (s *K4Store) Scan(start, end []byte) (Iterator, error) {
	matches, err := s.db.Range(start, end)
	if err != nil {
		return nil, fmt.Errorf("store: scan: %w", err)
	}
	sortKV(*matches)
	it := &sliceIterator{pos: -1}
	for _, kv := range *matches {
		it.keys = append(it.keys, kv.Key)
		it.values = append(it.values, kv.Value)
	}
	return it, nil
}

func (s *K4Store) WriteBatch(fn func(b Batch) error) error {
	txn := s.db.BeginTransaction()
	b := &k4Batch{txn: txn}
	if err := fn(b); err != nil {
		return err
	}
	if err := txn.Commit(s.db); err != nil {
		return fmt.Errorf("store: write batch commit: %w", err)
	}
	txn.Remove(s.db)
	return nil
}

func (s *K4Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

type k4Batch struct {
	txn *k4.Transaction
}

func (b *k4Batch) Put(key, value []byte) {
	b.txn.AddOperation(k4.PUT, key, value)
}

func (b *k4Batch) Delete(key []byte) {
	b.txn.AddOperation(k4.DELETE, key, nil)
}

type sliceIterator struct {
	keys, values [][]byte
	pos          int
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *sliceIterator) Key() []byte   { return it.keys[it.pos] }
func (it *sliceIterator) Value() []byte { return it.values[it.pos] }
func (it *sliceIterator) Close() error  { return nil }
