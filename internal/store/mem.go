package store

import (
	"bytes"
	"sort"
	"sync"
)

// Mem is an in-memory Store backed by a sorted slice, used in unit tests
// in place of the k4-backed engine. It mirrors the original source's use
// of a pluggable repository backend so that timeline logic can be tested
// without standing up a real LSM engine.
type Mem struct {
	mu     sync.Mutex
	keys   [][]byte
	values [][]byte
	closed bool
}

// NewMem creates an empty in-memory Store.
func NewMem() *Mem {
	return &Mem{}
}

func (m *Mem) search(key []byte) (int, bool) {
	i := sort.Search(len(m.keys), func(i int) bool {
		return bytes.Compare(m.keys[i], key) >= 0
	})
	if i < len(m.keys) && bytes.Equal(m.keys[i], key) {
		return i, true
	}
	return i, false
}

func (m *Mem) put(key, value []byte) {
	i, exists := m.search(key)
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	if exists {
		m.values[i] = v
		return
	}
	m.keys = append(m.keys, nil)
	copy(m.keys[i+1:], m.keys[i:])
	m.keys[i] = k
	m.values = append(m.values, nil)
	copy(m.values[i+1:], m.values[i:])
	m.values[i] = v
}

func (m *Mem) delete(key []byte) {
	i, exists := m.search(key)
	if !exists {
		return
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.values = append(m.values[:i], m.values[i+1:]...)
}

func (m *Mem) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.put(key, value)
	return nil
}

func (m *Mem) SeekGE(key []byte) ([]byte, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	i, _ := m.search(key)
	if i >= len(m.keys) {
		return nil, nil, ErrNotFound
	}
	return append([]byte(nil), m.keys[i]...), append([]byte(nil), m.values[i]...), nil
}

func (m *Mem) SeekLE(key []byte) ([]byte, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	i, exists := m.search(key)
	if exists {
		return append([]byte(nil), m.keys[i]...), append([]byte(nil), m.values[i]...), nil
	}
	if i == 0 {
		return nil, nil, ErrNotFound
	}
	i--
	return append([]byte(nil), m.keys[i]...), append([]byte(nil), m.values[i]...), nil
}

func (m *Mem) Scan(start, end []byte) (Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	lo, _ := m.search(start)
	hi := sort.Search(len(m.keys), func(i int) bool {
		return bytes.Compare(m.keys[i], end) > 0
	})
	it := &memIterator{}
	for i := lo; i < hi; i++ {
		it.keys = append(it.keys, append([]byte(nil), m.keys[i]...))
		it.values = append(it.values, append([]byte(nil), m.values[i]...))
	}
	it.pos = -1
	return it, nil
}

func (m *Mem) WriteBatch(fn func(b Batch) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	b := &memBatch{}
	if err := fn(b); err != nil {
		return err
	}
	for _, op := range b.ops {
		if op.del {
			m.delete(op.key)
		} else {
			m.put(op.key, op.value)
		}
	}
	return nil
}

func (m *Mem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memOp struct {
	key, value []byte
	del        bool
}

type memBatch struct {
	ops []memOp
}

func (b *memBatch) Put(key, value []byte) {
	b.ops = append(b.ops, memOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *memBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{key: append([]byte(nil), key...), del: true})
}

type memIterator struct {
	keys, values [][]byte
	pos          int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memIterator) Key() []byte   { return it.keys[it.pos] }
func (it *memIterator) Value() []byte { return it.values[it.pos] }
func (it *memIterator) Close() error  { return nil }
