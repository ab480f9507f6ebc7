package bench

import (
	"math/rand"
	"sync"
)

const (
	keyCharMin = 'A'
	keyCharMax = 'z'
)

// RandomKey fills key with characters in ['A', 'z']
func RandomKey(r *rand.Rand, key *Key) {
	for i := range key {
		key[i] = byte(keyCharMin + r.Intn(keyCharMax-keyCharMin+1))
	}
}

// Table is the in-memory key/value store a Server answers from
type Table struct {
	mu   sync.RWMutex
	vals map[Key]Val
}

func NewTable() *Table {
	return &Table{vals: map[Key]Val{}}
}

func (t *Table) Get(key *Key) (Val, bool) {
	t.mu.RLock()
	v, ok := t.vals[*key]
	t.mu.RUnlock()
	return v, ok
}

func (t *Table) Put(key *Key, val Val) {
	t.mu.Lock()
	t.vals[*key] = val
	t.mu.Unlock()
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.vals)
}

// Populate inserts n random pairs
func (t *Table) Populate(r *rand.Rand, n int) {
	var key Key
	var val Val
	for i := 0; i < n; i++ {
		RandomKey(r, &key)
		r.Read(val[:])
		t.Put(&key, val)
	}
}
