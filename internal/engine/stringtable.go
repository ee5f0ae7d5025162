package engine

import (
	"fmt"
	"sync"
)

// StringTable maps interned ids to strings for one capture.
// It is owned by the caller and passed to the normalizer explicitly.
type StringTable struct {
	mu      sync.RWMutex
	entries map[int]string
}

func NewStringTable() *StringTable {
	return &StringTable{entries: make(map[int]string)}
}

// Intern records id -> s. A later record for the same id wins.
func (st *StringTable) Intern(id int, s string) {
	st.mu.Lock()
	st.entries[id] = s
	st.mu.Unlock()
}

// Lookup resolves id or returns ErrDanglingStringReference.
func (st *StringTable) Lookup(id int) (string, error) {
	st.mu.RLock()
	s, ok := st.entries[id]
	st.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: id %d", ErrDanglingStringReference, id)
	}
	return s, nil
}

func (st *StringTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.entries)
}
