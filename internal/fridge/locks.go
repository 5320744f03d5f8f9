package fridge

import (
	"sort"
	"sync"
)

type lockKey struct {
	user       uint
	ingredient uint
}

// keyLocks serializes writers per (user, ingredient). Entries are never
// removed; the key space is bounded by users times ingredients.
type keyLocks struct {
	mu    sync.Mutex
	locks map[lockKey]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[lockKey]*sync.Mutex)}
}

func (k *keyLocks) get(key lockKey) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// lock acquires every (user, ingredient) key in ascending ingredient order
// and returns the matching unlock.
func (k *keyLocks) lock(user uint, ingredients ...uint) func() {
	ids := append([]uint(nil), ingredients...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	held := make([]*sync.Mutex, 0, len(ids))
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		m := k.get(lockKey{user: user, ingredient: id})
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
