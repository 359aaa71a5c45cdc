// Package container implements the hash-map primitive shared by the
// registries: insertion-ordered iteration, O(1) re-keying (for the rare
// case an id changes identity without changing record), and grouped
// deletion by an owning "arena" id, so a class-unload can drop every
// method it owns in one pass without a full-table scan.
package container

// Map is a hash map keyed by K, with values V, that additionally tracks
// insertion order and an arena tag per entry.
//
// Map is not safe for concurrent use; callers hold an external lock, as
// described in spec.md's concurrency model (the "registry" and "threads"
// locks guard a Map each).
type Map[K comparable, A comparable, V any] struct {
	index map[K]int
	slots []slot[K, A, V]
	// arenas maps an arena id to the set of keys currently tagged with it.
	arenas map[A]map[K]struct{}
}

type slot[K comparable, A comparable, V any] struct {
	key   K
	arena A
	val   V
	live  bool
}

// New constructs an empty Map.
func New[K comparable, A comparable, V any]() *Map[K, A, V] {
	return &Map[K, A, V]{
		index:  make(map[K]int),
		arenas: make(map[A]map[K]struct{}),
	}
}

// Find returns the value for key, and whether it was present.
func (m *Map[K, A, V]) Find(key K) (V, bool) {
	if i, ok := m.index[key]; ok {
		return m.slots[i].val, true
	}
	var zero V
	return zero, false
}

// Insert adds or replaces the value for key, tagging it with arena for
// later grouped deletion via DeleteArena.
func (m *Map[K, A, V]) Insert(key K, arena A, val V) {
	if i, ok := m.index[key]; ok {
		old := m.slots[i].arena
		if old != arena {
			m.untagArena(old, key)
			m.tagArena(arena, key)
		}
		m.slots[i].val = val
		m.slots[i].arena = arena
		return
	}

	m.index[key] = len(m.slots)
	m.slots = append(m.slots, slot[K, A, V]{key: key, arena: arena, val: val, live: true})
	m.tagArena(arena, key)
}

// Remove deletes key, if present.
func (m *Map[K, A, V]) Remove(key K) {
	i, ok := m.index[key]
	if !ok {
		return
	}
	m.untagArena(m.slots[i].arena, key)
	delete(m.index, key)
	m.slots[i].live = false
	var zero V
	m.slots[i].val = zero
}

// Move re-keys an entry from oldKey to newKey, preserving its value and
// arena tag, without disturbing iteration order. Used when a record's
// identity is reassigned (e.g. a realloc) but the record itself survives.
// Moving a key that doesn't exist is a no-op; moving onto an existing
// newKey overwrites it.
func (m *Map[K, A, V]) Move(oldKey, newKey K) {
	i, ok := m.index[oldKey]
	if !ok || oldKey == newKey {
		return
	}
	if j, exists := m.index[newKey]; exists {
		m.untagArena(m.slots[j].arena, newKey)
		m.slots[j].live = false
	}
	delete(m.index, oldKey)
	m.slots[i].key = newKey
	m.index[newKey] = i
	if arenaSet, ok := m.arenas[m.slots[i].arena]; ok {
		delete(arenaSet, oldKey)
		arenaSet[newKey] = struct{}{}
	}
}

// DeleteArena removes every entry tagged with arena in one pass, returning
// the number removed.
func (m *Map[K, A, V]) DeleteArena(arena A) int {
	keys, ok := m.arenas[arena]
	if !ok {
		return 0
	}
	n := 0
	for key := range keys {
		if i, ok := m.index[key]; ok {
			m.slots[i].live = false
			var zero V
			m.slots[i].val = zero
			delete(m.index, key)
			n++
		}
	}
	delete(m.arenas, arena)
	return n
}

// Len returns the number of live entries.
func (m *Map[K, A, V]) Len() int {
	return len(m.index)
}

// Range calls f for every live entry, in insertion order, stopping early
// if f returns false. Range is safe to call while the caller holds the
// same external lock used for Insert/Remove (no internal locking is done
// here, by design).
func (m *Map[K, A, V]) Range(f func(key K, val V) bool) {
	for _, s := range m.slots {
		if !s.live {
			continue
		}
		if !f(s.key, s.val) {
			return
		}
	}
}

func (m *Map[K, A, V]) tagArena(arena A, key K) {
	set, ok := m.arenas[arena]
	if !ok {
		set = make(map[K]struct{})
		m.arenas[arena] = set
	}
	set[key] = struct{}{}
}

func (m *Map[K, A, V]) untagArena(arena A, key K) {
	if set, ok := m.arenas[arena]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(m.arenas, arena)
		}
	}
}
