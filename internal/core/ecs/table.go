package ecs

import "fmt"

// Table is the authoritative ordered collection of live values plus an
// id-indexed lookup. Order is insertion order. A Table is owned by a single
// goroutine; it does no locking.
type Table[T any] struct {
	order    []EntityID
	byID     map[EntityID]*T
	registry *Registry
}

func NewTable[T any]() *Table[T] {
	return &Table[T]{
		order:    make([]EntityID, 0, 64),
		byID:     make(map[EntityID]*T, 64),
		registry: NewRegistry(),
	}
}

// Registry returns the side tables cleared whenever an entry is removed.
func (t *Table[T]) Registry() *Registry { return t.registry }

// Insert appends v under id. Inserting an id twice is a programming error.
func (t *Table[T]) Insert(id EntityID, v *T) {
	if !id.Valid() {
		panic(fmt.Sprintf("ecs: insert of invalid id %d", id))
	}
	if _, dup := t.byID[id]; dup {
		panic(fmt.Sprintf("ecs: duplicate id %d", id))
	}
	t.order = append(t.order, id)
	t.byID[id] = v
}

func (t *Table[T]) Get(id EntityID) (*T, bool) {
	v, ok := t.byID[id]
	return v, ok
}

func (t *Table[T]) Has(id EntityID) bool {
	_, ok := t.byID[id]
	return ok
}

func (t *Table[T]) Len() int { return len(t.order) }

// IDs returns a copy of the ids in insertion order.
func (t *Table[T]) IDs() []EntityID {
	out := make([]EntityID, len(t.order))
	copy(out, t.order)
	return out
}

// Each visits entries in insertion order. fn must not insert or remove.
func (t *Table[T]) Each(fn func(EntityID, *T)) {
	for _, id := range t.order {
		fn(id, t.byID[id])
	}
}

// Collect returns the ids matching pred, scanning back to front.
func (t *Table[T]) Collect(pred func(EntityID, *T) bool) []EntityID {
	var out []EntityID
	for i := len(t.order) - 1; i >= 0; i-- {
		id := t.order[i]
		if pred(id, t.byID[id]) {
			out = append(out, id)
		}
	}
	return out
}

// RemoveAll removes every listed id and returns the removed values in the
// order given. Side tables are cleared for an id before its value leaves the
// lookup. Unknown and repeated ids are skipped.
func (t *Table[T]) RemoveAll(ids []EntityID) []*T {
	if len(ids) == 0 {
		return nil
	}
	removed := make([]*T, 0, len(ids))
	gone := make(map[EntityID]struct{}, len(ids))
	for _, id := range ids {
		v, ok := t.byID[id]
		if !ok {
			continue
		}
		t.registry.RemoveAll(id)
		delete(t.byID, id)
		gone[id] = struct{}{}
		removed = append(removed, v)
	}
	if len(gone) == 0 {
		return nil
	}
	kept := t.order[:0]
	for _, id := range t.order {
		if _, ok := gone[id]; !ok {
			kept = append(kept, id)
		}
	}
	for i := len(kept); i < len(t.order); i++ {
		t.order[i] = 0
	}
	t.order = kept
	return removed
}
