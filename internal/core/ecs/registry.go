package ecs

// Removable is a per-entity side table the Registry clears on release.
type Removable interface {
	Remove(id EntityID)
}

// Registry tracks side tables keyed by entity id (drag relation, caches) and
// clears an entity from all of them on release, in registration order.
type Registry struct {
	stores []Removable
}

func NewRegistry() *Registry {
	return &Registry{
		stores: make([]Removable, 0, 4),
	}
}

// Register adds a side table. Tables registered first are cleared first.
func (r *Registry) Register(store Removable) {
	r.stores = append(r.stores, store)
}

// RemoveAll clears the given entity from every registered side table.
func (r *Registry) RemoveAll(id EntityID) {
	for _, s := range r.stores {
		s.Remove(id)
	}
}

func (r *Registry) Len() int { return len(r.stores) }
