package data

import (
	"fmt"
	"sort"

	"github.com/shijimago/shijima/internal/core/ecs"
)

// Catalog holds registered templates indexed by name and by id.
// Owned by the tick goroutine once the loop runs; no locking.
type Catalog struct {
	ids    *ecs.IDCounter
	byName map[string]*Template
	byID   map[int64]*Template
}

func NewCatalog(ids *ecs.IDCounter) *Catalog {
	return &Catalog{
		ids:    ids,
		byName: make(map[string]*Template, 16),
		byID:   make(map[int64]*Template, 16),
	}
}

// Register assigns t a fresh id and indexes it. The name must be free.
func (c *Catalog) Register(t *Template) error {
	if t != nil {
		t.Name = NormalizeName(t.Name)
	}
	if t == nil || t.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTemplate)
	}
	if _, ok := c.byName[t.Name]; ok {
		return fmt.Errorf("%w: %q already registered", ErrInvalidTemplate, t.Name)
	}
	t.ID = int64(c.ids.Next())
	c.byName[t.Name] = t
	c.byID[t.ID] = t
	return nil
}

// Deregister removes the template of that name.
func (c *Catalog) Deregister(name string) (*Template, bool) {
	t, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	delete(c.byName, name)
	delete(c.byID, t.ID)
	return t, true
}

func (c *Catalog) Lookup(name string) (*Template, bool) {
	t, ok := c.byName[name]
	return t, ok
}

func (c *Catalog) ByID(id int64) (*Template, bool) {
	t, ok := c.byID[id]
	return t, ok
}

func (c *Catalog) Len() int { return len(c.byName) }

// All returns the templates sorted by name.
func (c *Catalog) All() []*Template {
	out := make([]*Template, 0, len(c.byName))
	for _, t := range c.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered names, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.byName))
	for name := range c.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
