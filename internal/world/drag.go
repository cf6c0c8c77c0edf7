package world

import (
	"errors"
	"fmt"

	"github.com/shijimago/shijima/internal/core/ecs"
)

// ErrDoubleDrag is the panic value raised when an entity that is already
// being dragged is claimed by a second dragger.
var ErrDoubleDrag = errors.New("world: entity already has a dragger")

// DragTracker is the dragger -> target relation and its inverse. An entity
// has at most one target and at most one dragger. It may drag itself.
type DragTracker struct {
	target    map[ecs.EntityID]ecs.EntityID
	draggedBy map[ecs.EntityID]ecs.EntityID
}

func NewDragTracker() *DragTracker {
	return &DragTracker{
		target:    make(map[ecs.EntityID]ecs.EntityID, 4),
		draggedBy: make(map[ecs.EntityID]ecs.EntityID, 4),
	}
}

// Set replaces dragger's target. ecs.NoEntity clears it. Claiming a target
// that another dragger holds panics with ErrDoubleDrag.
func (d *DragTracker) Set(dragger, target ecs.EntityID) {
	if prev, ok := d.target[dragger]; ok {
		delete(d.draggedBy, prev)
		delete(d.target, dragger)
	}
	if !target.Valid() {
		return
	}
	if owner, ok := d.draggedBy[target]; ok {
		panic(fmt.Errorf("%w: %s is dragged by %s, claimed by %s", ErrDoubleDrag, target, owner, dragger))
	}
	d.target[dragger] = target
	d.draggedBy[target] = dragger
}

// Target returns what dragger drags, or NoEntity.
func (d *DragTracker) Target(dragger ecs.EntityID) ecs.EntityID {
	if t, ok := d.target[dragger]; ok {
		return t
	}
	return ecs.NoEntity
}

// DraggedBy returns who drags target, or NoEntity.
func (d *DragTracker) DraggedBy(target ecs.EntityID) ecs.EntityID {
	if o, ok := d.draggedBy[target]; ok {
		return o
	}
	return ecs.NoEntity
}

// Remove drops id from both sides of the relation.
func (d *DragTracker) Remove(id ecs.EntityID) {
	if t, ok := d.target[id]; ok {
		delete(d.draggedBy, t)
		delete(d.target, id)
	}
	if o, ok := d.draggedBy[id]; ok {
		delete(d.target, o)
		delete(d.draggedBy, id)
	}
}

func (d *DragTracker) Len() int { return len(d.target) }
