package event

import "github.com/shijimago/shijima/internal/core/ecs"

// Lifecycle events emitted by the world manager.

type EntitySpawned struct {
	ID       ecs.EntityID
	Template string
	ParentID ecs.EntityID // NoEntity unless bred
}

type EntityReaped struct {
	ID       ecs.EntityID
	Template string
	Reason   string // "marked" or "dead"
}

type DisplayAttached struct {
	Display int
}

type DisplayDetached struct {
	Display  int
	Migrated int // entities rebound to another environment
}
