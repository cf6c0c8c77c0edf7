package ecs

import (
	"strconv"
	"sync/atomic"
)

// EntityID identifies a live session. IDs are non-negative, handed out in
// increasing order and never reused while the process runs.
type EntityID int64

// NoEntity is the "none" value for optional entity references.
const NoEntity EntityID = -1

func (id EntityID) Valid() bool { return id >= 0 }

func (id EntityID) String() string {
	if !id.Valid() {
		return "none"
	}
	return strconv.FormatInt(int64(id), 10)
}

// IDCounter allocates monotonically increasing ids. The same counter is shared
// by entities and the template catalog, so an id is unique across both.
// Safe for concurrent use: templates may be loaded before the tick loop starts.
type IDCounter struct {
	next atomic.Int64
}

func NewIDCounter() *IDCounter {
	return &IDCounter{}
}

// Next returns the next unused id.
func (c *IDCounter) Next() EntityID {
	return EntityID(c.next.Add(1) - 1)
}

// Peek reports the id that the next call to Next will return.
func (c *IDCounter) Peek() EntityID {
	return EntityID(c.next.Load())
}
