// Package platform describes the desktop collaborators the world manager
// reads from: connected displays, the cursor and the foreground window.
// Real desktop backends live outside this module; Static is the headless one.
package platform

import "time"

// DisplayID identifies a connected display. SandboxDisplay is reserved for
// the application-owned surface used in windowed mode.
type DisplayID int

const SandboxDisplay DisplayID = 0

// Rect is an integer rectangle in desktop coordinates. Right and Bottom are
// inclusive edges, the way desktop toolkits report screen geometry.
type Rect struct {
	X, Y, W, H int
}

func (r Rect) Left() int   { return r.X }
func (r Rect) Top() int    { return r.Y }
func (r Rect) Right() int  { return r.X + r.W - 1 }
func (r Rect) Bottom() int { return r.Y + r.H - 1 }

func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Y >= r.Y && p.Y < r.Y+r.H
}

type Point struct {
	X, Y int
}

// Display is one connected screen. Available is the area left once
// taskbars and status bars are excluded.
type Display struct {
	ID        DisplayID
	Geometry  Rect
	Available Rect
}

// DisplayProvider reports the currently connected displays.
type DisplayProvider interface {
	Displays() []Display
	Primary() DisplayID
	DisplayAt(p Point) (DisplayID, bool)
}

// CursorSource reports the global cursor position.
type CursorSource interface {
	CursorPos() Point
}

// ActiveWindow is the most recent foreground-window observation. UID is an
// opaque identity token stable for the lifetime of one window. Observed is
// when the observer last confirmed it; zero means no timestamp.
type ActiveWindow struct {
	Available bool
	UID       string
	PID       int
	X, Y      float64
	Width     float64
	Height    float64
	Observed  time.Time
}

// WindowObserver tracks the foreground window. Tick refreshes the
// observation; a TickFrequency of 0 means the observer never needs ticking.
type WindowObserver interface {
	Tick()
	ActiveWindow() ActiveWindow
	TickFrequency() time.Duration
}

// DisplayEventKind tells attach from detach.
type DisplayEventKind int

const (
	DisplayAdded DisplayEventKind = iota
	DisplayRemoved
)

type DisplayEvent struct {
	Kind    DisplayEventKind
	Display Display
}

// DisplayNotifier delivers hotplug notifications.
type DisplayNotifier interface {
	DisplayEvents() <-chan DisplayEvent
}
