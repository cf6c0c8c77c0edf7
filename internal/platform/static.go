package platform

import (
	"sort"
	"sync"
	"time"
)

// Static is a headless backend: a fixed set of displays that can be changed
// programmatically, a settable cursor and a settable foreground window.
// Safe for concurrent use.
type Static struct {
	mu       sync.Mutex
	displays map[DisplayID]Display
	primary  DisplayID
	cursor   Point
	window   ActiveWindow
	freq     time.Duration
	events   chan DisplayEvent
}

// NewStatic creates a backend with the given displays. The first display is
// the primary one.
func NewStatic(displays []Display, observerFreq time.Duration) *Static {
	s := &Static{
		displays: make(map[DisplayID]Display, len(displays)),
		freq:     observerFreq,
		events:   make(chan DisplayEvent, 16),
	}
	for i, d := range displays {
		if i == 0 {
			s.primary = d.ID
		}
		s.displays[d.ID] = d
	}
	return s
}

func (s *Static) Displays() []Display {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Display, 0, len(s.displays))
	for _, d := range s.displays {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Static) Primary() DisplayID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

func (s *Static) DisplayAt(p Point) (DisplayID, bool) {
	for _, d := range s.Displays() {
		if d.Geometry.Contains(p) {
			return d.ID, true
		}
	}
	return 0, false
}

// Attach connects a display and notifies listeners. Like Detach it blocks
// while the hotplug queue is full.
func (s *Static) Attach(d Display) {
	s.mu.Lock()
	s.displays[d.ID] = d
	if len(s.displays) == 1 {
		s.primary = d.ID
	}
	s.mu.Unlock()
	s.notify(DisplayEvent{Kind: DisplayAdded, Display: d})
}

// Detach disconnects a display. Removing the primary promotes the lowest
// remaining id.
func (s *Static) Detach(id DisplayID) {
	s.mu.Lock()
	d, ok := s.displays[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.displays, id)
	if s.primary == id {
		s.primary = 0
		first := true
		for other := range s.displays {
			if first || other < s.primary {
				s.primary = other
				first = false
			}
		}
	}
	s.mu.Unlock()
	s.notify(DisplayEvent{Kind: DisplayRemoved, Display: d})
}

// notify blocks while the event queue is full. Every hotplug change must
// reach the listener or an Environment outlives its display.
func (s *Static) notify(ev DisplayEvent) {
	s.events <- ev
}

func (s *Static) DisplayEvents() <-chan DisplayEvent { return s.events }

func (s *Static) CursorPos() Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Static) SetCursor(p Point) {
	s.mu.Lock()
	s.cursor = p
	s.mu.Unlock()
}

func (s *Static) Tick() {}

func (s *Static) ActiveWindow() ActiveWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

func (s *Static) SetActiveWindow(w ActiveWindow) {
	s.mu.Lock()
	s.window = w
	s.mu.Unlock()
}

func (s *Static) TickFrequency() time.Duration { return s.freq }
