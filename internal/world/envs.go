package world

import (
	"sort"
	"time"

	"github.com/shijimago/shijima/internal/mascot"
	"github.com/shijimago/shijima/internal/platform"
)

// Frame is everything the environment pass reads from the platform in one
// tick.
type Frame struct {
	Displays []platform.Display
	Cursor   platform.Point
	Window   platform.ActiveWindow
	Now      time.Time
}

// EnvOptions configure an Environments registry.
type EnvOptions struct {
	UserScale      float64
	SubtickCount   int
	AllowsBreeding bool
	OwnPID         int
	// WindowMaxAge is how old a timestamped window observation may get
	// before it stops applying. 0 disables the check.
	WindowMaxAge time.Duration
	// Sandbox is the application-owned surface used in windowed mode, in
	// desktop coordinates.
	Sandbox platform.Rect
}

// Environments holds one Environment per attached display plus the sandbox
// Environment. Tick goroutine only.
type Environments struct {
	opts       EnvOptions
	byDisplay  map[platform.DisplayID]*mascot.Environment
	reverse    map[*mascot.Environment]platform.DisplayID
	geometry   map[platform.DisplayID]platform.Display
	sandbox    *mascot.Environment
	primary    platform.DisplayID
	current    platform.DisplayID
	windowed   bool
	prevWindow platform.ActiveWindow
}

func NewEnvironments(opts EnvOptions) *Environments {
	if opts.SubtickCount <= 0 {
		opts.SubtickCount = DefaultSubtickCount
	}
	if opts.UserScale <= 0 {
		opts.UserScale = 1
	}
	sandbox := mascot.NewEnvironment()
	sandbox.AllowsBreeding = opts.AllowsBreeding
	sandbox.SubtickCount = opts.SubtickCount
	return &Environments{
		opts:      opts,
		byDisplay: make(map[platform.DisplayID]*mascot.Environment, 4),
		reverse:   make(map[*mascot.Environment]platform.DisplayID, 4),
		geometry:  make(map[platform.DisplayID]platform.Display, 4),
		sandbox:   sandbox,
	}
}

// Attach creates the Environment for d, or refreshes its geometry when it
// already exists. The first attached display becomes primary. A display that
// is not primary inherits the primary's breeding flag.
func (r *Environments) Attach(d platform.Display) *mascot.Environment {
	r.geometry[d.ID] = d
	if env, ok := r.byDisplay[d.ID]; ok {
		return env
	}
	env := mascot.NewEnvironment()
	env.SubtickCount = r.opts.SubtickCount
	env.AllowsBreeding = r.opts.AllowsBreeding
	if len(r.byDisplay) == 0 {
		r.primary = d.ID
		r.current = d.ID
	} else if p, ok := r.byDisplay[r.primary]; ok {
		env.AllowsBreeding = p.AllowsBreeding
	}
	applyGeometry(env, d.Geometry, d.Available, platform.Point{}, windowObservation{}, r.opts.UserScale, r.opts.SubtickCount)
	env.ResetScale()
	r.byDisplay[d.ID] = env
	r.reverse[env] = d.ID
	return env
}

// Detach drops the Environment of id. Rebinding its entities is the
// caller's job and must happen first.
func (r *Environments) Detach(id platform.DisplayID) (*mascot.Environment, bool) {
	env, ok := r.byDisplay[id]
	if !ok {
		return nil, false
	}
	delete(r.byDisplay, id)
	delete(r.reverse, env)
	delete(r.geometry, id)
	if r.primary == id {
		r.primary = r.lowest()
	}
	if r.current == id {
		r.current = r.primary
	}
	return env, true
}

func (r *Environments) lowest() platform.DisplayID {
	ids := r.IDs()
	if len(ids) == 0 {
		return platform.SandboxDisplay
	}
	return ids[0]
}

// IDs returns the attached display ids in ascending order.
func (r *Environments) IDs() []platform.DisplayID {
	out := make([]platform.DisplayID, 0, len(r.byDisplay))
	for id := range r.byDisplay {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Environments) Len() int { return len(r.byDisplay) }

// Get returns the Environment of a display. SandboxDisplay yields the
// sandbox Environment.
func (r *Environments) Get(id platform.DisplayID) (*mascot.Environment, bool) {
	if id == platform.SandboxDisplay {
		return r.sandbox, true
	}
	env, ok := r.byDisplay[id]
	return env, ok
}

func (r *Environments) Sandbox() *mascot.Environment { return r.sandbox }

// DisplayOf maps an Environment back to its display.
func (r *Environments) DisplayOf(env *mascot.Environment) (platform.DisplayID, bool) {
	if env == r.sandbox {
		return platform.SandboxDisplay, true
	}
	id, ok := r.reverse[env]
	return id, ok
}

func (r *Environments) Primary() platform.DisplayID { return r.primary }

// SetPrimary follows the platform's notion of the primary display.
func (r *Environments) SetPrimary(id platform.DisplayID) {
	if _, ok := r.byDisplay[id]; ok {
		r.primary = id
	}
}

// PrimaryEnv is where entities go when their display disappears. Falls back
// to the sandbox when nothing is attached.
func (r *Environments) PrimaryEnv() *mascot.Environment {
	if env, ok := r.byDisplay[r.primary]; ok {
		return env
	}
	if ids := r.IDs(); len(ids) > 0 {
		return r.byDisplay[ids[0]]
	}
	return r.sandbox
}

// Current is the Environment new entities are spawned into.
func (r *Environments) Current() *mascot.Environment {
	if r.windowed {
		return r.sandbox
	}
	if env, ok := r.byDisplay[r.current]; ok {
		return env
	}
	return r.PrimaryEnv()
}

func (r *Environments) SetCurrent(id platform.DisplayID) bool {
	if _, ok := r.byDisplay[id]; !ok {
		return false
	}
	r.current = id
	return true
}

func (r *Environments) Windowed() bool { return r.windowed }

func (r *Environments) SetWindowed(on bool) { r.windowed = on }

func (r *Environments) SetUserScale(s float64) {
	if s > 0 {
		r.opts.UserScale = s
	}
}

func (r *Environments) UserScale() float64 { return r.opts.UserScale }

// SetAllowsBreeding updates the flag on every Environment.
func (r *Environments) SetAllowsBreeding(on bool) {
	r.opts.AllowsBreeding = on
	r.sandbox.AllowsBreeding = on
	for _, env := range r.byDisplay {
		env.AllowsBreeding = on
	}
}

// Recompute refreshes the geometry of every live Environment from f. In
// windowed mode only the sandbox is refreshed and no foreground window
// applies.
func (r *Environments) Recompute(f Frame) {
	for _, d := range f.Displays {
		if _, ok := r.byDisplay[d.ID]; ok {
			r.geometry[d.ID] = d
		}
	}
	win := observeWindow(f.Window, r.prevWindow, r.opts.OwnPID, f.Now, r.opts.WindowMaxAge)
	r.prevWindow = f.Window

	if r.windowed {
		sb := r.opts.Sandbox
		local := platform.Rect{W: sb.W, H: sb.H}
		cursor := platform.Point{X: f.Cursor.X - sb.X, Y: f.Cursor.Y - sb.Y}
		applyGeometry(r.sandbox, local, local, cursor, windowObservation{}, r.opts.UserScale, r.opts.SubtickCount)
		return
	}
	for id, env := range r.byDisplay {
		d := r.geometry[id]
		applyGeometry(env, d.Geometry, d.Available, f.Cursor, win, r.opts.UserScale, r.opts.SubtickCount)
	}
}

// RecomputeOne refreshes a single Environment, used right before a spawn
// so the new entity's reset sees current geometry.
func (r *Environments) RecomputeOne(env *mascot.Environment, f Frame) {
	if env == r.sandbox {
		sb := r.opts.Sandbox
		local := platform.Rect{W: sb.W, H: sb.H}
		cursor := platform.Point{X: f.Cursor.X - sb.X, Y: f.Cursor.Y - sb.Y}
		applyGeometry(env, local, local, cursor, windowObservation{}, r.opts.UserScale, r.opts.SubtickCount)
		return
	}
	id, ok := r.reverse[env]
	if !ok {
		return
	}
	d := r.geometry[id]
	win := observeWindow(f.Window, r.prevWindow, r.opts.OwnPID, f.Now, r.opts.WindowMaxAge)
	applyGeometry(env, d.Geometry, d.Available, f.Cursor, win, r.opts.UserScale, r.opts.SubtickCount)
}

// ResetScale ends the one-tick scale pulse on every Environment.
func (r *Environments) ResetScale() {
	r.sandbox.ResetScale()
	for _, env := range r.byDisplay {
		env.ResetScale()
	}
}
