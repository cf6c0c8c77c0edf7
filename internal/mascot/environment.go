package mascot

// Area is a rectangle with per-tick motion deltas.
type Area struct {
	Top, Right, Bottom, Left float64
	DX, DY                   float64
}

func (a Area) Width() float64  { return a.Right - a.Left }
func (a Area) Height() float64 { return a.Bottom - a.Top }

// Visible is false for the off-screen sentinel.
func (a Area) Visible() bool {
	return a.Right > a.Left && a.Bottom > a.Top && a.Right >= 0 && a.Bottom >= 0
}

// HBorder is a horizontal line such as a floor or ceiling.
type HBorder struct {
	Y, XStart, XEnd float64
}

type Cursor struct {
	X, Y, DX, DY float64
}

// HiddenCoord is the coordinate of every edge of a not-visible area.
const HiddenCoord = -50

// HiddenArea is the sentinel used when no foreground window applies.
var HiddenArea = Area{Top: HiddenCoord, Right: HiddenCoord, Bottom: HiddenCoord, Left: HiddenCoord}

// Environment is the working-area description of one display or of the
// sandbox surface. It is recomputed every tick.
type Environment struct {
	Screen         Area
	WorkArea       Area
	Floor          HBorder
	Ceiling        HBorder
	ActiveWindow   Area
	Cursor         Cursor
	SubtickCount   int
	AllowsBreeding bool

	scale    float64
	bindings int
}

func NewEnvironment() *Environment {
	return &Environment{
		ActiveWindow:   HiddenArea,
		SubtickCount:   1,
		AllowsBreeding: true,
		scale:          1,
	}
}

// Scale is a one-tick pulse: set during the environment pass, read by
// simulations while stepping, reset to 1 at the end of the tick.
func (e *Environment) Scale() float64 { return e.scale }

func (e *Environment) SetScale(s float64) { e.scale = s }

func (e *Environment) ResetScale() { e.scale = 1 }

// Bind and Unbind count the entities currently using this environment.
func (e *Environment) Bind() { e.bindings++ }

func (e *Environment) Unbind() {
	if e.bindings > 0 {
		e.bindings--
	}
}

func (e *Environment) Bindings() int { return e.bindings }
