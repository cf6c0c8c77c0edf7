package world

import (
	"math"
	"time"

	"github.com/shijimago/shijima/internal/mascot"
	"github.com/shijimago/shijima/internal/platform"
)

// DefaultSubtickCount is how many simulation steps make up one frame.
const DefaultSubtickCount = 4

// windowObservation is the foreground window as seen by this tick, already
// filtered. ok is false when no window applies.
type windowObservation struct {
	ok   bool
	area mascot.Area
}

// observeWindow filters the raw observation and derives per-tick deltas
// against prev. The delta on an axis falls back to the size change when the
// window did not move on that axis.
func observeWindow(cur, prev platform.ActiveWindow, ownPID int, now time.Time, maxAge time.Duration) windowObservation {
	if !cur.Available || cur.PID == ownPID || cur.Width <= 1 || cur.Height <= 1 {
		return windowObservation{}
	}
	if stale(cur, now, maxAge) {
		return windowObservation{}
	}
	a := mascot.Area{
		Top:    cur.Y,
		Right:  cur.X + cur.Width,
		Bottom: cur.Y + cur.Height,
		Left:   cur.X,
	}
	if prev.Available && prev.UID == cur.UID {
		a.DX = cur.X - prev.X
		if a.DX == 0 {
			a.DX = cur.Width - prev.Width
		}
		a.DY = cur.Y - prev.Y
		if a.DY == 0 {
			a.DY = cur.Height - prev.Height
		}
	}
	return windowObservation{ok: true, area: a}
}

func stale(w platform.ActiveWindow, now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && !w.Observed.IsZero() && now.Sub(w.Observed) > maxAge
}

// insets returns the taskbar (bottom) and status bar (top) heights, clamped
// at zero.
func insets(geometry, available platform.Rect) (taskbar, status int) {
	taskbar = geometry.Bottom() - available.Bottom()
	status = available.Top() - geometry.Top()
	if taskbar < 0 {
		taskbar = 0
	}
	if status < 0 {
		status = 0
	}
	return taskbar, status
}

// applyGeometry fills every per-tick field of env.
func applyGeometry(env *mascot.Environment, geometry, available platform.Rect, cursor platform.Point,
	win windowObservation, userScale float64, subticks int) {
	taskbar, status := insets(geometry, available)
	top := float64(geometry.Top())
	left := float64(geometry.Left())
	right := float64(geometry.Right())
	bottom := float64(geometry.Bottom())

	env.Screen = mascot.Area{Top: top, Right: right, Bottom: bottom, Left: left}
	env.WorkArea = mascot.Area{
		Top:    top + float64(status),
		Right:  right,
		Bottom: bottom - float64(taskbar),
		Left:   left,
	}
	env.Floor = mascot.HBorder{Y: bottom - float64(taskbar), XStart: left, XEnd: right}
	env.Ceiling = mascot.HBorder{Y: top, XStart: left, XEnd: right}

	if win.ok {
		env.ActiveWindow = win.area
	} else {
		env.ActiveWindow = mascot.HiddenArea
	}

	x, y := float64(cursor.X), float64(cursor.Y)
	env.Cursor = mascot.Cursor{X: x, Y: y, DX: x - env.Cursor.X, DY: y - env.Cursor.Y}
	env.SubtickCount = subticks
	env.SetScale(scaleFor(userScale))
}

// scaleFor maps the user zoom factor to the per-tick scale signal.
func scaleFor(userScale float64) float64 {
	if userScale <= 0 {
		return 1
	}
	return 1 / math.Sqrt(userScale)
}
