package dispatch

import (
	"math"

	"github.com/ayusman/lyrapointer/internal/control"
	"github.com/ayusman/lyrapointer/internal/pointer"
)

// Zone is the normalized sub-rectangle of the camera frame that spans the
// whole screen.
type Zone struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// FullZone maps the whole frame to the whole screen.
var FullZone = Zone{XMin: 0, XMax: 1, YMin: 0, YMax: 1}

// Mapping turns normalized frame positions into screen pixels.
type Mapping struct {
	Zone Zone
	// Sensitivity scales motion about the zone center. Values above 1 reach
	// the screen edges before the hand reaches the zone edges.
	Sensitivity float64
	// Mirror flips x, for cameras that see the user face to face.
	Mirror bool
}

// Normalize maps a frame position into [0,1]×[0,1] screen space.
func (m Mapping) Normalize(p control.Position) (float64, float64) {
	nx := scale(p.X, m.Zone.XMin, m.Zone.XMax, m.Sensitivity)
	ny := scale(p.Y, m.Zone.YMin, m.Zone.YMax, m.Sensitivity)
	if m.Mirror {
		nx = 1 - nx
	}
	return nx, ny
}

func scale(v, lo, hi, sensitivity float64) float64 {
	span := hi - lo
	if span <= 0 || math.IsNaN(v) {
		return 0.5
	}
	n := (v - lo) / span
	if sensitivity > 0 {
		n = 0.5 + (n-0.5)*sensitivity
	}
	return math.Max(0, math.Min(1, n))
}

// Pixel maps a frame position to a pixel inside screen.
func (m Mapping) Pixel(p control.Position, screen pointer.Screen) (int, int) {
	nx, ny := m.Normalize(p)
	return screen.X + int(math.Round(nx*float64(screen.Width-1))),
		screen.Y + int(math.Round(ny*float64(screen.Height-1)))
}
