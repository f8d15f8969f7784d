// Package detector provides hand landmark types and the providers that produce them.
package detector

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// minHandSize is the wrist to middle MCP distance below which a hand is degenerate.
const minHandSize = 1e-9

// ErrMalformedFrame is returned when landmark data cannot form a valid HandFrame.
var ErrMalformedFrame = errors.New("malformed hand frame")

// Handedness identifies which hand a frame belongs to.
type Handedness string

const (
	Left  Handedness = "Left"
	Right Handedness = "Right"
)

// Point3D is a normalized landmark coordinate.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandFrame is one observation of a tracked hand.
// Frames are values: stages that transform a frame return a new one.
type HandFrame struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness Handedness            `json:"handedness"`
	Confidence float64               `json:"confidence"`
	Timestamp  time.Time             `json:"timestamp"`
}

// NewHandFrame builds a validated frame from a landmark slice.
func NewHandFrame(points []Point3D, handedness Handedness, confidence float64, ts time.Time) (HandFrame, error) {
	if len(points) != NumLandmarks {
		return HandFrame{}, fmt.Errorf("%w: got %d landmarks, want %d", ErrMalformedFrame, len(points), NumLandmarks)
	}

	frame := HandFrame{
		Handedness: handedness,
		Confidence: confidence,
		Timestamp:  ts,
	}
	copy(frame.Points[:], points)

	if err := frame.Validate(); err != nil {
		return HandFrame{}, err
	}
	return frame, nil
}

// Validate reports whether the frame can be processed.
func (h HandFrame) Validate() error {
	if h.Handedness != Left && h.Handedness != Right {
		return fmt.Errorf("%w: unknown handedness %q", ErrMalformedFrame, h.Handedness)
	}
	if math.IsNaN(h.Confidence) || h.Confidence < 0 || h.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrMalformedFrame, h.Confidence)
	}
	for i, p := range h.Points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return fmt.Errorf("%w: landmark %d is not finite", ErrMalformedFrame, i)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point3D) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// HandSize is the wrist to middle finger MCP distance, used as the scale reference.
func (h HandFrame) HandSize() float64 {
	return Distance(h.Points[Wrist], h.Points[MiddleMCP])
}

// Degenerate reports whether the hand is too small to derive scale-invariant features.
func (h HandFrame) Degenerate() bool {
	size := h.HandSize()
	return !finite(size) || size < minHandSize
}

// PalmCenter is the centroid of the wrist and the four finger MCP joints.
func (h HandFrame) PalmCenter() Point3D {
	ids := [...]int{Wrist, IndexMCP, MiddleMCP, RingMCP, PinkyMCP}
	var c Point3D
	for _, i := range ids {
		c.X += h.Points[i].X
		c.Y += h.Points[i].Y
		c.Z += h.Points[i].Z
	}
	n := float64(len(ids))
	return Point3D{X: c.X / n, Y: c.Y / n, Z: c.Z / n}
}

// Normalize returns a copy with the wrist at the origin, scaled so that the
// wrist to middle finger MCP distance is 1.0. A degenerate hand is only translated.
func (h HandFrame) Normalize() HandFrame {
	normalized := h

	wrist := h.Points[Wrist]
	for i := range normalized.Points {
		normalized.Points[i] = Point3D{
			X: h.Points[i].X - wrist.X,
			Y: h.Points[i].Y - wrist.Y,
			Z: h.Points[i].Z - wrist.Z,
		}
	}

	if h.Degenerate() {
		return normalized
	}

	scale := h.HandSize()
	for i := range normalized.Points {
		normalized.Points[i].X /= scale
		normalized.Points[i].Y /= scale
		normalized.Points[i].Z /= scale
	}
	return normalized
}

// Translated returns a copy with every landmark shifted in the image plane.
func (h HandFrame) Translated(dx, dy float64) HandFrame {
	moved := h
	for i := range moved.Points {
		moved.Points[i].X += dx
		moved.Points[i].Y += dy
	}
	return moved
}
