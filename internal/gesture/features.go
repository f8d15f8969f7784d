// Package gesture turns smoothed hand frames into geometric features and
// classifies them into per-frame gesture labels.
package gesture

import (
	"math"

	"github.com/ayusman/lyrapointer/internal/detector"
)

// Finger indexes the extension flags of a FeatureVector.
type Finger int

const (
	Thumb Finger = iota
	Index
	Middle
	Ring
	Pinky
	numFingers
)

var fingerNames = [...]string{"thumb", "index", "middle", "ring", "pinky"}

func (f Finger) String() string {
	if f < 0 || f >= numFingers {
		return "unknown"
	}
	return fingerNames[f]
}

// Pair indexes the pinch distances of a FeatureVector.
type Pair int

const (
	ThumbIndex Pair = iota
	ThumbMiddle
	ThumbRing
	ThumbPinky
	IndexMiddle
	numPairs
)

var pairLandmarks = [numPairs][2]int{
	ThumbIndex:  {detector.ThumbTip, detector.IndexTip},
	ThumbMiddle: {detector.ThumbTip, detector.MiddleTip},
	ThumbRing:   {detector.ThumbTip, detector.RingTip},
	ThumbPinky:  {detector.ThumbTip, detector.PinkyTip},
	IndexMiddle: {detector.IndexTip, detector.MiddleTip},
}

// FeatureVector is the geometric summary of one hand frame.
type FeatureVector struct {
	Extended [numFingers]bool
	// Distances are fingertip distances in hand-size units. They are +Inf
	// when the hand is degenerate.
	Distances    [numPairs]float64
	PalmOpenness float64
	// Cursor is the raw index fingertip, the anchor for pointer positions.
	Cursor detector.Point3D
	// PalmY is the palm center y, the scroll axis.
	PalmY float64
	// Valid is false when the hand was too small to measure.
	Valid bool
}

// Distance returns the named pinch distance.
func (fv FeatureVector) Distance(p Pair) float64 {
	return fv.Distances[p]
}

// ExtendedCount returns how many of the four non-thumb fingers are extended.
func (fv FeatureVector) ExtendedCount() int {
	n := 0
	for f := Index; f < numFingers; f++ {
		if fv.Extended[f] {
			n++
		}
	}
	return n
}

// Extractor holds the ratios used by the extension tests.
type Extractor struct {
	// FingerRatio is how much further than its PIP joint a fingertip must be
	// from the palm center to count as extended, per finger. The thumb entry
	// applies to the lateral test against the pinky MCP.
	FingerRatio [numFingers]float64
	// OpenSpan is the mean tip distance, in hand sizes, of a fully open palm.
	OpenSpan float64
}

// DefaultExtractor returns the ratios tuned for MediaPipe landmarks.
func DefaultExtractor() Extractor {
	return Extractor{
		FingerRatio: [numFingers]float64{1.05, 1.2, 1.2, 1.2, 1.2},
		OpenSpan:    2.0,
	}
}

var fingerJoints = [numFingers][2]int{
	Index:  {detector.IndexPIP, detector.IndexTip},
	Middle: {detector.MiddlePIP, detector.MiddleTip},
	Ring:   {detector.RingPIP, detector.RingTip},
	Pinky:  {detector.PinkyPIP, detector.PinkyTip},
}

// Extract derives the feature vector of a frame. It has no side effects.
func (e Extractor) Extract(h detector.HandFrame) FeatureVector {
	palm := h.PalmCenter()
	fv := FeatureVector{
		Cursor: h.Points[detector.IndexTip],
		PalmY:  palm.Y,
	}

	if h.Degenerate() {
		for i := range fv.Distances {
			fv.Distances[i] = math.Inf(1)
		}
		return fv
	}
	fv.Valid = true
	size := h.HandSize()

	for i, lm := range pairLandmarks {
		fv.Distances[i] = detector.Distance(h.Points[lm[0]], h.Points[lm[1]]) / size
	}

	pinkyBase := h.Points[detector.PinkyMCP]
	fv.Extended[Thumb] = detector.Distance(h.Points[detector.ThumbTip], pinkyBase) >
		detector.Distance(h.Points[detector.ThumbIP], pinkyBase)*e.FingerRatio[Thumb]

	var reach float64
	for f := Index; f < numFingers; f++ {
		pip, tip := h.Points[fingerJoints[f][0]], h.Points[fingerJoints[f][1]]
		tipDist := detector.Distance(tip, palm)
		fv.Extended[f] = tipDist > detector.Distance(pip, palm)*e.FingerRatio[f]
		reach += tipDist
	}

	span := e.OpenSpan
	if span <= 0 {
		span = 1
	}
	fv.PalmOpenness = clamp01(reach / 4 / size / span)
	return fv
}

// Extract runs the default extractor.
func Extract(h detector.HandFrame) FeatureVector {
	return DefaultExtractor().Extract(h)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
