package detector

import (
	"context"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu    sync.Mutex
	hands []HandFrame
	err   error
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands that will be returned by Detect.
func (m *MockDetector) SetHands(hands []HandFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the pre-configured hands stamped with the current time.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandFrame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	if m.hands == nil {
		return nil, nil
	}

	now := time.Now()
	out := make([]HandFrame, len(m.hands))
	for i, h := range m.hands {
		h.Timestamp = now
		out[i] = h
	}
	return out, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// Step is one scripted provider result.
type Step struct {
	Frame HandFrame
	// Gap marks a step that reports a timeout instead of a frame.
	Gap bool
	Err error
}

// ScriptedProvider replays a fixed list of steps and then reports ErrEndOfStream.
// It never waits; a Gap step stands in for an expired timeout.
type ScriptedProvider struct {
	mu     sync.Mutex
	steps  []Step
	pos    int
	closed bool
}

// NewScriptedProvider creates a provider over the given steps.
func NewScriptedProvider(steps ...Step) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

// Frames wraps frames as provider steps.
func Frames(frames ...HandFrame) []Step {
	steps := make([]Step, len(frames))
	for i, f := range frames {
		steps[i] = Step{Frame: f}
	}
	return steps
}

// NextFrame returns the next scripted step.
func (p *ScriptedProvider) NextFrame(ctx context.Context, timeout time.Duration) (HandFrame, bool, error) {
	if err := ctx.Err(); err != nil {
		return HandFrame{}, false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.pos >= len(p.steps) {
		return HandFrame{}, false, ErrEndOfStream
	}

	step := p.steps[p.pos]
	p.pos++

	switch {
	case step.Err != nil:
		return HandFrame{}, false, step.Err
	case step.Gap:
		return HandFrame{}, false, nil
	}
	if err := step.Frame.Validate(); err != nil {
		return HandFrame{}, false, err
	}
	return step.Frame, true, nil
}

// Remaining returns the number of steps not yet delivered.
func (p *ScriptedProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps) - p.pos
}

// Close stops the provider.
func (p *ScriptedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Preset poses used by tests and the mock provider. All presets describe a
// right hand with the wrist at (0.5, 0.8) and a hand size of 0.14.

func baseHand() HandFrame {
	h := HandFrame{Handedness: Right, Confidence: 0.95}

	h.Points[Wrist] = Point3D{X: 0.5, Y: 0.8, Z: 0.0}
	h.Points[IndexMCP] = Point3D{X: 0.55, Y: 0.68, Z: 0.0}
	h.Points[MiddleMCP] = Point3D{X: 0.50, Y: 0.66, Z: 0.0}
	h.Points[RingMCP] = Point3D{X: 0.45, Y: 0.68, Z: 0.0}
	h.Points[PinkyMCP] = Point3D{X: 0.40, Y: 0.70, Z: 0.0}

	for _, mcp := range [...]int{IndexMCP, MiddleMCP, RingMCP, PinkyMCP} {
		curl(&h, mcp)
	}
	tuckThumb(&h)
	return h
}

// curl folds the finger whose MCP index is mcp back toward the palm.
func curl(h *HandFrame, mcp int) {
	m := h.Points[mcp]
	h.Points[mcp+1] = Point3D{X: m.X, Y: m.Y - 0.03, Z: -0.03}
	h.Points[mcp+2] = Point3D{X: m.X, Y: m.Y - 0.01, Z: -0.05}
	h.Points[mcp+3] = Point3D{X: m.X, Y: m.Y + 0.02, Z: -0.03}
}

func tuckThumb(h *HandFrame) {
	h.Points[ThumbCMC] = Point3D{X: 0.53, Y: 0.76, Z: 0.0}
	h.Points[ThumbMCP] = Point3D{X: 0.54, Y: 0.72, Z: -0.02}
	h.Points[ThumbIP] = Point3D{X: 0.52, Y: 0.69, Z: -0.04}
	h.Points[ThumbTip] = Point3D{X: 0.47, Y: 0.74, Z: -0.08}
}

func spreadThumb(h *HandFrame) {
	h.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.75, Z: 0.02}
	h.Points[ThumbMCP] = Point3D{X: 0.62, Y: 0.70, Z: 0.03}
	h.Points[ThumbIP] = Point3D{X: 0.68, Y: 0.65, Z: 0.03}
	h.Points[ThumbTip] = Point3D{X: 0.73, Y: 0.60, Z: 0.03}
}

func extendIndex(h *HandFrame) {
	h.Points[IndexPIP] = Point3D{X: 0.57, Y: 0.55, Z: 0.0}
	h.Points[IndexDIP] = Point3D{X: 0.58, Y: 0.45, Z: 0.0}
	h.Points[IndexTip] = Point3D{X: 0.58, Y: 0.35, Z: 0.0}
}

func extendMiddle(h *HandFrame) {
	h.Points[MiddlePIP] = Point3D{X: 0.50, Y: 0.52, Z: 0.0}
	h.Points[MiddleDIP] = Point3D{X: 0.50, Y: 0.40, Z: 0.0}
	h.Points[MiddleTip] = Point3D{X: 0.50, Y: 0.28, Z: 0.0}
}

func extendRing(h *HandFrame) {
	h.Points[RingPIP] = Point3D{X: 0.43, Y: 0.55, Z: 0.0}
	h.Points[RingDIP] = Point3D{X: 0.42, Y: 0.45, Z: 0.0}
	h.Points[RingTip] = Point3D{X: 0.42, Y: 0.35, Z: 0.0}
}

func extendPinky(h *HandFrame) {
	h.Points[PinkyPIP] = Point3D{X: 0.37, Y: 0.60, Z: 0.0}
	h.Points[PinkyDIP] = Point3D{X: 0.35, Y: 0.50, Z: 0.0}
	h.Points[PinkyTip] = Point3D{X: 0.34, Y: 0.42, Z: 0.0}
}

// FistLandmarks returns a closed hand with the thumb tucked over the fingers.
func FistLandmarks() HandFrame {
	return baseHand()
}

// PointerLandmarks returns a hand with only the index finger extended.
func PointerLandmarks() HandFrame {
	h := baseHand()
	extendIndex(&h)
	return h
}

// ScrollLandmarks returns a hand with the index and middle fingers extended.
func ScrollLandmarks() HandFrame {
	h := baseHand()
	extendIndex(&h)
	extendMiddle(&h)
	return h
}

// OpenPalmLandmarks returns a hand with all five fingers extended.
func OpenPalmLandmarks() HandFrame {
	h := baseHand()
	extendIndex(&h)
	extendMiddle(&h)
	extendRing(&h)
	extendPinky(&h)
	spreadThumb(&h)
	return h
}

// ThumbsUpLandmarks returns a closed hand with only the thumb extended.
func ThumbsUpLandmarks() HandFrame {
	h := baseHand()
	h.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.75, Z: 0.0}
	h.Points[ThumbMCP] = Point3D{X: 0.58, Y: 0.65, Z: 0.0}
	h.Points[ThumbIP] = Point3D{X: 0.58, Y: 0.50, Z: 0.0}
	h.Points[ThumbTip] = Point3D{X: 0.58, Y: 0.35, Z: 0.0}
	return h
}

// PinchLandmarks returns a hand with the thumb tip touching the index tip.
func PinchLandmarks() HandFrame {
	h := baseHand()
	h.Points[IndexPIP] = Point3D{X: 0.57, Y: 0.58, Z: -0.01}
	h.Points[IndexDIP] = Point3D{X: 0.58, Y: 0.54, Z: -0.02}
	h.Points[IndexTip] = Point3D{X: 0.58, Y: 0.52, Z: -0.03}

	h.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.75, Z: 0.02}
	h.Points[ThumbMCP] = Point3D{X: 0.60, Y: 0.69, Z: 0.02}
	h.Points[ThumbIP] = Point3D{X: 0.60, Y: 0.60, Z: 0.0}
	h.Points[ThumbTip] = Point3D{X: 0.585, Y: 0.53, Z: -0.03}
	return h
}

// RightPinchLandmarks returns a hand with the thumb tip touching the middle tip.
func RightPinchLandmarks() HandFrame {
	h := baseHand()
	h.Points[MiddlePIP] = Point3D{X: 0.51, Y: 0.57, Z: -0.01}
	h.Points[MiddleDIP] = Point3D{X: 0.52, Y: 0.53, Z: -0.02}
	h.Points[MiddleTip] = Point3D{X: 0.53, Y: 0.51, Z: -0.03}

	h.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.75, Z: 0.02}
	h.Points[ThumbMCP] = Point3D{X: 0.60, Y: 0.69, Z: 0.02}
	h.Points[ThumbIP] = Point3D{X: 0.58, Y: 0.60, Z: 0.0}
	h.Points[ThumbTip] = Point3D{X: 0.535, Y: 0.52, Z: -0.03}
	return h
}

// Pose returns the named preset. Known names are fist, pointer, scroll,
// open_palm, thumbs_up, pinch and right_pinch.
func Pose(name string) (HandFrame, bool) {
	switch name {
	case "fist":
		return FistLandmarks(), true
	case "pointer":
		return PointerLandmarks(), true
	case "scroll":
		return ScrollLandmarks(), true
	case "open_palm":
		return OpenPalmLandmarks(), true
	case "thumbs_up":
		return ThumbsUpLandmarks(), true
	case "pinch":
		return PinchLandmarks(), true
	case "right_pinch":
		return RightPinchLandmarks(), true
	}
	return HandFrame{}, false
}
