package control

import (
	"time"

	"github.com/ayusman/lyrapointer/internal/gesture"
)

// minScrollStep guards the scroll quantizer against a zero step.
const minScrollStep = 1e-6

// run counts how many frames a label has been observed, tolerating up to
// MaxGap disagreeing frames.
type run struct {
	count int
	gap   int
}

func (r *run) observe(seen bool, maxGap int) {
	if seen {
		r.count++
		r.gap = 0
		return
	}
	if r.count == 0 {
		return
	}
	r.gap++
	if r.gap > maxGap {
		r.count = 0
		r.gap = 0
	}
}

// Option configures a new Machine.
type Option func(*Machine)

// StartPaused creates the machine in the Paused state without emitting an
// event. Unpausing returns to Idle.
func StartPaused() Option {
	return func(m *Machine) {
		m.state = Paused
		m.prev = Idle
		m.pauseLatched = true
	}
}

// Machine is the gesture state machine of one session. It is driven by a
// single goroutine and is not safe for concurrent use.
type Machine struct {
	cfg   Config
	state State
	// prev is the state restored when a pause ends.
	prev State

	runs    map[gesture.Label]*run
	release run

	armed    gesture.Label
	armedAt  time.Time
	armedPos Position

	pending    bool
	pendingAt  time.Time
	pendingPos Position

	pauseLatched bool

	scrollAccum float64
	lastPalmY   float64
	havePalmY   bool

	dragDepth int
}

// NewMachine creates a machine in the Idle state.
func NewMachine(cfg Config, opts ...Option) *Machine {
	m := &Machine{
		cfg:  cfg,
		runs: make(map[gesture.Label]*run),
	}
	for _, l := range gesture.Labels() {
		m.runs[l] = &run{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// DragDepth is the number of DragStart events not yet matched by a DragEnd.
// It is always 0 or 1.
func (m *Machine) DragDepth() int {
	return m.dragDepth
}

// Config returns the active tuning.
func (m *Machine) Config() Config {
	return m.cfg
}

// SetConfig replaces the tuning. Call it between frames only.
func (m *Machine) SetConfig(cfg Config) {
	m.cfg = cfg
}

// Step feeds one frame's label and features to the machine.
func (m *Machine) Step(label gesture.Label, fv gesture.FeatureVector, ts time.Time) Output {
	var out Output

	if m.pending && ts.Sub(m.pendingAt) > m.cfg.DoubleClickInterval {
		m.flushPending(ts, &out)
	}
	m.observe(label)

	if m.state == Paused {
		if m.pauseGesture() {
			m.unpause(ts, &out)
		}
		return out
	}
	if m.pauseGesture() {
		m.pause(ts, &out)
		return out
	}
	if m.state != Idle && m.held(gesture.Fist, m.cfg.Hold.Rest) {
		m.rest(ts, &out)
		return out
	}

	cursor := Position{X: fv.Cursor.X, Y: fv.Cursor.Y}

	switch m.state {
	case Idle:
		switch {
		case m.held(gesture.Pointer, m.cfg.Hold.Pointer):
			m.to(Pointing, ts, &out)
			m.emit(&out, ActionEvent{Kind: MoveTo, Position: cursor, Timestamp: ts})
		case m.held(gesture.ScrollReady, m.cfg.Hold.Scroll):
			m.startScroll(fv, ts, &out)
		}

	case Pointing:
		switch {
		case m.held(gesture.PinchClick, m.cfg.Hold.Click):
			m.arm(gesture.PinchClick, cursor, ts, &out)
		case m.held(gesture.PinchRight, m.cfg.Hold.RightClick):
			m.arm(gesture.PinchRight, cursor, ts, &out)
		case m.held(gesture.ScrollReady, m.cfg.Hold.Scroll):
			m.flushPending(ts, &out)
			m.startScroll(fv, ts, &out)
		case label == gesture.Pointer && !m.pending:
			m.emit(&out, ActionEvent{Kind: MoveTo, Position: cursor, Timestamp: ts})
		}

	case ClickArmed:
		switch {
		case m.canDrag() && label == gesture.PinchClick && ts.Sub(m.armedAt) >= m.cfg.DragHold:
			m.flushPending(ts, &out)
			m.to(Dragging, ts, &out)
			m.dragDepth = 1
			m.emit(&out, ActionEvent{Kind: DragStart, Position: m.armedPos, Timestamp: ts})
		case m.release.count >= m.cfg.Hold.Release:
			m.commit(ts, &out)
		}

	case Dragging:
		switch {
		case m.release.count >= m.cfg.Hold.Release:
			m.endDrag(cursor, ts, &out)
			m.to(Pointing, ts, &out)
		case label == gesture.PinchClick:
			m.emit(&out, ActionEvent{Kind: DragMove, Position: cursor, Timestamp: ts})
		}

	case Scrolling:
		switch {
		case m.held(gesture.Pointer, m.cfg.Hold.Pointer):
			m.to(Pointing, ts, &out)
			m.emit(&out, ActionEvent{Kind: MoveTo, Position: cursor, Timestamp: ts})
		case label == gesture.ScrollReady:
			m.scroll(fv.PalmY, ts, &out)
		}
	}

	return out
}

// TrackingLost forces the machine to Idle, releasing any held button and
// flushing a click still waiting for its double-click window.
func (m *Machine) TrackingLost(ts time.Time) Output {
	var out Output
	m.flushPending(ts, &out)
	if m.state == Dragging {
		m.endDrag(m.armedPos, ts, &out)
	}
	m.to(Idle, ts, &out)
	m.prev = Idle
	m.pauseLatched = false
	m.armed = gesture.None
	return out
}

// TogglePause pauses or resumes the machine regardless of the current gesture.
func (m *Machine) TogglePause(ts time.Time) Output {
	var out Output
	if m.state == Paused {
		m.unpause(ts, &out)
	} else {
		m.pause(ts, &out)
	}
	return out
}

func (m *Machine) observe(label gesture.Label) {
	for l, r := range m.runs {
		r.observe(l == label, m.cfg.MaxGap)
	}
	m.release.observe(label == gesture.Pointer || label == gesture.None, m.cfg.MaxGap)
	if m.runs[gesture.OpenPalm].count == 0 {
		m.pauseLatched = false
	}
}

func (m *Machine) held(l gesture.Label, frames int) bool {
	return m.runs[l].count >= frames
}

// pauseGesture reports a fresh sustained open palm. It fires once per hold.
func (m *Machine) pauseGesture() bool {
	if m.pauseLatched || !m.held(gesture.OpenPalm, m.cfg.Hold.Pause) {
		return false
	}
	m.pauseLatched = true
	return true
}

func (m *Machine) canDrag() bool {
	return m.armed == gesture.PinchClick && m.cfg.DragHold > 0
}

func (m *Machine) to(s State, ts time.Time, out *Output) {
	if s == m.state {
		return
	}
	out.Transitions = append(out.Transitions, Transition{From: m.state, To: s, Timestamp: ts})
	m.state = s
	m.resetRuns()
}

func (m *Machine) resetRuns() {
	for _, r := range m.runs {
		*r = run{}
	}
	m.release = run{}
}

func (m *Machine) emit(out *Output, ev ActionEvent) {
	out.Events = append(out.Events, ev)
}

func (m *Machine) arm(l gesture.Label, pos Position, ts time.Time, out *Output) {
	m.to(ClickArmed, ts, out)
	m.armed = l
	m.armedAt = ts
	m.armedPos = pos
}

// commit turns a released pinch into a click. A left click waits for the
// double-click window; a second one inside it becomes a DoubleClick.
func (m *Machine) commit(ts time.Time, out *Output) {
	switch {
	case m.armed == gesture.PinchRight:
		m.flushPending(ts, out)
		m.emit(out, ActionEvent{Kind: ClickRight, Position: m.armedPos, Timestamp: ts})
	case m.pending:
		m.pending = false
		m.emit(out, ActionEvent{Kind: DoubleClick, Position: m.pendingPos, Timestamp: ts})
	default:
		m.pending = true
		m.pendingAt = ts
		m.pendingPos = m.armedPos
	}
	m.armed = gesture.None
	m.to(Pointing, ts, out)
}

func (m *Machine) flushPending(ts time.Time, out *Output) {
	if !m.pending {
		return
	}
	m.pending = false
	m.emit(out, ActionEvent{Kind: ClickLeft, Position: m.pendingPos, Timestamp: ts})
}

func (m *Machine) endDrag(pos Position, ts time.Time, out *Output) {
	if m.dragDepth == 0 {
		return
	}
	m.dragDepth = 0
	m.armed = gesture.None
	m.emit(out, ActionEvent{Kind: DragEnd, Position: pos, Timestamp: ts})
}

// rest handles a sustained fist: the hand is parked and the machine idles.
func (m *Machine) rest(ts time.Time, out *Output) {
	m.flushPending(ts, out)
	if m.state == Dragging {
		m.endDrag(m.armedPos, ts, out)
	}
	m.armed = gesture.None
	m.to(Idle, ts, out)
}

func (m *Machine) pause(ts time.Time, out *Output) {
	m.flushPending(ts, out)
	prev := m.state
	switch prev {
	case Dragging:
		m.endDrag(m.armedPos, ts, out)
		prev = Pointing
	case ClickArmed:
		prev = Pointing
	}
	m.armed = gesture.None
	m.prev = prev
	m.pauseLatched = true
	m.to(Paused, ts, out)
	m.emit(out, ActionEvent{Kind: PauseToggled, Paused: true, Timestamp: ts})
}

func (m *Machine) unpause(ts time.Time, out *Output) {
	m.pauseLatched = true
	m.havePalmY = false
	m.scrollAccum = 0
	m.to(m.prev, ts, out)
	m.emit(out, ActionEvent{Kind: PauseToggled, Paused: false, Timestamp: ts})
}

func (m *Machine) startScroll(fv gesture.FeatureVector, ts time.Time, out *Output) {
	m.to(Scrolling, ts, out)
	m.scrollAccum = 0
	m.lastPalmY = fv.PalmY
	m.havePalmY = true
}

// scroll accumulates palm travel and emits whole scroll steps. Moving the
// palm up scrolls up.
func (m *Machine) scroll(palmY float64, ts time.Time, out *Output) {
	if !m.havePalmY {
		m.lastPalmY = palmY
		m.havePalmY = true
		return
	}

	step := m.cfg.ScrollStep
	if step < minScrollStep {
		step = minScrollStep
	}

	m.scrollAccum += m.lastPalmY - palmY
	m.lastPalmY = palmY

	steps := int(m.scrollAccum / step)
	if steps == 0 {
		return
	}
	m.scrollAccum -= float64(steps) * step
	m.emit(out, ActionEvent{Kind: ScrollBy, Delta: steps * m.cfg.ScrollSpeed, Timestamp: ts})
}
