// Package control debounces per-frame gesture labels into a control state and
// emits the pointer actions that state changes imply.
package control

import (
	"errors"
	"fmt"
	"time"
)

// State is the debounced session state.
type State int

const (
	Idle State = iota
	Pointing
	ClickArmed
	Dragging
	Scrolling
	Paused
	numStates
)

var stateNames = [...]string{
	Idle:       "idle",
	Pointing:   "pointing",
	ClickArmed: "click_armed",
	Dragging:   "dragging",
	Scrolling:  "scrolling",
	Paused:     "paused",
}

func (s State) String() string {
	if s < 0 || s >= numStates {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState returns the state with the given name.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Idle, fmt.Errorf("%w: state %q", ErrUnknownName, name)
}

// Kind is the type of an ActionEvent.
type Kind int

const (
	MoveTo Kind = iota
	ClickLeft
	ClickRight
	DoubleClick
	DragStart
	DragMove
	DragEnd
	ScrollBy
	PauseToggled
	numKinds
)

var kindNames = [...]string{
	MoveTo:       "move_to",
	ClickLeft:    "click_left",
	ClickRight:   "click_right",
	DoubleClick:  "double_click",
	DragStart:    "drag_start",
	DragMove:     "drag_move",
	DragEnd:      "drag_end",
	ScrollBy:     "scroll_by",
	PauseToggled: "pause_toggled",
}

// ErrUnknownName is returned when parsing an unrecognized state or kind.
var ErrUnknownName = errors.New("unknown name")

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return MoveTo, fmt.Errorf("%w: action %q", ErrUnknownName, name)
}

// Kinds returns every event kind.
func Kinds() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// States returns every control state.
func States() []State {
	out := make([]State, numStates)
	for i := range out {
		out[i] = State(i)
	}
	return out
}

// Position is a normalized frame coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ActionEvent is one pointer action produced by the machine.
type ActionEvent struct {
	Kind     Kind     `json:"kind"`
	Position Position `json:"position"`
	// Delta is the scroll amount in lines for ScrollBy; positive scrolls up.
	Delta int `json:"delta,omitempty"`
	// Paused is the new pause state for PauseToggled.
	Paused    bool      `json:"paused,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transition records a state change.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Output is everything one machine step produced, in order.
type Output struct {
	Transitions []Transition
	Events      []ActionEvent
}

// Empty reports whether the step produced nothing.
func (o Output) Empty() bool {
	return len(o.Transitions) == 0 && len(o.Events) == 0
}

// HoldFrames are the debounce depths per gesture.
type HoldFrames struct {
	Pointer    int `json:"pointer"`
	Click      int `json:"click"`
	RightClick int `json:"right_click"`
	Scroll     int `json:"scroll"`
	Pause      int `json:"pause"`
	Rest       int `json:"rest"`
	Release    int `json:"release"`
}

// DefaultHoldFrames returns the stock debounce depths.
func DefaultHoldFrames() HoldFrames {
	return HoldFrames{
		Pointer:    2,
		Click:      3,
		RightClick: 3,
		Scroll:     3,
		Pause:      10,
		Rest:       3,
		Release:    3,
	}
}

// Config tunes the machine. It may be replaced between frames with SetConfig.
type Config struct {
	Hold HoldFrames
	// MaxGap is how many disagreeing frames a label run survives. Zero means
	// runs must be strictly consecutive.
	MaxGap int
	// DragHold is how long a left pinch must stay armed before it becomes a
	// drag. Zero or less disables dragging.
	DragHold            time.Duration
	DoubleClickInterval time.Duration
	// ScrollSpeed is the number of lines per ScrollStep of palm travel.
	ScrollSpeed int
	// ScrollStep is the palm y travel, in normalized units, for one scroll step.
	ScrollStep float64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Hold:                DefaultHoldFrames(),
		DragHold:            400 * time.Millisecond,
		DoubleClickInterval: 300 * time.Millisecond,
		ScrollSpeed:         5,
		ScrollStep:          0.02,
	}
}
