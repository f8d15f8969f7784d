package gesture

import (
	"errors"
	"fmt"
)

// Label is the per-frame gesture candidate.
type Label int

const (
	None Label = iota
	Pointer
	PinchClick
	PinchRight
	ScrollReady
	OpenPalm
	Fist
	numLabels
)

var labelNames = [...]string{
	None:        "none",
	Pointer:     "pointer",
	PinchClick:  "pinch_click",
	PinchRight:  "pinch_right",
	ScrollReady: "scroll_ready",
	OpenPalm:    "open_palm",
	Fist:        "fist",
}

// ErrUnknownLabel is returned when a label name is not recognized.
var ErrUnknownLabel = errors.New("unknown gesture label")

func (l Label) String() string {
	if l < 0 || l >= numLabels {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return labelNames[l]
}

// ParseLabel returns the label with the given name.
func ParseLabel(s string) (Label, error) {
	for i, name := range labelNames {
		if name == s {
			return Label(i), nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownLabel, s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Label) UnmarshalText(b []byte) error {
	parsed, err := ParseLabel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Labels returns every label, None first.
func Labels() []Label {
	out := make([]Label, numLabels)
	for i := range out {
		out[i] = Label(i)
	}
	return out
}

// DefaultPriority is the match order used when none is configured. Pinches
// come first so a closing pinch is never read as a fist.
var DefaultPriority = []Label{PinchClick, PinchRight, Fist, OpenPalm, ScrollReady, Pointer}

// Thresholds are the pinch distances, in hand-size units, below which a pinch matches.
type Thresholds struct {
	Click      float64
	RightClick float64
}

// DefaultThresholds returns 0.3 for both pinches.
func DefaultThresholds() Thresholds {
	return Thresholds{Click: 0.3, RightClick: 0.3}
}

// ValidatePriority checks that every entry is a known, distinct, non-None label.
func ValidatePriority(priority []Label) error {
	if len(priority) == 0 {
		return errors.New("priority list is empty")
	}
	seen := make(map[Label]bool, len(priority))
	for _, l := range priority {
		switch {
		case l <= None || l >= numLabels:
			return fmt.Errorf("%w: %v cannot be ranked", ErrUnknownLabel, l)
		case seen[l]:
			return fmt.Errorf("duplicate label %v", l)
		}
		seen[l] = true
	}
	return nil
}

// Classifier maps feature vectors to labels by a priority-ordered match.
// It is stateless and safe for concurrent use.
type Classifier struct {
	priority   []Label
	thresholds Thresholds
}

// NewClassifier creates a classifier. A nil priority selects DefaultPriority.
func NewClassifier(priority []Label, th Thresholds) (*Classifier, error) {
	if priority == nil {
		priority = DefaultPriority
	}
	if err := ValidatePriority(priority); err != nil {
		return nil, err
	}
	return &Classifier{
		priority:   append([]Label(nil), priority...),
		thresholds: th,
	}, nil
}

// Priority returns a copy of the match order.
func (c *Classifier) Priority() []Label {
	return append([]Label(nil), c.priority...)
}

// Classify returns the first label in priority order whose pattern matches,
// or None.
func (c *Classifier) Classify(fv FeatureVector) Label {
	if !fv.Valid {
		return None
	}
	for _, l := range c.priority {
		if c.matches(l, fv) {
			return l
		}
	}
	return None
}

// Matches reports every label whose pattern matches, ignoring priority.
func (c *Classifier) Matches(fv FeatureVector) []Label {
	var out []Label
	if !fv.Valid {
		return out
	}
	for l := Pointer; l < numLabels; l++ {
		if c.matches(l, fv) {
			out = append(out, l)
		}
	}
	return out
}

func (c *Classifier) matches(l Label, fv FeatureVector) bool {
	ext := fv.Extended
	switch l {
	case PinchClick:
		return fv.Distances[ThumbIndex] < c.thresholds.Click
	case PinchRight:
		return fv.Distances[ThumbMiddle] < c.thresholds.RightClick
	case Fist:
		return !ext[Thumb] && fv.ExtendedCount() == 0
	case OpenPalm:
		return ext[Thumb] && fv.ExtendedCount() == 4
	case ScrollReady:
		return ext[Index] && ext[Middle] && !ext[Ring] && !ext[Pinky]
	case Pointer:
		return ext[Index] && !ext[Middle] && !ext[Ring] && !ext[Pinky]
	}
	return false
}
