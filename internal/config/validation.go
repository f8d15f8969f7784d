package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/ayusman/lyrapointer/internal/gesture"
)

// ValidationError is a problem with one field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in a config.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the invalid fields.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Field
	}
	return out
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) floatRange(field string, val, lo, hi float64) {
	if !(val >= lo && val <= hi) {
		v.add(field, "must be between %g and %g, got %g", lo, hi, val)
	}
}

func (v *validator) intRange(field string, val, lo, hi int) {
	if val < lo || val > hi {
		v.add(field, "must be between %d and %d, got %d", lo, hi, val)
	}
}

func (v *validator) positive(field string, val float64) {
	if !(val > 0) || math.IsInf(val, 1) {
		v.add(field, "must be a finite number greater than 0, got %g", val)
	}
}

// Validate checks every field and returns ValidationErrors, or nil.
func (c *Config) Validate() error {
	var v validator

	v.floatRange("sensitivity", c.Sensitivity, 0.1, 5.0)
	v.intRange("double_click_interval_ms", c.DoubleClickIntervalMs, 100, 500)
	v.intRange("drag_hold_ms", c.DragHoldMs, 100, 5000)
	v.intRange("scroll_speed", c.ScrollSpeed, 1, 20)
	v.floatRange("scroll_deadzone", c.ScrollDeadzone, 0.001, 0.5)

	v.positive("smoothing.min_cutoff", c.Smoothing.MinCutoff)
	if b := c.Smoothing.Beta; !(b >= 0) || math.IsInf(b, 1) {
		v.add("smoothing.beta", "must be a finite non-negative number, got %g", b)
	}
	v.positive("smoothing.derivative_cutoff", c.Smoothing.DerivativeCutoff)

	z := c.ControlZone
	v.floatRange("control_zone.x_min", z.XMin, 0, 1)
	v.floatRange("control_zone.x_max", z.XMax, 0, 1)
	v.floatRange("control_zone.y_min", z.YMin, 0, 1)
	v.floatRange("control_zone.y_max", z.YMax, 0, 1)
	if z.XMin >= z.XMax {
		v.add("control_zone.x_min", "must be less than x_max")
	}
	if z.YMin >= z.YMax {
		v.add("control_zone.y_min", "must be less than y_max")
	}

	c.validateGestures(&v)

	v.floatRange("tracking.min_confidence", c.Tracking.MinConfidence, 0, 1)
	if c.Tracking.LostFrames < 1 {
		v.add("tracking.lost_frames", "must be at least 1, got %d", c.Tracking.LostFrames)
	}
	if c.Tracking.FrameTimeout.Duration <= 0 {
		v.add("tracking.frame_timeout", "must be positive, got %s", c.Tracking.FrameTimeout)
	}

	cam := c.Camera
	if cam.Index < 0 {
		v.add("camera.index", "must not be negative, got %d", cam.Index)
	}
	v.intRange("camera.width", cam.Width, 160, 3840)
	v.intRange("camera.height", cam.Height, 120, 2160)
	v.intRange("camera.fps", cam.FPS, 1, 120)
	v.intRange("camera.idle_fps", cam.IdleFPS, 1, 120)
	if cam.IdleFPS > cam.FPS {
		v.add("camera.idle_fps", "must not exceed camera.fps")
	}
	v.floatRange("camera.motion_threshold", cam.MotionThreshold, 0, 100)
	v.floatRange("camera.detection_confidence", cam.DetectionConfidence, 0, 1)

	if len(v.errs) == 0 {
		return nil
	}
	return v.errs
}

func (c *Config) validateGestures(v *validator) {
	g := c.Gestures

	named := []struct {
		name  string
		cfg   GestureConfig
		pinch bool
	}{
		{"pointer", g.Pointer, false},
		{"click", g.Click, true},
		{"right_click", g.RightClick, true},
		{"scroll", g.Scroll, false},
		{"pause", g.Pause, false},
		{"rest", g.Rest, false},
		{"release", g.Release, false},
	}
	for _, n := range named {
		field := "gestures." + n.name
		v.intRange(field+".hold_frames", n.cfg.HoldFrames, 1, 120)
		if n.pinch || n.cfg.Threshold != 0 {
			if !(n.cfg.Threshold > 0 && n.cfg.Threshold <= 1) {
				v.add(field+".threshold", "must be in (0, 1], got %g", n.cfg.Threshold)
			}
		}
	}

	if g.MaxGap < 0 || g.MaxGap > 10 {
		v.add("gestures.max_gap", "must be between 0 and 10, got %d", g.MaxGap)
	}

	if _, err := c.Priority(); err != nil {
		v.add("gestures.priority", "%v", err)
	}
}

// Priority parses the classifier match order.
func (c *Config) Priority() ([]gesture.Label, error) {
	labels := make([]gesture.Label, 0, len(c.Gestures.Priority))
	for _, name := range c.Gestures.Priority {
		l, err := gesture.ParseLabel(name)
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	if err := gesture.ValidatePriority(labels); err != nil {
		return nil, err
	}
	return labels, nil
}
