package pointer

import (
	"fmt"
	"sync"

	"github.com/go-vgo/robotgo"
)

// RobotSink drives the OS pointer through robotgo.
type RobotSink struct {
	// robotgo is not reentrant on every platform.
	mu sync.Mutex
}

// NewRobotSink creates a sink backed by robotgo.
func NewRobotSink() *RobotSink {
	return &RobotSink{}
}

func (r *RobotSink) MoveTo(x, y int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	robotgo.Move(x, y)
	return nil
}

func (r *RobotSink) Press(b Button) error {
	if err := checkButton(b); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := robotgo.Toggle(string(b)); err != nil {
		return fmt.Errorf("press %s: %w", b, err)
	}
	return nil
}

func (r *RobotSink) Release(b Button) error {
	if err := checkButton(b); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := robotgo.Toggle(string(b), "up"); err != nil {
		return fmt.Errorf("release %s: %w", b, err)
	}
	return nil
}

func (r *RobotSink) Click(b Button, count int) error {
	if err := checkButton(b); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case count == 2:
		robotgo.Click(string(b), true)
	case count > 0:
		for i := 0; i < count; i++ {
			robotgo.Click(string(b))
		}
	}
	return nil
}

func (r *RobotSink) Scroll(lines int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	robotgo.Scroll(0, lines)
	return nil
}

// PrimaryScreen returns the main display geometry.
func PrimaryScreen() (Screen, error) {
	w, h := robotgo.GetScreenSize()
	s := Screen{Width: w, Height: h}
	if !s.Valid() {
		return Screen{}, fmt.Errorf("screen size %dx%d is not usable", w, h)
	}
	return s, nil
}
