// Package pointer defines the pointer injection backend and its implementations.
package pointer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Button is a mouse button.
type Button string

const (
	Left  Button = "left"
	Right Button = "right"
)

// ErrUnsupportedButton is returned for a button the backend cannot press.
var ErrUnsupportedButton = errors.New("unsupported button")

// Sink is an OS pointer backend. Every call may fail; failures are not fatal.
type Sink interface {
	MoveTo(x, y int) error
	Press(b Button) error
	Release(b Button) error
	// Click presses and releases b count times.
	Click(b Button, count int) error
	// Scroll scrolls vertically; positive lines scroll up.
	Scroll(lines int) error
}

// Screen is the pixel geometry pointer positions map into.
type Screen struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether the screen has a positive size.
func (s Screen) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

func checkButton(b Button) error {
	if b != Left && b != Right {
		return fmt.Errorf("%w: %q", ErrUnsupportedButton, b)
	}
	return nil
}

// LogSink logs every call instead of moving the pointer. It is used by
// replay and mock runs.
type LogSink struct{}

func (LogSink) MoveTo(x, y int) error {
	log.Debug().Int("x", x).Int("y", y).Msg("pointer move")
	return nil
}

func (LogSink) Press(b Button) error {
	log.Info().Str("button", string(b)).Msg("pointer press")
	return checkButton(b)
}

func (LogSink) Release(b Button) error {
	log.Info().Str("button", string(b)).Msg("pointer release")
	return checkButton(b)
}

func (LogSink) Click(b Button, count int) error {
	log.Info().Str("button", string(b)).Int("count", count).Msg("pointer click")
	return checkButton(b)
}

func (LogSink) Scroll(lines int) error {
	log.Info().Int("lines", lines).Msg("pointer scroll")
	return nil
}

// Call is one recorded MemorySink call.
type Call struct {
	Op     string
	X, Y   int
	Button Button
	Count  int
	Lines  int
}

// MemorySink records calls and tracks which buttons are held. Tests use it
// to assert the exact sink traffic.
type MemorySink struct {
	mu    sync.Mutex
	calls []Call
	down  map[Button]bool
	// Fail, when set, is returned by every call after it is recorded.
	Fail error
}

// NewMemorySink creates an empty recording sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{down: make(map[Button]bool)}
}

func (m *MemorySink) record(c Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	switch c.Op {
	case "press":
		m.down[c.Button] = true
	case "release":
		delete(m.down, c.Button)
	}
	return m.Fail
}

func (m *MemorySink) MoveTo(x, y int) error {
	return m.record(Call{Op: "move", X: x, Y: y})
}

func (m *MemorySink) Press(b Button) error {
	return m.record(Call{Op: "press", Button: b})
}

func (m *MemorySink) Release(b Button) error {
	return m.record(Call{Op: "release", Button: b})
}

func (m *MemorySink) Click(b Button, count int) error {
	return m.record(Call{Op: "click", Button: b, Count: count})
}

func (m *MemorySink) Scroll(lines int) error {
	return m.record(Call{Op: "scroll", Lines: lines})
}

// Calls returns a copy of the recorded calls.
func (m *MemorySink) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Held reports whether b is pressed and not yet released.
func (m *MemorySink) Held(b Button) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.down[b]
}
