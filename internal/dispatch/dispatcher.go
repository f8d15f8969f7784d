// Package dispatch turns control events into pointer sink calls.
package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/lyrapointer/internal/control"
	"github.com/ayusman/lyrapointer/internal/pointer"
)

// ErrSink matches every SinkError with errors.Is.
var ErrSink = errors.New("pointer sink failed")

// SinkError is a failed pointer call.
type SinkError struct {
	Kind control.Kind
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSink, e.Kind, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

func (e *SinkError) Is(target error) bool { return target == ErrSink }

// Stats counts dispatched events.
type Stats struct {
	Dispatched uint64            `json:"dispatched"`
	Failed     uint64            `json:"failed"`
	ByKind     map[string]uint64 `json:"by_kind"`
}

// Dispatcher makes exactly one sink call per event, in arrival order.
// Dispatch is called from a single goroutine; the mapping, screen and
// stats may be used from others.
type Dispatcher struct {
	sink    pointer.Sink
	mapping atomic.Pointer[Mapping]
	screen  atomic.Pointer[pointer.Screen]

	dispatched atomic.Uint64
	failed     atomic.Uint64

	mu     sync.Mutex
	byKind map[control.Kind]uint64
}

// New creates a dispatcher.
func New(sink pointer.Sink, screen pointer.Screen, m Mapping) *Dispatcher {
	d := &Dispatcher{
		sink:   sink,
		byKind: make(map[control.Kind]uint64),
	}
	d.SetMapping(m)
	d.SetScreen(screen)
	return d
}

// SetMapping replaces the position mapping. It applies to the next event.
func (d *Dispatcher) SetMapping(m Mapping) {
	d.mapping.Store(&m)
}

// Mapping returns the active mapping.
func (d *Dispatcher) Mapping() Mapping {
	return *d.mapping.Load()
}

// SetScreen replaces the screen geometry.
func (d *Dispatcher) SetScreen(s pointer.Screen) {
	d.screen.Store(&s)
}

// Screen returns the active screen geometry.
func (d *Dispatcher) Screen() pointer.Screen {
	return *d.screen.Load()
}

// Dispatch performs the sink call for ev. A sink failure is logged and
// returned as a *SinkError; the caller continues with the next event.
func (d *Dispatcher) Dispatch(ev control.ActionEvent) error {
	d.count(ev.Kind)

	var err error
	switch ev.Kind {
	case control.MoveTo, control.DragMove:
		x, y := d.Mapping().Pixel(ev.Position, d.Screen())
		err = d.sink.MoveTo(x, y)
	case control.ClickLeft:
		err = d.sink.Click(pointer.Left, 1)
	case control.ClickRight:
		err = d.sink.Click(pointer.Right, 1)
	case control.DoubleClick:
		err = d.sink.Click(pointer.Left, 2)
	case control.DragStart:
		err = d.sink.Press(pointer.Left)
	case control.DragEnd:
		err = d.sink.Release(pointer.Left)
	case control.ScrollBy:
		err = d.sink.Scroll(ev.Delta)
	case control.PauseToggled:
		log.Info().Bool("paused", ev.Paused).Msg("pointer control toggled")
	default:
		err = fmt.Errorf("unknown event kind %d", int(ev.Kind))
	}

	if err != nil {
		d.failed.Add(1)
		serr := &SinkError{Kind: ev.Kind, Err: err}
		log.Warn().Err(err).Str("kind", ev.Kind.String()).Msg("pointer action dropped")
		return serr
	}
	return nil
}

func (d *Dispatcher) count(k control.Kind) {
	d.dispatched.Add(1)
	d.mu.Lock()
	d.byKind[k]++
	d.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	byKind := make(map[string]uint64, len(d.byKind))
	for k, n := range d.byKind {
		byKind[k.String()] = n
	}
	return Stats{
		Dispatched: d.dispatched.Load(),
		Failed:     d.failed.Load(),
		ByKind:     byKind,
	}
}
