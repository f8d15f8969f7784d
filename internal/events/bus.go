// Package events republishes state transitions and pointer actions to
// observers that must not slow down or break the pipeline.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/lyrapointer/internal/control"
)

// Type identifies what an Event carries.
type Type string

const (
	TypeTransition      Type = "transition"
	TypeAction          Type = "action"
	TypeTrackingLost    Type = "tracking_lost"
	TypeSessionStarted  Type = "session_started"
	TypeSessionEnded    Type = "session_ended"
	TypeSettingsChanged Type = "settings_changed"
	TypeError           Type = "error"
)

// Event is one bus notification. Exactly one of Transition and Action is set
// for the matching types.
type Event struct {
	Type       Type                 `json:"type"`
	Session    string               `json:"session,omitempty"`
	Transition *control.Transition  `json:"transition,omitempty"`
	Action     *control.ActionEvent `json:"action,omitempty"`
	Message    string               `json:"message,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// Observer receives bus events. Observe runs on the publisher's goroutine and
// must return quickly; slow work belongs on the observer's own goroutine.
type Observer interface {
	Name() string
	Observe(ev Event) error
}

type funcObserver struct {
	name string
	fn   func(Event) error
}

func (f funcObserver) Name() string           { return f.name }
func (f funcObserver) Observe(ev Event) error { return f.fn(ev) }

// ObserverFunc adapts a function to an Observer.
func ObserverFunc(name string, fn func(Event) error) Observer {
	return funcObserver{name: name, fn: fn}
}

type subscription struct {
	id    uint64
	obs   Observer
	types map[Type]bool
}

func (s subscription) wants(t Type) bool {
	return len(s.types) == 0 || s.types[t]
}

// DefaultHistory is the number of events the bus remembers.
const DefaultHistory = 100

// Bus delivers events to observers in registration order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64

	histMu  sync.Mutex
	history []Event
	histPos int
	histLen int

	published atomic.Uint64
	failures  atomic.Uint64
}

// NewBus creates a bus that keeps the last historySize events.
func NewBus(historySize int) *Bus {
	if historySize < 1 {
		historySize = DefaultHistory
	}
	return &Bus{history: make([]Event, historySize)}
}

// Subscribe registers obs for the given types, or for every type when none
// are given. The returned function removes the subscription.
func (b *Bus) Subscribe(obs Observer, types ...Type) func() {
	sub := subscription{obs: obs}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(sub.id) })
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every interested observer. A failing or panicking
// observer is logged and skipped; the others still run.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.remember(ev)
	b.published.Add(1)

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.wants(ev.Type) {
			continue
		}
		if err := deliver(s.obs, ev); err != nil {
			b.failures.Add(1)
			log.Warn().Err(err).Str("observer", s.obs.Name()).Str("type", string(ev.Type)).Msg("observer failed")
		}
	}
}

func deliver(obs Observer, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return obs.Observe(ev)
}

// PublishOutput publishes every transition and action of a machine step, in
// the order the machine produced them: transitions first.
func (b *Bus) PublishOutput(session string, out control.Output) {
	for i := range out.Transitions {
		tr := out.Transitions[i]
		b.Publish(Event{Type: TypeTransition, Session: session, Transition: &tr, Timestamp: tr.Timestamp})
	}
	for i := range out.Events {
		ev := out.Events[i]
		b.Publish(Event{Type: TypeAction, Session: session, Action: &ev, Timestamp: ev.Timestamp})
	}
}

func (b *Bus) remember(ev Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history[b.histPos] = ev
	b.histPos = (b.histPos + 1) % len(b.history)
	if b.histLen < len(b.history) {
		b.histLen++
	}
}

// History returns up to n of the most recent events, oldest first. n <= 0
// returns everything remembered.
func (b *Bus) History(n int) []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	if n <= 0 || n > b.histLen {
		n = b.histLen
	}
	out := make([]Event, n)
	start := (b.histPos - n + len(b.history)) % len(b.history)
	for i := 0; i < n; i++ {
		out[i] = b.history[(start+i)%len(b.history)]
	}
	return out
}

// Observers returns the registered observer names in delivery order.
func (b *Bus) Observers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, len(b.subs))
	for i, s := range b.subs {
		names[i] = s.obs.Name()
	}
	return names
}

// Published returns the number of events published.
func (b *Bus) Published() uint64 { return b.published.Load() }

// Failures returns the number of failed observer deliveries.
func (b *Bus) Failures() uint64 { return b.failures.Load() }
