// Package pipeline runs landmark frames through smoothing, classification
// and the control state machine, and hands the resulting events to the
// dispatcher and the event bus.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/lyrapointer/internal/config"
	"github.com/ayusman/lyrapointer/internal/control"
	"github.com/ayusman/lyrapointer/internal/detector"
	"github.com/ayusman/lyrapointer/internal/dispatch"
	"github.com/ayusman/lyrapointer/internal/events"
	"github.com/ayusman/lyrapointer/internal/smoothing"
	"github.com/ayusman/lyrapointer/internal/store"
)

const (
	// DefaultMailboxSize is the capacity of the acquisition mailbox.
	DefaultMailboxSize = 2
	// DispatchQueueSize bounds the ordered queue in front of the dispatcher.
	DispatchQueueSize = 256
	// jitterWindow is the number of frames the jitter monitor keeps.
	jitterWindow = 120
)

// ErrRunning is returned when Run is called on a runner that is already running.
var ErrRunning = errors.New("runner already running")

// SessionLog persists session records. store.SessionRepository implements it.
type SessionLog interface {
	Create(s *store.Session) error
	Finish(s *store.Session) error
}

// tick is one acquisition result.
type tick struct {
	frame detector.HandFrame
	ok    bool
	err   error
	at    time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithBus publishes to bus instead of a private one.
func WithBus(bus *events.Bus) Option {
	return func(r *Runner) { r.bus = bus }
}

// WithSessionLog persists sessions to log.
func WithSessionLog(l SessionLog) Option {
	return func(r *Runner) { r.sessions = l }
}

// WithMailbox sets the acquisition mailbox capacity and policy.
func WithMailbox(capacity int, policy Policy) Option {
	return func(r *Runner) { r.mailbox = NewMailbox[tick](capacity, policy) }
}

// StartPaused makes the first session start in the Paused state.
func StartPaused() Option {
	return func(r *Runner) { r.carryPaused = true }
}

// Runner is the stepping scheduler. One goroutine acquires frames into a
// mailbox, the Run goroutine processes them one at a time, and a third
// dispatches events in order so slow injection never stalls acquisition.
type Runner struct {
	provider   detector.Provider
	dispatcher *dispatch.Dispatcher
	bus        *events.Bus
	sessions   SessionLog
	mailbox    *Mailbox[tick]
	settings   atomic.Pointer[Settings]
	toggles    chan time.Time
	queue      chan control.ActionEvent
	running    atomic.Bool
	now        func() time.Time

	jitter  *smoothing.JitterMonitor
	latency *latencies

	frames        atomic.Uint64
	processed     atomic.Uint64
	discarded     atomic.Uint64
	lowConfidence atomic.Uint64
	misses        atomic.Uint64
	sessionCount  atomic.Uint64

	// Owned by the Run goroutine.
	session        *Session
	lastTS         time.Time
	appliedVersion uint64

	// settingsMu orders snapshot installs so every one gets its own version.
	settingsMu sync.Mutex

	mu          sync.RWMutex
	state       control.State
	sessionID   string
	carryPaused bool
}

// NewRunner creates a runner reading from p and dispatching through d.
func NewRunner(p detector.Provider, d *dispatch.Dispatcher, st *Settings, opts ...Option) *Runner {
	r := &Runner{
		provider:   p,
		dispatcher: d,
		toggles:    make(chan time.Time, 4),
		now:        time.Now,
		jitter:     smoothing.NewJitterMonitor(jitterWindow),
		latency:    newLatencies(latencyWindow),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bus == nil {
		r.bus = events.NewBus(events.DefaultHistory)
	}
	if r.mailbox == nil {
		r.mailbox = NewMailbox[tick](DefaultMailboxSize, DropOldest)
	}
	if r.carryPaused {
		r.state = control.Paused
	}
	if st == nil {
		st = DefaultSettings()
	}
	r.SetSettings(st)
	d.SetMapping(st.Mapping)
	r.appliedVersion = st.Version
	return r
}

// Bus returns the bus the runner publishes to.
func (r *Runner) Bus() *events.Bus {
	return r.bus
}

// Settings returns the current snapshot.
func (r *Runner) Settings() *Settings {
	return r.settings.Load()
}

// SetSettings installs a new snapshot. It takes effect at the next frame.
func (r *Runner) SetSettings(st *Settings) {
	r.settingsMu.Lock()
	defer r.settingsMu.Unlock()

	next := *st
	if prev := r.settings.Load(); prev != nil {
		next.Version = prev.Version + 1
	}
	r.settings.Store(&next)
}

// Apply builds a snapshot from cfg and installs it.
func (r *Runner) Apply(cfg *config.Config) error {
	st, err := SettingsFrom(cfg)
	if err != nil {
		return err
	}
	r.SetSettings(st)
	log.Debug().Uint64("version", r.settings.Load().Version).Msg("settings applied")
	return nil
}

// TogglePause asks the processing loop to toggle pause. It reports false if
// the request could not be queued.
func (r *Runner) TogglePause() bool {
	select {
	case r.toggles <- r.now():
		return true
	default:
		return false
	}
}

// State returns the current control state.
func (r *Runner) State() control.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Paused reports whether pointer control is paused, including between
// sessions.
func (r *Runner) Paused() bool {
	return r.State() == control.Paused
}

// Stats returns the runner counters.
func (r *Runner) Stats() Stats {
	r.mu.RLock()
	state, session := r.state, r.sessionID
	r.mu.RUnlock()

	return Stats{
		State:           state.String(),
		Session:         session,
		Paused:          state == control.Paused,
		SettingsVersion: r.settings.Load().Version,
		Frames:          r.frames.Load(),
		Processed:       r.processed.Load(),
		Discarded:       r.discarded.Load(),
		LowConfidence:   r.lowConfidence.Load(),
		Misses:          r.misses.Load(),
		Sessions:        r.sessionCount.Load(),
		Mailbox:         r.mailbox.Stats(),
		Dispatch:        r.dispatcher.Stats(),
		Latency:         r.latency.report(),
		Jitter:          r.jitter.Report(),
	}
}

// Run processes frames until ctx is canceled or the provider reports
// ErrEndOfStream. On the way out it forces tracking lost, so a held button
// is released, and drains the dispatch queue.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer r.running.Store(false)

	acqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.acquire(acqCtx)
	}()

	r.queue = make(chan control.ActionEvent, DispatchQueueSize)
	dispatched := make(chan struct{})
	go r.dispatchLoop(r.queue, dispatched)

	log.Info().Msg("pipeline started")
	r.loop(ctx)

	cancel()
	r.trackingLost(r.now(), "shutdown")
	close(r.queue)
	<-dispatched
	wg.Wait()
	log.Info().Uint64("frames", r.frames.Load()).Msg("pipeline stopped")
	return nil
}

func (r *Runner) acquire(ctx context.Context) {
	defer r.mailbox.Close()
	for ctx.Err() == nil {
		timeout := r.settings.Load().FrameTimeout
		frame, ok, err := r.provider.NextFrame(ctx, timeout)
		if errors.Is(err, detector.ErrEndOfStream) {
			log.Info().Msg("landmark stream ended")
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !r.mailbox.Put(ctx, tick{frame: frame, ok: ok, err: err, at: r.now()}) {
			return
		}
	}
}

func (r *Runner) loop(ctx context.Context) {
	timer := time.NewTimer(r.settings.Load().FrameTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ts := <-r.toggles:
			r.togglePause(ts)
			continue
		case t, ok := <-r.mailbox.Receive():
			if !ok {
				return
			}
			r.handle(t)
		case <-timer.C:
			r.miss(r.now(), "frame timeout")
		}
		timer.Reset(r.settings.Load().FrameTimeout)
	}
}

func (r *Runner) handle(t tick) {
	switch {
	case t.err != nil:
		log.Debug().Err(t.err).Msg("discarding frame")
		r.miss(t.at, "malformed frame")
		return
	case !t.ok:
		r.miss(t.at, "no hand")
		return
	}

	frame := t.frame
	r.frames.Add(1)
	if frame.Timestamp.Before(r.lastTS) {
		r.discarded.Add(1)
		return
	}
	r.lastTS = frame.Timestamp

	st := r.settings.Load()
	if st.Version != r.appliedVersion {
		r.dispatcher.SetMapping(st.Mapping)
		r.appliedVersion = st.Version
	}

	if frame.Confidence < st.MinConfidence {
		r.lowConfidence.Add(1)
		if r.session == nil {
			return
		}
		r.session.apply(st)
		out, lost := r.session.stepLow(st, frame.Timestamp)
		if lost {
			r.trackingLost(frame.Timestamp, "low confidence")
			return
		}
		r.emit(out)
		return
	}

	start := time.Now()
	if r.session == nil {
		r.beginSession(st, frame.Timestamp)
	}
	r.session.apply(st)
	smoothed, _, out := r.session.step(st, frame)
	r.jitter.Observe(frame, smoothed)
	r.emit(out)
	r.processed.Add(1)
	r.latency.observe(time.Since(start))
}

func (r *Runner) miss(ts time.Time, reason string) {
	r.misses.Add(1)
	r.trackingLost(ts, reason)
}

func (r *Runner) beginSession(st *Settings, ts time.Time) {
	r.mu.Lock()
	paused := r.carryPaused
	r.mu.Unlock()

	s := newSession(st, paused, r.mailbox.Dropped(), ts)
	r.session = s
	r.sessionCount.Add(1)

	if r.sessions != nil {
		if err := r.sessions.Create(&store.Session{ID: s.ID, StartedAt: ts}); err != nil {
			log.Warn().Err(err).Str("session", s.ID).Msg("recording session start")
		}
	}

	r.setStatus(s.State(), s.ID)
	log.Info().Str("session", s.ID).Bool("paused", paused).Msg("session started")
	r.bus.Publish(events.Event{Type: events.TypeSessionStarted, Session: s.ID, Timestamp: ts})
}

// trackingLost ends the current session. A session that was paused leaves
// the runner paused so the next one starts paused.
func (r *Runner) trackingLost(ts time.Time, reason string) {
	s := r.session
	if s == nil {
		return
	}
	endState := s.State()

	out := s.machine.TrackingLost(ts)
	r.emit(out)
	r.session = nil

	r.mu.Lock()
	r.carryPaused = endState == control.Paused
	r.mu.Unlock()
	if endState == control.Paused {
		r.setStatus(control.Paused, "")
	} else {
		r.setStatus(control.Idle, "")
	}

	if r.sessions != nil {
		if err := r.sessions.Finish(s.Record(ts, r.mailbox.Dropped(), endState)); err != nil {
			log.Warn().Err(err).Str("session", s.ID).Msg("recording session end")
		}
	}

	log.Info().Str("session", s.ID).Str("reason", reason).Stringer("state", endState).Msg("tracking lost")
	r.bus.Publish(events.Event{Type: events.TypeTrackingLost, Session: s.ID, Message: reason, Timestamp: ts})
	r.bus.Publish(events.Event{Type: events.TypeSessionEnded, Session: s.ID, Timestamp: ts})
}

func (r *Runner) togglePause(ts time.Time) {
	if r.session != nil {
		r.emit(r.session.machine.TogglePause(ts))
		return
	}

	r.mu.Lock()
	r.carryPaused = !r.carryPaused
	paused := r.carryPaused
	r.mu.Unlock()

	from, to := control.Idle, control.Paused
	if !paused {
		from, to = control.Paused, control.Idle
	}
	r.setStatus(to, "")
	r.publish("", control.Output{
		Transitions: []control.Transition{{From: from, To: to, Timestamp: ts}},
		Events:      []control.ActionEvent{{Kind: control.PauseToggled, Paused: paused, Timestamp: ts}},
	})
}

func (r *Runner) emit(out control.Output) {
	if out.Empty() {
		return
	}
	s := r.session
	s.count(out)
	r.setStatus(s.State(), s.ID)
	r.publish(s.ID, out)
}

func (r *Runner) publish(session string, out control.Output) {
	r.bus.PublishOutput(session, out)
	for _, ev := range out.Events {
		r.queue <- ev
	}
}

func (r *Runner) dispatchLoop(queue <-chan control.ActionEvent, done chan<- struct{}) {
	defer close(done)
	for ev := range queue {
		if err := r.dispatcher.Dispatch(ev); err != nil {
			r.bus.Publish(events.Event{Type: events.TypeError, Message: err.Error(), Timestamp: ev.Timestamp})
		}
	}
}

func (r *Runner) setStatus(state control.State, session string) {
	r.mu.Lock()
	r.state = state
	r.sessionID = session
	r.mu.Unlock()
}
