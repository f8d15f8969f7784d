package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/lyrapointer/internal/control"
	"github.com/ayusman/lyrapointer/internal/events"
	"github.com/ayusman/lyrapointer/internal/store"
)

// DefaultQueueSize bounds the jobs waiting for the runner's worker.
const DefaultQueueSize = 32

// bindingTTL is how long a trigger's binding lookup is reused. New or edited
// bindings take effect within this delay.
const bindingTTL = time.Second

// ErrQueueFull is returned by Observe when a triggered event is dropped.
var ErrQueueFull = errors.New("plugin queue full")

// BindingSource looks up the enabled bindings for a trigger.
// store.BindingRepository implements it.
type BindingSource interface {
	ListEnabled(on string) ([]*store.Binding, error)
}

// Trigger returns the binding trigger for ev: "action:<kind>" for actions and
// "state:<state>" for transitions. Other events do not trigger bindings.
func Trigger(ev events.Event) (string, bool) {
	switch {
	case ev.Type == events.TypeAction && ev.Action != nil:
		return "action:" + ev.Action.Kind.String(), true
	case ev.Type == events.TypeTransition && ev.Transition != nil:
		return "state:" + ev.Transition.To.String(), true
	}
	return "", false
}

// ErrInvalidTrigger is returned by ValidateTrigger.
var ErrInvalidTrigger = errors.New("invalid trigger")

// ValidateTrigger checks that on names an action kind or a control state in
// the form Trigger produces.
func ValidateTrigger(on string) error {
	prefix, name, ok := strings.Cut(on, ":")
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidTrigger, on)
	}
	var err error
	switch prefix {
	case "action":
		_, err = control.ParseKind(name)
	case "state":
		_, err = control.ParseState(name)
	default:
		err = fmt.Errorf("unknown prefix %q", prefix)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	return nil
}

// RunnerStats counts what the runner did with triggered events.
type RunnerStats struct {
	Queued   uint64 `json:"queued"`
	Dropped  uint64 `json:"dropped"`
	Executed uint64 `json:"executed"`
	Failed   uint64 `json:"failed"`
}

type job struct {
	trigger  string
	event    events.Event
	bindings []*store.Binding
}

type cachedBindings struct {
	bindings []*store.Binding
	at       time.Time
}

// Runner is a bus observer that runs bound plugin actions on its own
// goroutine. Only events with enabled bindings are queued. Observe never
// blocks on the worker: when the queue is full the event is dropped.
type Runner struct {
	manager  *Manager
	executor *Executor
	bindings BindingSource
	jobs     chan job
	now      func() time.Time

	cacheMu sync.Mutex
	cache   map[string]cachedBindings

	queued   atomic.Uint64
	dropped  atomic.Uint64
	executed atomic.Uint64
	failed   atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner. A non-positive queueSize means DefaultQueueSize.
func NewRunner(m *Manager, e *Executor, bindings BindingSource, queueSize int) *Runner {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Runner{
		manager:  m,
		executor: e,
		bindings: bindings,
		jobs:     make(chan job, queueSize),
		now:      time.Now,
		cache:    make(map[string]cachedBindings),
	}
}

// Name implements events.Observer.
func (r *Runner) Name() string { return "plugins" }

// Observe implements events.Observer.
func (r *Runner) Observe(ev events.Event) error {
	trigger, ok := Trigger(ev)
	if !ok {
		return nil
	}
	bindings, err := r.lookup(trigger)
	if err != nil {
		return fmt.Errorf("list bindings for %s: %w", trigger, err)
	}
	if len(bindings) == 0 {
		return nil
	}
	select {
	case r.jobs <- job{trigger: trigger, event: ev, bindings: bindings}:
		r.queued.Add(1)
		return nil
	default:
		r.dropped.Add(1)
		return fmt.Errorf("%w: dropped %s", ErrQueueFull, trigger)
	}
}

// lookup returns the enabled bindings for trigger, reusing a recent answer.
func (r *Runner) lookup(trigger string) ([]*store.Binding, error) {
	now := r.now()
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if c, ok := r.cache[trigger]; ok && now.Sub(c.at) < bindingTTL {
		return c.bindings, nil
	}
	bindings, err := r.bindings.ListEnabled(trigger)
	if err != nil {
		return nil, err
	}
	r.cache[trigger] = cachedBindings{bindings: bindings, at: now}
	return bindings, nil
}

// Start launches the worker. It stops when ctx is canceled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.work(ctx, r.done)
}

// Stop stops the worker and waits for the running job to finish. Queued jobs
// are discarded.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Stats returns the runner counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Queued:   r.queued.Load(),
		Dropped:  r.dropped.Load(),
		Executed: r.executed.Load(),
		Failed:   r.failed.Load(),
	}
}

func (r *Runner) work(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.jobs:
			r.run(ctx, j)
		}
	}
}

func (r *Runner) run(ctx context.Context, j job) {
	params, err := json.Marshal(j.event)
	if err != nil {
		log.Warn().Err(err).Str("trigger", j.trigger).Msg("encoding event")
		return
	}

	for _, b := range j.bindings {
		if ctx.Err() != nil {
			return
		}
		if err := r.execute(ctx, b, j.trigger, params); err != nil {
			r.failed.Add(1)
			log.Warn().Err(err).
				Str("binding", b.ID).
				Str("plugin", b.PluginName).
				Str("action", b.ActionName).
				Msg("plugin action failed")
			continue
		}
		r.executed.Add(1)
		log.Debug().Str("binding", b.ID).Str("trigger", j.trigger).Msg("plugin action executed")
	}
}

func (r *Runner) execute(ctx context.Context, b *store.Binding, trigger string, params json.RawMessage) error {
	plugin, err := r.manager.Get(b.PluginName)
	if err != nil {
		return err
	}
	resp, err := r.executor.Execute(ctx, plugin, &Request{
		Action:  b.ActionName,
		Trigger: trigger,
		Config:  b.Config,
		Params:  params,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("plugin reported failure: %s", resp.Error)
	}
	return nil
}
