package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/lyrapointer/internal/config"
	"github.com/ayusman/lyrapointer/internal/control"
	"github.com/ayusman/lyrapointer/internal/detector"
	"github.com/ayusman/lyrapointer/internal/dispatch"
	"github.com/ayusman/lyrapointer/internal/events"
	"github.com/ayusman/lyrapointer/internal/pointer"
	"github.com/ayusman/lyrapointer/internal/store"
)

var testScreen = pointer.Screen{X: 0, Y: 0, Width: 1921, Height: 1081}

// script builds provider steps. Each entry is a preset name, "gap" for a
// timeout, or "low:<preset>" for a frame below the confidence floor.
// Frames are spaced step apart starting at base.
func script(t *testing.T, base time.Time, step time.Duration, entries ...string) []detector.Step {
	t.Helper()
	var steps []detector.Step
	ts := base
	for _, e := range entries {
		if e == "gap" {
			steps = append(steps, detector.Step{Gap: true})
			continue
		}
		low := false
		if len(e) > 4 && e[:4] == "low:" {
			low, e = true, e[4:]
		}
		f, ok := detector.Pose(e)
		require.True(t, ok, "unknown pose %q", e)
		f.Timestamp = ts
		if low {
			f.Confidence = 0.1
		}
		steps = append(steps, detector.Step{Frame: f})
		ts = ts.Add(step)
	}
	return steps
}

func repeat(name string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = name
	}
	return out
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// crispSettings nearly disables smoothing so presets classify from the
// first frame.
func crispSettings(t *testing.T) *Settings {
	t.Helper()
	cfg := config.Default()
	cfg.Smoothing.MinCutoff = 1000
	cfg.Tracking.FrameTimeout = config.Duration{Duration: 2 * time.Second}
	st, err := SettingsFrom(cfg)
	require.NoError(t, err)
	return st
}

type fakeSessionLog struct {
	mu       sync.Mutex
	created  []*store.Session
	finished []*store.Session
}

func (f *fakeSessionLog) Create(s *store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, s)
	return nil
}

func (f *fakeSessionLog) Finish(s *store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, s)
	return nil
}

type harness struct {
	runner *Runner
	sink   *pointer.MemorySink
	log    *fakeSessionLog

	mu     sync.Mutex
	events []events.Event
}

func newHarness(t *testing.T, p detector.Provider, st *Settings, opts ...Option) *harness {
	t.Helper()
	h := &harness{sink: pointer.NewMemorySink(), log: &fakeSessionLog{}}
	d := dispatch.New(h.sink, testScreen, st.Mapping)
	opts = append([]Option{WithMailbox(1, Block), WithSessionLog(h.log)}, opts...)
	h.runner = NewRunner(p, d, st, opts...)
	h.runner.Bus().Subscribe(events.ObserverFunc("collect", func(ev events.Event) error {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
		return nil
	}))
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.runner.Run(ctx))
	require.NoError(t, ctx.Err(), "runner should stop at end of stream")
}

func (h *harness) path() []control.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	var states []control.State
	for _, ev := range h.events {
		if ev.Type != events.TypeTransition {
			continue
		}
		if len(states) == 0 {
			states = append(states, ev.Transition.From)
		}
		states = append(states, ev.Transition.To)
	}
	return states
}

func (h *harness) ofType(typ events.Type) []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []events.Event
	for _, ev := range h.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (h *harness) calls(op string) []pointer.Call {
	var out []pointer.Call
	for _, c := range h.sink.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func TestRunner_PinchClick(t *testing.T) {
	base := time.Unix(1000, 0)
	steps := script(t, base, 33*time.Millisecond, concat(
		repeat("pointer", 5),
		repeat("pinch", 5),
		repeat("pointer", 5),
		[]string{"gap"},
	)...)
	h := newHarness(t, detector.NewScriptedProvider(steps...), crispSettings(t))
	h.run(t)

	want := []control.State{control.Idle, control.Pointing, control.ClickArmed, control.Pointing, control.Idle}
	if diff := cmp.Diff(want, h.path()); diff != "" {
		t.Errorf("state path mismatch (-want +got):\n%s", diff)
	}

	clicks := h.calls("click")
	require.Len(t, clicks, 1)
	assert.Equal(t, pointer.Left, clicks[0].Button)
	assert.Equal(t, 1, clicks[0].Count)
	assert.Len(t, h.calls("move"), 4, "moves from the first pointer run only")
	assert.Empty(t, h.calls("press"))

	stats := h.runner.Stats()
	assert.Equal(t, uint64(15), stats.Frames)
	assert.Equal(t, uint64(15), stats.Processed)
	assert.Equal(t, uint64(1), stats.Sessions)
	assert.Equal(t, 15, stats.Latency.Samples)
	assert.Equal(t, uint64(1), stats.Dispatch.ByKind["click_left"])
	assert.Equal(t, control.Idle.String(), stats.State)

	require.Len(t, h.log.created, 1)
	require.Len(t, h.log.finished, 1)
	rec := h.log.finished[0]
	assert.Equal(t, h.log.created[0].ID, rec.ID)
	assert.Equal(t, int64(15), rec.Frames)
	assert.Equal(t, uint64(1), rec.Actions["click_left"])
	assert.Equal(t, "pointing", rec.EndState)

	lost := h.ofType(events.TypeTrackingLost)
	require.Len(t, lost, 1)
	assert.Equal(t, "no hand", lost[0].Message)
}

func TestRunner_DragReleasedOnTrackingLoss(t *testing.T) {
	base := time.Unix(2000, 0)
	steps := script(t, base, 100*time.Millisecond, concat(
		repeat("pointer", 3),
		repeat("pinch", 8),
		[]string{"gap"},
		repeat("pointer", 3),
	)...)
	h := newHarness(t, detector.NewScriptedProvider(steps...), crispSettings(t))
	h.run(t)

	assert.Len(t, h.calls("press"), 1)
	assert.Len(t, h.calls("release"), 1)
	assert.False(t, h.sink.Held(pointer.Left))
	assert.Empty(t, h.calls("click"), "a drag is not also a click")
	assert.Equal(t, uint64(2), h.runner.Stats().Sessions)
}

func TestRunner_ShutdownReleasesDrag(t *testing.T) {
	base := time.Unix(3000, 0)
	steps := script(t, base, 100*time.Millisecond, concat(
		repeat("pointer", 3),
		repeat("pinch", 8),
	)...)
	h := newHarness(t, detector.NewScriptedProvider(steps...), crispSettings(t))
	h.run(t)

	require.Len(t, h.calls("press"), 1)
	require.Len(t, h.calls("release"), 1)
	assert.False(t, h.sink.Held(pointer.Left))

	lost := h.ofType(events.TypeTrackingLost)
	require.Len(t, lost, 1)
	assert.Equal(t, "shutdown", lost[0].Message)
	assert.Equal(t, "dragging", h.log.finished[0].EndState)
}

func TestRunner_PauseSurvivesTrackingLoss(t *testing.T) {
	base := time.Unix(4000, 0)
	steps := script(t, base, 33*time.Millisecond, concat(
		repeat("open_palm", 10),
		[]string{"gap"},
		repeat("pointer", 5),
	)...)
	h := newHarness(t, detector.NewScriptedProvider(steps...), crispSettings(t))
	h.run(t)

	assert.Empty(t, h.sink.Calls(), "nothing reaches the pointer while paused")
	toggles := h.ofType(events.TypeAction)
	require.Len(t, toggles, 1)
	assert.Equal(t, control.PauseToggled, toggles[0].Action.Kind)
	assert.True(t, toggles[0].Action.Paused)

	assert.True(t, h.runner.Paused())
	assert.Equal(t, uint64(2), h.runner.Stats().Sessions)
	require.Len(t, h.log.finished, 2)
	assert.Equal(t, "paused", h.log.finished[1].EndState, "second session started paused")
}

func TestRunner_LowConfidenceLosesTracking(t *testing.T) {
	base := time.Unix(5000, 0)
	steps := script(t, base, 33*time.Millisecond, concat(
		repeat("pointer", 3),
		repeat("low:pointer", 5),
	)...)
	h := newHarness(t, detector.NewScriptedProvider(steps...), crispSettings(t))
	h.run(t)

	lost := h.ofType(events.TypeTrackingLost)
	require.Len(t, lost, 1)
	assert.Equal(t, "low confidence", lost[0].Message)
	assert.Equal(t, uint64(5), h.runner.Stats().LowConfidence)
	assert.Len(t, h.calls("move"), 2)
}

func TestRunner_DiscardsOutOfOrderFrames(t *testing.T) {
	base := time.Unix(6000, 0)
	steps := script(t, base, 33*time.Millisecond, repeat("pointer", 4)...)
	steps[2].Frame.Timestamp = base.Add(-time.Second)

	h := newHarness(t, detector.NewScriptedProvider(steps...), crispSettings(t))
	h.run(t)

	stats := h.runner.Stats()
	assert.Equal(t, uint64(1), stats.Discarded)
	assert.Equal(t, uint64(3), stats.Processed)
}

func TestRunner_MalformedFrameIsAMiss(t *testing.T) {
	base := time.Unix(7000, 0)
	steps := script(t, base, 33*time.Millisecond, repeat("pointer", 3)...)
	steps = append(steps, detector.Step{Err: detector.ErrMalformedFrame})

	h := newHarness(t, detector.NewScriptedProvider(steps...), crispSettings(t))
	h.run(t)

	lost := h.ofType(events.TypeTrackingLost)
	require.Len(t, lost, 1)
	assert.Equal(t, "malformed frame", lost[0].Message)
	assert.Equal(t, uint64(1), h.runner.Stats().Misses)
}

func TestRunner_SinkErrorsDoNotStopTheRunner(t *testing.T) {
	base := time.Unix(8000, 0)
	steps := script(t, base, 33*time.Millisecond, repeat("pointer", 6)...)

	h := newHarness(t, detector.NewScriptedProvider(steps...), crispSettings(t))
	h.sink.Fail = assert.AnError
	h.run(t)

	assert.Equal(t, uint64(6), h.runner.Stats().Processed)
	assert.Len(t, h.ofType(events.TypeError), 5)
	assert.Equal(t, uint64(5), h.runner.Stats().Dispatch.Failed)
}

// chanProvider delivers frames pushed by the test and times out otherwise.
type chanProvider struct {
	frames chan detector.HandFrame
}

func (p *chanProvider) NextFrame(ctx context.Context, timeout time.Duration) (detector.HandFrame, bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return detector.HandFrame{}, false, ctx.Err()
	case f := <-p.frames:
		return f, true, nil
	case <-t.C:
		return detector.HandFrame{}, false, nil
	}
}

func (p *chanProvider) Close() error { return nil }

func startLive(t *testing.T, st *Settings, opts ...Option) (*harness, *chanProvider, func()) {
	t.Helper()
	p := &chanProvider{frames: make(chan detector.HandFrame)}
	h := newHarness(t, p, st, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.runner.Run(ctx) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("runner did not stop")
		}
	}
	return h, p, stop
}

func TestRunner_TogglePauseBetweenSessions(t *testing.T) {
	h, p, stop := startLive(t, crispSettings(t))

	require.True(t, h.runner.TogglePause())
	require.Eventually(t, h.runner.Paused, 2*time.Second, 5*time.Millisecond)

	base := time.Now()
	for i := 0; i < 4; i++ {
		f := detector.PointerLandmarks()
		f.Timestamp = base.Add(time.Duration(i) * 33 * time.Millisecond)
		p.frames <- f
	}
	require.Eventually(t, func() bool { return h.runner.Stats().Processed == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, control.Paused, h.runner.State())

	require.True(t, h.runner.TogglePause())
	require.Eventually(t, func() bool { return !h.runner.Paused() }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Empty(t, h.calls("move"))
	toggles := h.ofType(events.TypeAction)
	require.Len(t, toggles, 2)
	assert.True(t, toggles[0].Action.Paused)
	assert.False(t, toggles[1].Action.Paused)
	assert.Empty(t, toggles[0].Session, "toggled before any session")
}

func TestRunner_StartPaused(t *testing.T) {
	h, p, stop := startLive(t, crispSettings(t), StartPaused())
	assert.True(t, h.runner.Paused())

	f := detector.PointerLandmarks()
	f.Timestamp = time.Now()
	p.frames <- f
	require.Eventually(t, func() bool { return h.runner.Stats().Sessions == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.True(t, h.runner.Paused())
	assert.Empty(t, h.sink.Calls())
}

func TestRunner_ApplyAtFrameBoundary(t *testing.T) {
	st := crispSettings(t)
	h, p, stop := startLive(t, st)
	defer stop()

	cfg := config.Default()
	cfg.Sensitivity = 3
	cfg.Mirror = false
	require.NoError(t, h.runner.Apply(cfg))
	assert.Equal(t, st.Version+1, h.runner.Settings().Version)
	assert.Equal(t, 1.5, h.runner.dispatcher.Mapping().Sensitivity, "not applied before a frame")

	f := detector.PointerLandmarks()
	f.Timestamp = time.Now()
	p.frames <- f
	require.Eventually(t, func() bool {
		return h.runner.dispatcher.Mapping().Sensitivity == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.runner.dispatcher.Mapping().Mirror)

	bad := config.Default()
	bad.Gestures.Priority = []string{"nope"}
	assert.Error(t, h.runner.Apply(bad))
}

func TestRunner_ConcurrentSetSettings(t *testing.T) {
	st := crispSettings(t)
	r := NewRunner(detector.NewScriptedProvider(), dispatch.New(pointer.NewMemorySink(), testScreen, st.Mapping), st)
	start := r.Settings().Version

	const writers, perWriter = 8, 500
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				r.SetSettings(st)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, start+writers*perWriter, r.Settings().Version)
}

func TestRunner_RunTwice(t *testing.T) {
	h, _, stop := startLive(t, crispSettings(t))
	defer stop()

	require.Eventually(t, h.runner.running.Load, time.Second, time.Millisecond)
	assert.ErrorIs(t, h.runner.Run(context.Background()), ErrRunning)
}

func TestMailbox_DropOldest(t *testing.T) {
	m := NewMailbox[int](2, DropOldest)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.True(t, m.Put(ctx, i))
	}
	m.Close()

	var got []int
	for v := range m.Receive() {
		got = append(got, v)
	}
	assert.Equal(t, []int{4, 5}, got)

	stats := m.Stats()
	assert.Equal(t, uint64(3), stats.Dropped)
	assert.Equal(t, uint64(5), stats.Accepted)
	assert.Equal(t, "drop_oldest", stats.Policy)
}

func TestMailbox_Block(t *testing.T) {
	m := NewMailbox[int](1, Block)
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, m.Put(ctx, 1))

	done := make(chan bool)
	go func() { done <- m.Put(ctx, 2) }()

	select {
	case <-done:
		t.Fatal("Put should block on a full mailbox")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 1, <-m.Receive())
	assert.True(t, <-done)
	assert.Equal(t, 2, <-m.Receive())

	cancel()
	require.True(t, m.Put(context.Background(), 3))
	assert.False(t, m.Put(ctx, 4), "canceled put on a full mailbox")
	assert.Zero(t, m.Dropped())
}

func TestSettingsFrom(t *testing.T) {
	cfg := config.Default()
	cfg.DragHoldMs = 600
	cfg.ScrollDeadzone = 0.05
	cfg.Gestures.Priority = []string{"pointer", "pinch_click"}
	cfg.Gestures.Click.Threshold = 0.2

	st, err := SettingsFrom(cfg)
	require.NoError(t, err)
	assert.Equal(t, 600*time.Millisecond, st.Machine.DragHold)
	assert.Equal(t, 0.05, st.Machine.ScrollStep)
	assert.Equal(t, 10, st.Machine.Hold.Pause)
	assert.Equal(t, 200*time.Millisecond, st.FrameTimeout)
	assert.Len(t, st.Classifier.Priority(), 2)
	assert.Equal(t, dispatch.Zone{XMin: 0.15, XMax: 0.85, YMin: 0.15, YMax: 0.85}, st.Mapping.Zone)

	assert.NotNil(t, DefaultSettings().Classifier)
}
