package plugin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/lyrapointer/internal/control"
	"github.com/ayusman/lyrapointer/internal/events"
	"github.com/ayusman/lyrapointer/internal/store"
)

type fakeBindings struct {
	mu      sync.Mutex
	byOn    map[string][]*store.Binding
	lookups []string
}

func (f *fakeBindings) ListEnabled(on string) ([]*store.Binding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, on)
	return f.byOn[on], nil
}

func actionEvent(kind control.Kind) events.Event {
	ev := control.ActionEvent{Kind: kind, Timestamp: time.Unix(100, 0)}
	return events.Event{Type: events.TypeAction, Session: "s1", Action: &ev, Timestamp: ev.Timestamp}
}

func transitionEvent(from, to control.State) events.Event {
	tr := control.Transition{From: from, To: to, Timestamp: time.Unix(100, 0)}
	return events.Event{Type: events.TypeTransition, Transition: &tr, Timestamp: tr.Timestamp}
}

func TestTrigger(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
		want string
		ok   bool
	}{
		{"click", actionEvent(control.ClickLeft), "action:click_left", true},
		{"pause", transitionEvent(control.Pointing, control.Paused), "state:paused", true},
		{"session", events.Event{Type: events.TypeSessionStarted}, "", false},
		{"action without payload", events.Event{Type: events.TypeAction}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Trigger(tt.ev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateTrigger(t *testing.T) {
	for _, on := range []string{"action:click_left", "action:pause_toggled", "state:dragging", "state:idle"} {
		assert.NoError(t, ValidateTrigger(on), on)
	}
	for _, on := range []string{"", "click_left", "action:wave", "state:flying", "gesture:fist"} {
		assert.ErrorIs(t, ValidateTrigger(on), ErrInvalidTrigger, on)
	}
}

// recordingPlugin installs a plugin that appends each request to
// requests.log in its directory.
func recordingPlugin(t *testing.T, root string) (*Manager, string) {
	t.Helper()
	dir := filepath.Join(root, "recorder")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	scriptPlugin(t, dir, "recorder", `cat >> requests.log
echo >> requests.log
echo '{"success":true}'
`, "record")
	writeManifest(t, root, "recorder", Manifest{
		Name:       "recorder",
		Executable: "recorder.sh",
		Actions:    []string{"record"},
	})

	m := NewManager(root)
	require.NoError(t, m.Discover())
	return m, filepath.Join(dir, "requests.log")
}

func readRequests(t *testing.T, path string) []Request {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out []Request
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var req Request
		require.NoError(t, json.Unmarshal([]byte(line), &req))
		out = append(out, req)
	}
	return out
}

func TestRunner_ExecutesBindings(t *testing.T) {
	m, logPath := recordingPlugin(t, t.TempDir())
	src := &fakeBindings{byOn: map[string][]*store.Binding{
		"action:click_left": {{
			ID:         "b1",
			On:         "action:click_left",
			PluginName: "recorder",
			ActionName: "record",
			Config:     json.RawMessage(`{"note":"left"}`),
			Enabled:    true,
		}},
	}}

	r := NewRunner(m, NewExecutor(5*time.Second), src, 8)
	r.Start(context.Background())
	defer r.Stop()

	bus := events.NewBus(10)
	bus.Subscribe(r)
	bus.Publish(actionEvent(control.ClickLeft))
	bus.Publish(actionEvent(control.ClickRight))
	bus.Publish(events.Event{Type: events.TypeSessionEnded})

	require.Eventually(t, func() bool { return r.Stats().Executed == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.lookups) == 2
	}, 5*time.Second, 10*time.Millisecond)

	reqs := readRequests(t, logPath)
	require.Len(t, reqs, 1)
	assert.Equal(t, "record", reqs[0].Action)
	assert.Equal(t, "action:click_left", reqs[0].Trigger)
	assert.JSONEq(t, `{"note":"left"}`, string(reqs[0].Config))

	var ev events.Event
	require.NoError(t, json.Unmarshal(reqs[0].Params, &ev))
	assert.Equal(t, events.TypeAction, ev.Type)
	assert.Equal(t, "s1", ev.Session)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Queued, "unbound click_right is not queued")
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Dropped)
}

func TestRunner_MissingPluginCountsAsFailure(t *testing.T) {
	src := &fakeBindings{byOn: map[string][]*store.Binding{
		"state:paused": {{ID: "b1", PluginName: "gone", ActionName: "x", Enabled: true}},
	}}
	r := NewRunner(NewManager(t.TempDir()), NewExecutor(time.Second), src, 0)
	r.Start(context.Background())
	defer r.Stop()

	require.NoError(t, r.Observe(transitionEvent(control.Pointing, control.Paused)))
	require.Eventually(t, func() bool { return r.Stats().Failed == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, r.Stats().Executed)
}

func TestRunner_DropsWhenQueueIsFull(t *testing.T) {
	src := &fakeBindings{byOn: map[string][]*store.Binding{
		"action:click_left": {{ID: "b1", PluginName: "recorder", ActionName: "record", Enabled: true}},
	}}
	r := NewRunner(NewManager(t.TempDir()), NewExecutor(time.Second), src, 1)

	require.NoError(t, r.Observe(actionEvent(control.ClickLeft)))
	err := r.Observe(actionEvent(control.ClickLeft))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.NoError(t, r.Observe(events.Event{Type: events.TypeError}), "untriggered events are ignored")

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Queued)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestRunner_UnboundEventsSkipTheQueue(t *testing.T) {
	src := &fakeBindings{byOn: map[string][]*store.Binding{
		"action:click_left": {{ID: "b1", PluginName: "recorder", ActionName: "record", Enabled: true}},
	}}
	r := NewRunner(NewManager(t.TempDir()), NewExecutor(time.Second), src, 1)

	for i := 0; i < 100; i++ {
		require.NoError(t, r.Observe(actionEvent(control.MoveTo)))
	}
	require.NoError(t, r.Observe(actionEvent(control.ClickLeft)))

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Queued)
	assert.Zero(t, stats.Dropped)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, []string{"action:move_to", "action:click_left"}, src.lookups, "lookups are cached")
}

func TestRunner_SlowActionDoesNotLoseBoundClicks(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "slow")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	scriptPlugin(t, dir, "slow", `cat > /dev/null
sleep 0.3
echo '{"success":true}'
`, "wait")
	writeManifest(t, root, "slow", Manifest{Name: "slow", Executable: "slow.sh", Actions: []string{"wait"}})
	m := NewManager(root)
	require.NoError(t, m.Discover())

	src := &fakeBindings{byOn: map[string][]*store.Binding{
		"action:click_left": {{ID: "b1", On: "action:click_left", PluginName: "slow", ActionName: "wait", Enabled: true}},
	}}
	r := NewRunner(m, NewExecutor(5*time.Second), src, 4)
	r.Start(context.Background())
	defer r.Stop()

	bus := events.NewBus(10)
	bus.Subscribe(r)
	bus.Publish(actionEvent(control.ClickLeft))
	for i := 0; i < 200; i++ {
		bus.Publish(actionEvent(control.MoveTo))
	}
	bus.Publish(actionEvent(control.ClickLeft))

	require.Eventually(t, func() bool { return r.Stats().Executed == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, r.Stats().Dropped)
	assert.Zero(t, r.Stats().Failed)
}

func TestRunner_StopIsIdempotent(t *testing.T) {
	r := NewRunner(NewManager(t.TempDir()), NewExecutor(time.Second), &fakeBindings{}, 1)
	r.Stop()
	r.Start(context.Background())
	r.Start(context.Background())
	r.Stop()
	r.Stop()
}
