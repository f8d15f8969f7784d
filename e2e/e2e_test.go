package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
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
	"github.com/ayusman/lyrapointer/internal/pipeline"
	"github.com/ayusman/lyrapointer/internal/plugin"
	"github.com/ayusman/lyrapointer/internal/pointer"
	"github.com/ayusman/lyrapointer/internal/recording"
	"github.com/ayusman/lyrapointer/internal/server"
	"github.com/ayusman/lyrapointer/internal/store"
)

var screen = pointer.Screen{Width: 1920, Height: 1080}

// env is a store, plugin set, bus and HTTP API wired the way the app wires them.
type env struct {
	store   *store.Store
	plugins *plugin.Manager
	runner  *plugin.Runner
	bus     *events.Bus
	ts      *httptest.Server
	logPath string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell plugins are not supported on Windows")
	}
	root := t.TempDir()

	s, err := store.New(filepath.Join(root, "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pluginDir := filepath.Join(root, "plugins")
	logPath := installRecorder(t, pluginDir)
	m := plugin.NewManager(pluginDir)
	require.NoError(t, m.Discover())

	bus := events.NewBus(events.DefaultHistory)
	pr := plugin.NewRunner(m, plugin.NewExecutor(5*time.Second), s.Bindings(), plugin.DefaultQueueSize)
	bus.Subscribe(pr, events.TypeAction, events.TypeTransition)
	ctx, cancel := context.WithCancel(context.Background())
	pr.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pr.Stop()
	})

	srv := server.New(server.Config{Store: s, Plugins: m, PluginRunner: pr, Bus: bus})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	return &env{store: s, plugins: m, runner: pr, bus: bus, ts: ts, logPath: logPath}
}

// installRecorder writes a plugin that appends every request it receives to
// requests.log.
func installRecorder(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, "recorder")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	manifest := `{
  "name": "recorder",
  "version": "1.0.0",
  "executable": "recorder.sh",
  "actions": ["record"],
  "configSchema": {
    "type": "object",
    "properties": {"note": {"type": "string"}},
    "required": ["note"]
  }
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte(manifest), 0o644))
	script := "#!/bin/sh\ncat >> requests.log\necho >> requests.log\necho '{\"success\":true}'\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recorder.sh"), []byte(script), 0o755))
	return filepath.Join(dir, "requests.log")
}

func (e *env) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := e.ts.Client().Post(e.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *env) getJSON(t *testing.T, path string, v any) {
	t.Helper()
	resp, err := e.ts.Client().Get(e.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (e *env) requests(t *testing.T) []plugin.Request {
	t.Helper()
	data, err := os.ReadFile(e.logPath)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	var out []plugin.Request
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var req plugin.Request
		require.NoError(t, json.Unmarshal([]byte(line), &req))
		out = append(out, req)
	}
	return out
}

// crispSettings nearly disables smoothing so scripted poses classify from the
// first frame.
func crispSettings(t *testing.T) *pipeline.Settings {
	t.Helper()
	cfg := config.Default()
	cfg.Smoothing.MinCutoff = 1000
	cfg.Tracking.FrameTimeout = config.Duration{Duration: 2 * time.Second}
	st, err := pipeline.SettingsFrom(cfg)
	require.NoError(t, err)
	return st
}

func loadScript(t *testing.T, name string) *detector.Script {
	t.Helper()
	s, err := detector.LoadScript(filepath.Join("..", "testdata", "scripts", name))
	require.NoError(t, err)
	return s
}

// runPipeline drives p to the end of its stream and returns the sink.
func (e *env) runPipeline(t *testing.T, p detector.Provider) (*pipeline.Runner, *pointer.MemorySink) {
	t.Helper()
	st := crispSettings(t)
	sink := pointer.NewMemorySink()
	r := pipeline.NewRunner(p, dispatch.New(sink, screen, st.Mapping), st,
		pipeline.WithBus(e.bus),
		pipeline.WithSessionLog(e.store.Sessions()),
		pipeline.WithMailbox(1, pipeline.Block),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))
	require.NoError(t, ctx.Err(), "runner should stop at end of stream")
	return r, sink
}

func ops(sink *pointer.MemorySink, keep ...string) []string {
	want := make(map[string]bool, len(keep))
	for _, k := range keep {
		want[k] = true
	}
	var out []string
	for _, c := range sink.Calls() {
		if want[c.Op] {
			out = append(out, c.Op)
		}
	}
	return out
}

func TestE2E_ClickTriggersBoundPlugin(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	e := newEnv(t)

	resp := e.post(t, "/api/bindings", `{"on": "action:click_left", "plugin_name": "recorder", "action_name": "record", "config": {"note": "clicked"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, sink := e.runPipeline(t, loadScript(t, "click.yaml").Provider(time.Unix(1000, 0)))
	assert.Equal(t, []string{"click"}, ops(sink, "click", "press", "release"))

	require.Eventually(t, func() bool { return len(e.requests(t)) == 1 }, 5*time.Second, 20*time.Millisecond)
	req := e.requests(t)[0]
	assert.Equal(t, "record", req.Action)
	assert.Equal(t, "action:click_left", req.Trigger)
	assert.JSONEq(t, `{"note": "clicked"}`, string(req.Config))

	var params events.Event
	require.NoError(t, json.Unmarshal(req.Params, &params))
	require.NotNil(t, params.Action)
	assert.Equal(t, control.ClickLeft, params.Action.Kind)

	var sessions struct {
		Sessions []store.Session `json:"sessions"`
	}
	e.getJSON(t, "/api/sessions", &sessions)
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, uint64(1), sessions.Sessions[0].Actions["click_left"])
	assert.Equal(t, int64(15), sessions.Sessions[0].Frames)
}

func TestE2E_BindingRejectsInvalidConfig(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	e := newEnv(t)

	tests := map[string]string{
		"schema":  `{"on": "action:click_left", "plugin_name": "recorder", "action_name": "record", "config": {}}`,
		"trigger": `{"on": "gesture:wave", "plugin_name": "recorder", "action_name": "record", "config": {"note": "x"}}`,
		"plugin":  `{"on": "state:paused", "plugin_name": "volume", "action_name": "up"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			resp := e.post(t, "/api/bindings", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	bindings, err := e.store.Bindings().List()
	require.NoError(t, err)
	assert.Empty(t, bindings)
}

func TestE2E_DragReleasedOnTrackingLoss(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	e := newEnv(t)

	resp := e.post(t, "/api/bindings", `{"on": "state:dragging", "plugin_name": "recorder", "action_name": "record", "config": {"note": "drag"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	r, sink := e.runPipeline(t, loadScript(t, "drag.yaml").Provider(time.Unix(2000, 0)))

	if diff := cmp.Diff([]string{"press", "release"}, ops(sink, "click", "press", "release")); diff != "" {
		t.Errorf("button ops mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, sink.Held(pointer.Left))
	assert.Equal(t, uint64(2), r.Stats().Sessions)

	require.Eventually(t, func() bool { return len(e.requests(t)) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "state:dragging", e.requests(t)[0].Trigger)
}

func TestE2E_PauseCarriesAcrossSessions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	e := newEnv(t)

	r, sink := e.runPipeline(t, loadScript(t, "pause.yaml").Provider(time.Unix(3000, 0)))
	assert.Empty(t, sink.Calls(), "nothing reaches the pointer while paused")
	assert.True(t, r.Paused())

	var sessions struct {
		Sessions []store.Session `json:"sessions"`
	}
	e.getJSON(t, "/api/sessions", &sessions)
	require.Len(t, sessions.Sessions, 2)
	for _, s := range sessions.Sessions {
		assert.Equal(t, "paused", s.EndState)
	}
}

func TestE2E_RecordAndReplay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	e := newEnv(t)

	rec, err := recording.Start(e.store.Recordings(), "click take", "")
	require.NoError(t, err)
	tap := recording.NewTap(loadScript(t, "click.yaml").Provider(time.Now()), rec)
	_, live := e.runPipeline(t, tap)
	require.NoError(t, tap.Close())

	var listed struct {
		Recordings []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			FrameCount int    `json:"frame_count"`
		} `json:"recordings"`
	}
	e.getJSON(t, "/api/recordings", &listed)
	require.Len(t, listed.Recordings, 1)
	assert.Equal(t, "click take", listed.Recordings[0].Name)
	assert.Equal(t, 16, listed.Recordings[0].FrameCount)

	player, err := recording.Load(e.store.Recordings(), rec.ID(), recording.Immediate())
	require.NoError(t, err)
	_, replayed := e.runPipeline(t, player)

	if diff := cmp.Diff(live.Calls(), replayed.Calls()); diff != "" {
		t.Errorf("replay diverged from the live run (-live +replay):\n%s", diff)
	}
}
