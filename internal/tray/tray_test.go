package tray

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTray_Defaults(t *testing.T) {
	tr := New()
	assert.True(t, tr.IsEnabled())
	assert.Equal(t, "idle", tr.State())
}

func TestTray_ToggleRunsCallback(t *testing.T) {
	tr := New()

	var got []bool
	tr.OnToggle(func(enabled bool) { got = append(got, enabled) })

	tr.handleToggle()
	tr.handleToggle()

	assert.Equal(t, []bool{false, true}, got)
	assert.True(t, tr.IsEnabled())
}

func TestTray_SetEnabledSkipsCallback(t *testing.T) {
	tr := New()
	called := false
	tr.OnToggle(func(bool) { called = true })

	tr.SetEnabled(false)

	assert.False(t, tr.IsEnabled())
	assert.False(t, called)
}

func TestTray_SetState(t *testing.T) {
	tr := New()
	tr.SetState("dragging")
	assert.Equal(t, "dragging", tr.State())
}

func TestTray_SettingsCallback(t *testing.T) {
	tr := New()
	opened := 0
	tr.OnSettings(func() { opened++ })

	tr.handleSettings()
	assert.Equal(t, 1, opened)
}

func TestTitles(t *testing.T) {
	assert.Equal(t, "● Enabled", toggleTitle(true))
	assert.Equal(t, "○ Disabled", toggleTitle(false))
	assert.Equal(t, "State: idle", stateTitle(""))
	assert.Equal(t, "State: paused", stateTitle("paused"))
}
