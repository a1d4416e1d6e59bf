package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/controller/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRouterConfig = `
routes:
  - src: usb
    dst: XINPUT
  - src: wifi
    dst: DREAMCAST
    hint: 1
targets:
  XINPUT:
    mode: simple
    maxPlayers: 4
  DREAMCAST:
    mode: merge
    mergeRule: blend
    maxPlayers: 4
    mouseToAnalog: true
    mouseDrainPerTick: 4
    mouseAxisX: RX
    mouseAxisY: RY
`

func writeRouterConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "router.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_ParsesRoutesAndTargets(t *testing.T) {
	path := writeRouterConfig(t, sampleRouterConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Routes, 2)
	assert.Equal(t, Route{Src: event.TransportUSB, Dst: target.XInput}, cfg.Routes[0])
	assert.Equal(t, Route{Src: event.TransportWiFi, Dst: target.Dreamcast, Hint: 1}, cfg.Routes[1])

	dc, ok := cfg.Targets[target.Dreamcast]
	require.True(t, ok)
	assert.Equal(t, MERGE, dc.Mode)
	assert.Equal(t, MergeBlend, dc.MergeRule)
	assert.True(t, dc.MouseToAnalog)
	assert.Equal(t, buttons.RX, dc.MouseAxisX)
	assert.Equal(t, buttons.RY, dc.MouseAxisY)
}

func TestConfig_Apply_InstallsRoutesAndConfigsOnRouter(t *testing.T) {
	path := writeRouterConfig(t, sampleRouterConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	r := New()
	cfg.Apply(r)

	r.Submit(event.Event{Addr: event.Addr{Device: 1}, Transport: event.TransportWiFi, Buttons: buttons.B1, Analog: event.NeutralAnalog()})
	ev, ok := r.GetOutput(target.Dreamcast, 0)
	require.True(t, ok)
	assert.True(t, ev.Buttons.Has(buttons.B1))
}

func TestLoadConfig_UnknownModeReturnsError(t *testing.T) {
	path := writeRouterConfig(t, "targets:\n  XINPUT:\n    mode: bogus\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
