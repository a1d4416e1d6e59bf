package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/controller/target"
	"github.com/Alia5/VIIPER/feedback"
	"github.com/Alia5/VIIPER/input"
	"github.com/Alia5/VIIPER/input/native"
	"github.com/Alia5/VIIPER/input/wireless"
	"github.com/Alia5/VIIPER/internal/log"
	"github.com/Alia5/VIIPER/internal/server/api"
	"github.com/Alia5/VIIPER/internal/server/api/handler"
	"github.com/Alia5/VIIPER/internal/server/usb"
	"github.com/Alia5/VIIPER/output"
	"github.com/Alia5/VIIPER/output/hid"
	"github.com/Alia5/VIIPER/player"
	"github.com/Alia5/VIIPER/profile"
	"github.com/Alia5/VIIPER/router"
	"github.com/Alia5/VIIPER/sched"
	"github.com/Alia5/VIIPER/settings"
	pusb "github.com/Alia5/VIIPER/usb"
	"github.com/Alia5/VIIPER/virtualbus"
)

// RunCmd wires the full adapter pipeline: input registry, router, profile
// service, player managers, feedback hub, settings journal, the two-core
// scheduling harness, every registered output sink, and the USB/IP control
// plane a USB_DEVICE bus attaches to.
type RunCmd struct {
	UsbServerConfig usb.ServerConfig `embed:"" prefix:"usb."`
	ApiServerConfig api.ServerConfig `embed:"" prefix:"api."`

	TickPeriod time.Duration `help:"Cooperative scheduler tick period" default:"1ms" env:"VIIPER_TICK_PERIOD"`

	SettingsFile string `help:"Settings journal backing file" default:"viiper-settings.bin" env:"VIIPER_SETTINGS_FILE"`
	ProfilesDir  string `help:"Directory of per-target profile-set YAML files (<target>.yaml); missing files fall back to the identity profile" env:"VIIPER_PROFILES_DIR"`

	MaplePort    int    `help:"Dreamcast Maple Bus port index (0-3) to respond on; negative disables the Maple responder" default:"-1" env:"VIIPER_MAPLE_PORT"`
	NeoGeoPort   string `help:"NeoGeo joystick port device path; empty disables the NeoGeo sink" env:"VIIPER_NEOGEO_PORT"`
	NativePort   string `help:"Native joybus UART device path; empty disables native joybus input" env:"VIIPER_NATIVE_PORT"`
	WirelessAddr string `help:"JOCP UDP listen address; empty disables the wireless input server" default:":4552" env:"VIIPER_JOCP_ADDR"`
}

// targetWiring bundles everything keyed per output.Target that the router,
// profile service and feedback resolver all need a handle on.
type targetWiring struct {
	players *player.Manager
	cfg     router.TargetConfig
}

func (r *RunCmd) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rtr := router.New()
	players := r.buildPlayerManagers(rtr)

	profileCfg := profile.Config{Sets: r.loadProfileSets(logger)}
	profiles := profile.NewService(profileCfg, logger)

	hub := feedback.NewHub(func(t target.Target, p int) (event.Addr, bool) {
		tw, ok := players[t]
		if !ok {
			return event.Addr{}, false
		}
		return tw.players.AddrForSlot(p)
	})

	flash, err := settings.OpenFileFlash(r.SettingsFile)
	if err != nil {
		return fmt.Errorf("adapter: open settings file: %w", err)
	}
	store, err := settings.NewStore(flash)
	if err != nil {
		return fmt.Errorf("adapter: init settings store: %w", err)
	}
	if rec, ok := store.Load(); ok {
		if err := profiles.SetActive(target.USBDevice, int(rec.ActiveProfile)); err != nil {
			logger.Warn("adapter: restore active profile failed", "error", err)
		}
	}

	deps := output.Deps{Router: rtr, Profiles: profiles, Feedback: hub, Logger: logger}

	sinks, err := r.createSinks(deps)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}()

	cooperative := sched.NewCooperative(r.TickPeriod, logger)
	for _, s := range sinks {
		sink := s
		cooperative.Add("sink:"+string(sink.Target()), sink.Task)
	}
	cooperative.Add("settings-tick", store.Tick)

	var hosts []*input.Host
	cleanup, err := r.startInputs(ctx, rtr, hub, logger, players, &hosts)
	if err != nil {
		return err
	}
	defer cleanup()
	cooperative.Add("input-tick", func() error {
		input.TickAll(hosts)
		return nil
	})

	vbus, err := r.attachVirtualBus(sinks)
	if err != nil {
		return err
	}

	usbSrv := usb.New(r.UsbServerConfig, logger, rawLogger)
	if err := usbSrv.AddBus(vbus); err != nil {
		return fmt.Errorf("adapter: add USB_DEVICE bus: %w", err)
	}

	usbErrCh := make(chan error, 1)
	go func() { usbErrCh <- usbSrv.ListenAndServe() }()
	select {
	case err := <-usbErrCh:
		return err
	case <-usbSrv.Ready():
	}

	apiSrv := api.New(usbSrv, r.ApiServerConfig.Addr, r.ApiServerConfig, logger)
	reg := apiSrv.Router()
	reg.Register("ping", handler.Ping())
	reg.Register("bus/list", handler.BusList(usbSrv))
	reg.Register("bus/{id}/list", handler.BusDevicesList(usbSrv))
	reg.Register("profiles/list", handler.ProfilesList(profiles))
	reg.Register("routes/list", handler.RoutesList(rtr))
	reg.Register("settings/get", handler.SettingsGet(store))
	reg.RegisterStream("bus/{busId}/{deviceid}", api.DeviceStreamHandler(usbSrv))
	if err := apiSrv.Start(); err != nil {
		return fmt.Errorf("adapter: start API server: %w", err)
	}
	defer apiSrv.Close()

	realtimeErrCh := r.startRealtimeSinks(ctx, sinks)

	cooperativeErrCh := make(chan error, 1)
	go func() { cooperativeErrCh <- cooperative.Run(ctx) }()

	logger.Info("adapter: running", "usb_addr", usbSrv.Addr(), "api_addr", apiSrv.Addr())
	select {
	case <-ctx.Done():
		store.Save(settings.Record{ActiveProfile: uint8(profiles.ActiveIndex(target.USBDevice))})
		_ = usbSrv.Close()
		<-usbErrCh
		return nil
	case err := <-usbErrCh:
		return err
	case err := <-cooperativeErrCh:
		return err
	case err := <-realtimeErrCh:
		return err
	}
}

// buildPlayerManagers constructs one player.Manager per output target and
// registers it with the router, fixing router.SIMPLE mode for every
// target: slot assignment is delegated entirely to the player manager
// (spec.md §4.3), which is the adapter's default policy absent an explicit
// FANOUT routing table.
func (r *RunCmd) buildPlayerManagers(rtr *router.Router) map[target.Target]targetWiring {
	targets := []target.Target{target.USBDevice, target.Dreamcast, target.NeoGeo}
	out := make(map[target.Target]targetWiring, len(targets))
	for _, t := range targets {
		max := target.Max(t)
		pm := player.New(t, player.FIXED, max)
		cfg := router.TargetConfig{Mode: router.SIMPLE, MergeRule: router.MergeBlend, MaxPlayers: max}
		rtr.Configure(t, cfg)
		rtr.SetPlayerManager(t, pm)
		out[t] = targetWiring{players: pm, cfg: cfg}
	}
	return out
}

func (r *RunCmd) loadProfileSets(logger *slog.Logger) map[target.Target]*profile.Set {
	sets := map[target.Target]*profile.Set{}
	for _, t := range []target.Target{target.USBDevice, target.Dreamcast, target.NeoGeo, target.GameCube, target.XboxOrig, target.XInput} {
		if r.ProfilesDir != "" {
			path := filepath.Join(r.ProfilesDir, string(t)+".yaml")
			if set, err := profile.LoadSet(path); err == nil {
				sets[t] = set
				continue
			} else if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("adapter: profile set failed to load, using identity", "target", t, "error", err)
			}
		}
		sets[t] = &profile.Set{Profiles: []*profile.Profile{profile.Identity()}, Default: 0}
	}
	return sets
}

func (r *RunCmd) createSinks(deps output.Deps) ([]output.Sink, error) {
	names := []string{"xbox360", "dualshock4", "keyboard", "mouse"}
	if r.MaplePort >= 0 {
		names = append(names, "maple")
	}
	if r.NeoGeoPort != "" {
		names = append(names, "neogeo")
	}
	sinks := make([]output.Sink, 0, len(names))
	for _, name := range names {
		cfg := map[string]any{}
		switch name {
		case "maple":
			cfg["port"] = r.MaplePort
		case "neogeo":
			cfg["port"] = r.NeoGeoPort
		}
		s, err := output.Create(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("adapter: create sink %s: %w", name, err)
		}
		if err := s.Init(deps); err != nil {
			return nil, fmt.Errorf("adapter: init sink %s: %w", name, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func (r *RunCmd) attachVirtualBus(sinks []output.Sink) (*virtualbus.VirtualBus, error) {
	vbus := virtualbus.New()
	for _, s := range sinks {
		if s.Target() != target.USBDevice {
			continue
		}
		devs := usbDevicesOf(s)
		for _, d := range devs {
			if _, err := vbus.Add(d); err != nil {
				return nil, fmt.Errorf("adapter: attach device to bus: %w", err)
			}
		}
	}
	return vbus, nil
}

// usbDevicesOf extracts the one or many virtualbus-attachable usb.Device
// values a sink exposes. Gamepad sinks expose up to 4 ports via Device(i);
// keyboard/mouse expose a single Device() -- the asymmetry output/hid's
// sinks were written with, so this type-switches rather than requiring a
// common accessor interface.
func usbDevicesOf(s output.Sink) []pusb.Device {
	switch sink := s.(type) {
	case *hid.Xbox360Sink:
		out := make([]pusb.Device, 0, 4)
		for i := 0; i < 4; i++ {
			if d := sink.Device(i); d != nil {
				out = append(out, d)
			}
		}
		return out
	case *hid.DualShock4Sink:
		out := make([]pusb.Device, 0, 4)
		for i := 0; i < 4; i++ {
			if d := sink.Device(i); d != nil {
				out = append(out, d)
			}
		}
		return out
	case *hid.KeyboardSink:
		return []pusb.Device{sink.Device()}
	case *hid.MouseSink:
		return []pusb.Device{sink.Device()}
	default:
		return nil
	}
}

func (r *RunCmd) startInputs(ctx context.Context, rtr *router.Router, hub *feedback.Hub, logger *slog.Logger, players map[target.Target]targetWiring, hosts *[]*input.Host) (func(), error) {
	var closers []func()

	if r.NativePort != "" {
		port, err := native.OpenPort(r.NativePort)
		if err != nil {
			return nil, fmt.Errorf("adapter: open native joybus port: %w", err)
		}
		addr := event.Addr{Device: event.AddrNativeMin}
		drv, err := input.Probe(input.Descriptor{Transport: event.TransportNative}, addr)
		if err != nil {
			port.Close()
			return nil, fmt.Errorf("adapter: probe native joybus driver: %w", err)
		}
		host := &input.Host{Driver: drv, Router: rtr}
		*hosts = append(*hosts, host)
		errCh := make(chan error, 1)
		go func() {
			errCh <- host.Run(port.ReadFrame)
		}()
		closers = append(closers, func() {
			_ = port.Close()
			<-errCh
		})
	}

	if r.WirelessAddr != "" {
		srv := wireless.NewServer(rtr, hub, logger)
		wctx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe(wctx, r.WirelessAddr) }()
		closers = append(closers, func() {
			cancel()
			<-errCh
		})
	}

	return func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

func (r *RunCmd) startRealtimeSinks(ctx context.Context, sinks []output.Sink) <-chan error {
	errCh := make(chan error, 1)
	var realtime []output.RealtimeSink
	for _, s := range sinks {
		if rs, ok := s.(output.RealtimeSink); ok {
			realtime = append(realtime, rs)
		}
	}
	for _, rs := range realtime {
		sink := rs
		go func() {
			if err := sink.RunRealtime(ctx); err != nil && ctx.Err() == nil {
				select {
				case errCh <- err:
				default:
				}
			}
		}()
	}
	return errCh
}
