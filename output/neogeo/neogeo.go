// Package neogeo implements the NeoGeo direct-wired output target: a pure
// digital joystick port (4-way stick + 4 buttons + start/select) wired
// straight to the console's DB15 pinout with no handshake protocol at
// all, making it the simplest of the real-time sinks. It is grounded on
// input/native's termios raw-serial setup (the physical transport is the
// same class of bit-banged GPIO line) and on the teacher's fixed-wiring
// device sinks for the "no negotiation, just hold the line state" shape.
package neogeo

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/target"
	"github.com/Alia5/VIIPER/output"
)

func init() {
	output.Register("neogeo", newSink)
}

// fastScanPeriod is the "NeoGeo fast-scan" real-time worker's drive
// interval (spec.md §5 "Core B ... NeoGeo fast-scan"): the console
// samples the port continuously with no clock of its own, so the
// adapter must refresh the line state well inside a single video frame.
const fastScanPeriod = 500 * time.Microsecond

// Port opens and configures a direct-wired NeoGeo joystick port's UART
// line for raw output, reusing the same termios raw-mode recipe
// input/native.OpenPort uses for its read side.
type Port struct {
	f *os.File
}

// OpenPort puts path into raw, unbuffered write mode.
func OpenPort(path string) (*Port, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("neogeo: open %s: %w", path, err)
	}
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("neogeo: get termios: %w", err)
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("neogeo: set termios: %w", err)
	}
	return &Port{f: f}, nil
}

func (p *Port) writeState(b byte) error {
	_, err := p.f.Write([]byte{b})
	return err
}

func (p *Port) Close() error { return p.f.Close() }

// Sink drives a single NeoGeo port (the console has no concept of
// multiple logical players on one connector; spec.md §6 "max_players" is
// 1 for this target).
type Sink struct {
	port *Port
	deps output.Deps

	lastState atomic32 // last line byte written, for Task's change-only write path
}

// atomic32 is a tiny last-value cache; NeoGeo's fast-scan worker and the
// cooperative Task both touch it, but only Task writes so a plain field
// protected by the cooperative-single-threaded property (spec.md §5
// "Shared resources") would do -- this keeps the write visible to the
// real-time worker without a mutex in its hot path regardless.
type atomic32 struct{ v uint32 }

func (a *atomic32) Store(x uint32) { atomic.StoreUint32(&a.v, x) }
func (a *atomic32) Load() uint32   { return atomic.LoadUint32(&a.v) }

func newSink(cfg map[string]any) (output.Sink, error) {
	path, _ := cfg["port"].(string)
	if path == "" {
		path = "/dev/ttyNeoGeo0"
	}
	p, err := OpenPort(path)
	if err != nil {
		return nil, err
	}
	return &Sink{port: p}, nil
}

func (s *Sink) Target() target.Target { return target.NeoGeo }

func (s *Sink) Init(deps output.Deps) error {
	s.deps = deps
	return nil
}

// Task pulls the router's current output for player 0 (NeoGeo's single
// port) and latches the resulting active-low digital state, same as
// every other Sink (spec.md §4.5 "pull ... push a wire-native report").
// The real-time worker (RunRealtime) then continuously re-asserts
// whatever Task last stored, since the bus has no clock edge of its own
// to synchronise a single write against.
func (s *Sink) Task() error {
	if s.deps.Router == nil {
		return nil
	}
	ev, ok := s.deps.Router.GetOutput(target.NeoGeo, 0)
	if !ok {
		return nil
	}
	res := ev.Buttons
	analog := ev.Analog
	if s.deps.Profiles != nil {
		if applied, err := s.deps.Profiles.Apply(target.NeoGeo, 0, ev.Buttons, ev.Analog); err == nil {
			res = applied.Buttons
			analog = applied.Analog
		}
	}
	s.lastState.Store(uint32(encodeLineState(res, analog)))
	return nil
}

func (s *Sink) Close() error { return s.port.Close() }

// RunRealtime continuously re-writes the last latched state to the
// wire at fastScanPeriod, the "NeoGeo fast-scan" real-time worker
// spec.md §5 names explicitly alongside the Maple decode loop.
func (s *Sink) RunRealtime(ctx context.Context) error {
	ticker := time.NewTicker(fastScanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.port.writeState(byte(s.lastState.Load())); err != nil {
				return fmt.Errorf("neogeo: line write: %w", err)
			}
		}
	}
}

// encodeLineState packs the canonical event into the DB15 joystick
// port's active-low byte: bit cleared means "line pulled low / button
// held". Bits 0-3 are the four directions, 4-7 the A/B/C/D buttons;
// Start/Select ride a separate pin pair not modelled here (spec.md's
// out-of-scope per-board pin maps). Direction comes from the D-pad
// bits, falling back to the left stick's deadzone-thresholded sign on
// pads that only report analog.
func encodeLineState(b buttons.Mask, analog [buttons.NumAxes]uint8) byte {
	const deadzone = 24
	var line byte = 0xFF

	clear := func(bit buttons.Mask, pin byte) {
		if b.Has(bit) {
			line &^= pin
		}
	}
	clear(buttons.B1, 0x10) // A
	clear(buttons.B2, 0x20) // B
	clear(buttons.B3, 0x40) // C
	clear(buttons.B4, 0x80) // D

	lx := int(analog[buttons.LX]) - int(buttons.StickCenter)
	ly := int(analog[buttons.LY]) - int(buttons.StickCenter)
	if b.Has(buttons.DL) || lx < -deadzone {
		line &^= 0x01
	}
	if b.Has(buttons.DR) || lx > deadzone {
		line &^= 0x02
	}
	if b.Has(buttons.DU) || ly < -deadzone {
		line &^= 0x04
	}
	if b.Has(buttons.DD) || ly > deadzone {
		line &^= 0x08
	}
	return line
}
