// Package native reads controllers attached over the native joybus
// single-wire bus (spec.md §6, addresses 0xE0..0xEF): N64 and GameCube
// pads wired directly to a UART pin. The line speed is not set here; the
// port keeps whatever rate the device is already configured for.
// The serial line discipline is configured through golang.org/x/sys/unix
// termios, the same low-level path SPEC_FULL.md's ambient stack specifies
// for any raw-serial native transport.
package native

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/input"
)

func init() {
	input.Register("joybus-native", newDriver)
}

const (
	// pollCommand is joybus's "read controller state" command byte, issued
	// by the console side; this adapter emulates that side of the bus when
	// acting as a console-facing input source.
	pollCommand = 0x01
	// n64ReportSize is the 4-byte N64 controller state reply: a 16-bit
	// button word followed by signed 8-bit X/Y stick axes.
	n64ReportSize = 4
)

// Port opens and configures a joybus UART line for raw, 8-bit, no-parity
// communication, following the termios pattern used to configure any other
// raw serial device on Linux. Line speed and stop bits are left unchanged.
type Port struct {
	f *os.File
}

// OpenPort opens path (e.g. "/dev/ttyAMA1") and puts it into raw mode; it
// does not change the line's bit rate.
func OpenPort(path string) (*Port, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("joybus: open %s: %w", path, err)
	}
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("joybus: get termios: %w", err)
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("joybus: set termios: %w", err)
	}
	return &Port{f: f}, nil
}

// ReadFrame blocks for one bus cycle's controller-state reply.
func (p *Port) ReadFrame() ([]byte, error) {
	buf := make([]byte, n64ReportSize)
	if _, err := readFull(p.f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Port) Close() error { return p.f.Close() }

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Driver decodes one joybus N64-style controller-state reply into a
// canonical event.
type Driver struct {
	addr    event.Addr
	lastRaw []byte
}

func newDriver(desc input.Descriptor, addr event.Addr) (input.Driver, bool, error) {
	if desc.Transport != event.TransportNative {
		return nil, false, nil
	}
	return &Driver{addr: addr}, true, nil
}

func (d *Driver) Addr() event.Addr { return d.addr }
func (d *Driver) OnMount() error   { return nil }
func (d *Driver) OnUnmount() error { return nil }
func (d *Driver) Tick() error      { return nil }

// Decode parses joybus's 4-byte N64 state reply: button word (LE u16),
// stick X (i8), stick Y (i8).
func (d *Driver) Decode(raw []byte) (event.Event, bool, error) {
	if len(raw) < n64ReportSize {
		return event.Event{}, false, fmt.Errorf("joybus: short frame (%d bytes)", len(raw))
	}
	if bytes.Equal(raw, d.lastRaw) {
		return event.Event{}, false, nil
	}
	d.lastRaw = append(d.lastRaw[:0], raw...)
	btn := uint16(raw[0]) | uint16(raw[1])<<8
	stickX := int8(raw[2])
	stickY := int8(raw[3])

	ev := event.Event{Addr: d.addr, Transport: event.TransportNative, Kind: event.KindGamepad, Analog: event.NeutralAnalog()}
	set := func(flag uint16, bit buttons.Mask) {
		if btn&flag != 0 {
			ev.Buttons |= bit
		}
	}
	set(0x0001, buttons.S2)  // Start
	set(0x0002, buttons.S1)  // Z (mapped onto the trigger-family aux slot)
	set(0x0004, buttons.B1)  // A
	set(0x0008, buttons.B2)  // B
	set(0x0010, buttons.DU)
	set(0x0020, buttons.DD)
	set(0x0040, buttons.DL)
	set(0x0080, buttons.DR)
	set(0x2000, buttons.L1)
	set(0x1000, buttons.R1)
	set(0x0800, buttons.A1) // C-up mapped onto the auxiliary slot
	set(0x0400, buttons.A2) // C-down

	ev.Analog[buttons.LX] = uint8(int32(stickX) + 128)
	ev.Analog[buttons.LY] = uint8(int32(stickY) + 128)
	return ev, true, nil
}
