// Package hid decodes raw USB HID gamepad reports into canonical events.
// The report layout and calibrated-stick math are grounded on the
// Switch Pro Controller-style standard input report (report ID 0x30):
// buttons packed into three bytes, each stick as two 12-bit values packed
// across three bytes, normalised against per-axis center/min/max
// calibration rather than assumed to be perfectly centred.
package hid

import (
	"bytes"
	"fmt"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/input"
)

func init() {
	input.Register("hid-generic", newGenericDriver)
}

// Calibration holds per-axis center/min/max raw 12-bit stick readings, as
// read from a one-time factory calibration blob (the source material's
// HIDReader.calibration).
type Calibration struct {
	LXCenter, LXMin, LXMax int
	LYCenter, LYMin, LYMax int
	RXCenter, RXMin, RXMax int
	RYCenter, RYMin, RYMax int
	Deadzone                int
}

// DefaultCalibration is a representative Switch Pro Controller calibration,
// used when a device has not been calibrated yet.
var DefaultCalibration = Calibration{
	LXCenter: 2063, LXMin: 294, LXMax: 3735,
	LYCenter: 2161, LYMin: 512, LYMax: 3733,
	RXCenter: 2142, RXMin: 407, RXMax: 3628,
	RYCenter: 2050, RYMin: 368, RYMax: 3854,
	Deadzone: 50,
}

// knownVendors lists VID/PID pairs this driver claims; real deployments
// extend this via configuration rather than recompiling.
var knownVendors = map[uint16]map[uint16]bool{
	0x057E: {0x2009: true}, // Nintendo Switch Pro Controller
}

// GenericDriver decodes the standard-input-report (0x30) HID layout.
type GenericDriver struct {
	addr    event.Addr
	cal     Calibration
	lastRaw []byte
}

func newGenericDriver(desc input.Descriptor, addr event.Addr) (input.Driver, bool, error) {
	if desc.Transport != event.TransportUSB && desc.Transport != event.TransportBT {
		return nil, false, nil
	}
	if pids, ok := knownVendors[desc.VendorID]; !ok || !pids[desc.ProductID] {
		return nil, false, nil
	}
	return &GenericDriver{addr: addr, cal: DefaultCalibration}, true, nil
}

func (d *GenericDriver) Addr() event.Addr { return d.addr }

// OnMount would normally send the device's rumble/IMU/player-light
// enable sequence; HID gamepads covered by this driver stream standard
// reports without any activation handshake.
func (d *GenericDriver) OnMount() error { return nil }

func (d *GenericDriver) OnUnmount() error { return nil }

func (d *GenericDriver) Tick() error { return nil }

// Decode parses one 0x30 standard input report into a canonical Event.
func (d *GenericDriver) Decode(raw []byte) (event.Event, bool, error) {
	if len(raw) < 1 || raw[0] != 0x30 {
		return event.Event{}, false, nil
	}
	if len(raw) < 12 {
		return event.Event{}, false, fmt.Errorf("hid-generic: short report (%d bytes)", len(raw))
	}
	if bytes.Equal(raw, d.lastRaw) {
		return event.Event{}, false, nil
	}
	d.lastRaw = append(d.lastRaw[:0], raw...)

	ev := event.Event{Addr: d.addr, Transport: event.TransportUSB, Kind: event.KindGamepad, Analog: event.NeutralAnalog()}

	b3, b4 := raw[3], raw[4]
	set := func(cond bool, bit buttons.Mask) {
		if cond {
			ev.Buttons |= bit
		}
	}
	set(b3&0x01 != 0, buttons.B2) // B
	set(b3&0x02 != 0, buttons.B1) // A
	set(b3&0x04 != 0, buttons.B4) // Y
	set(b3&0x08 != 0, buttons.B3) // X
	set(b3&0x10 != 0, buttons.R1)
	set(b3&0x20 != 0, buttons.R2)
	set(b3&0x40 != 0, buttons.S2)
	set(b3&0x80 != 0, buttons.R3)
	set(b4&0x01 != 0, buttons.DD)
	set(b4&0x02 != 0, buttons.DR)
	set(b4&0x04 != 0, buttons.DL)
	set(b4&0x08 != 0, buttons.DU)
	set(b4&0x10 != 0, buttons.L1)
	set(b4&0x20 != 0, buttons.L2)
	set(b4&0x40 != 0, buttons.S1)
	set(b4&0x80 != 0, buttons.L3)
	if len(raw) > 5 {
		set(raw[5]&0x01 != 0, buttons.A1) // Home
		set(raw[5]&0x02 != 0, buttons.A2) // Capture
	}

	lxRaw, lyRaw := stickValues(raw, 6)
	rxRaw, ryRaw := stickValues(raw, 9)
	ev.Analog[buttons.LX] = normalizeAxis(lxRaw, d.cal.LXCenter, d.cal.LXMin, d.cal.LXMax, d.cal.Deadzone)
	ev.Analog[buttons.LY] = normalizeAxis(lyRaw, d.cal.LYCenter, d.cal.LYMin, d.cal.LYMax, d.cal.Deadzone)
	ev.Analog[buttons.RX] = normalizeAxis(rxRaw, d.cal.RXCenter, d.cal.RXMin, d.cal.RXMax, d.cal.Deadzone)
	ev.Analog[buttons.RY] = normalizeAxis(ryRaw, d.cal.RYCenter, d.cal.RYMin, d.cal.RYMax, d.cal.Deadzone)
	if ev.Buttons.Has(buttons.L2) {
		ev.Analog[buttons.L2Axis] = 255
	}
	if ev.Buttons.Has(buttons.R2) {
		ev.Analog[buttons.R2Axis] = 255
	}

	return ev, true, nil
}

// stickValues unpacks one 3-byte, two-12-bit-value stick block starting at
// offset: X in the lower 12 bits, Y in the upper 12 bits.
func stickValues(data []byte, offset int) (x, y int) {
	if len(data) < offset+3 {
		return 0, 0
	}
	b0, b1, b2 := data[offset], data[offset+1], data[offset+2]
	x = int(b0) | (int(b1&0x0F) << 8)
	y = (int(b1&0xF0) >> 4) | (int(b2) << 4)
	return x, y
}

// normalizeAxis maps a raw 12-bit stick reading onto the canonical uint8
// axis (0-255, center 128), honouring calibrated center/min/max and a
// dead zone around center.
func normalizeAxis(raw, center, min, max, deadzone int) uint8 {
	delta := raw - center
	if delta > -deadzone && delta < deadzone {
		return buttons.StickCenter
	}
	var norm float64
	if delta < 0 {
		span := center - min
		if span <= 0 {
			span = 1
		}
		norm = float64(delta) / float64(span)
	} else {
		span := max - center
		if span <= 0 {
			span = 1
		}
		norm = float64(delta) / float64(span)
	}
	if norm > 1 {
		norm = 1
	}
	if norm < -1 {
		norm = -1
	}
	return uint8(128 + norm*127)
}
