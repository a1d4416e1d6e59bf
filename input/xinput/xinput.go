// Package xinput decodes XInput-protocol gamepad reports (the same wire
// layout device/xbox360 emits on the output side) back into canonical
// events, for adapters that receive an XInput-compatible controller as
// input -- e.g. a wired Xbox 360 pad plugged into the adapter itself.
package xinput

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/device/xbox360"
	"github.com/Alia5/VIIPER/input"
)

func init() {
	input.Register("xinput", newDriver)
}

// reportSize is the 20-byte XUSB_IN_REPORT layout xbox360.InputState.BuildReport
// produces; as an input driver this package consumes the same layout from
// a locally-attached wired Xbox 360 controller.
const reportSize = 20

type Driver struct {
	addr    event.Addr
	lastRaw []byte
}

func newDriver(desc input.Descriptor, addr event.Addr) (input.Driver, bool, error) {
	if desc.Transport != event.TransportUSB || desc.VendorID != 0x045e {
		return nil, false, nil
	}
	return &Driver{addr: addr}, true, nil
}

func (d *Driver) Addr() event.Addr  { return d.addr }
func (d *Driver) OnMount() error    { return nil }
func (d *Driver) OnUnmount() error  { return nil }
func (d *Driver) Tick() error       { return nil }

func (d *Driver) Decode(raw []byte) (event.Event, bool, error) {
	if len(raw) < reportSize {
		return event.Event{}, false, fmt.Errorf("xinput: short report (%d bytes)", len(raw))
	}
	if bytes.Equal(raw, d.lastRaw) {
		return event.Event{}, false, nil
	}
	d.lastRaw = append(d.lastRaw[:0], raw...)
	// raw[0]=message type, raw[1]=report length (0x14), raw[2:4]=button word (LE).
	btn := binary.LittleEndian.Uint16(raw[2:4])

	ev := event.Event{Addr: d.addr, Transport: event.TransportUSB, Kind: event.KindGamepad, Analog: event.NeutralAnalog()}
	set := func(flag uint16, bit buttons.Mask) {
		if btn&flag != 0 {
			ev.Buttons |= bit
		}
	}
	set(xbox360.ButtonDPadUp, buttons.DU)
	set(xbox360.ButtonDPadDown, buttons.DD)
	set(xbox360.ButtonDPadLeft, buttons.DL)
	set(xbox360.ButtonDPadRight, buttons.DR)
	set(xbox360.ButtonStart, buttons.S2)
	set(xbox360.ButtonBack, buttons.S1)
	set(xbox360.ButtonLThumb, buttons.L3)
	set(xbox360.ButtonRThumb, buttons.R3)
	set(xbox360.ButtonLShoulder, buttons.L1)
	set(xbox360.ButtonRShoulder, buttons.R1)
	set(xbox360.ButtonGuide, buttons.A1)
	set(xbox360.ButtonA, buttons.B1)
	set(xbox360.ButtonB, buttons.B2)
	set(xbox360.ButtonX, buttons.B3)
	set(xbox360.ButtonY, buttons.B4)

	ev.Analog[buttons.L2Axis] = raw[4]
	ev.Analog[buttons.R2Axis] = raw[5]
	ev.Analog[buttons.LX] = signedToCentered(int16(binary.LittleEndian.Uint16(raw[6:8])))
	ev.Analog[buttons.LY] = signedToCentered(-int16(binary.LittleEndian.Uint16(raw[8:10])))
	ev.Analog[buttons.RX] = signedToCentered(int16(binary.LittleEndian.Uint16(raw[10:12])))
	ev.Analog[buttons.RY] = signedToCentered(-int16(binary.LittleEndian.Uint16(raw[12:14])))
	return ev, true, nil
}

// signedToCentered maps an int16 stick axis centred at 0 onto the
// canonical uint8 axis centred at 128.
func signedToCentered(v int16) uint8 {
	return uint8(int32(v)/256 + 128)
}
