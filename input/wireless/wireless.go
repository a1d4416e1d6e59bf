// Package wireless implements the JOCP (JOystick Control Protocol) UDP
// input channel and TCP output-command channel (spec.md §6). The read
// loop follows the same fixed-size-struct-over-a-stream shape as
// device/dualshock4's handler.go StreamHandler, except the wire format and
// direction are JOCP's rather than the DualShock4 custom c2s encoding, and
// decoding lands on the canonical event.Event instead of a device-specific
// InputState.
package wireless

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/input"
)

const (
	magic   uint16 = 0x4A50
	version uint8  = 0x01

	headerSize      = 12
	inputPayload    = 64
	totalInputFrame = headerSize + inputPayload // 76

	msgTypeInput    uint8 = 0x01
	msgTypeKeepalive uint8 = 0x02

	cmdRumble    uint8 = 0x01
	cmdRGBLED    uint8 = 0x02
	cmdPlayerLED uint8 = 0x03

	// outputCommandInterval is the minimum spacing between output commands
	// sent to one controller over the TCP control channel.
	outputCommandInterval = 50 * time.Millisecond
)

func init() {
	input.Register("jocp-wireless", newDriver)
}

// Header is the 12-byte little-endian JOCP frame header shared by both the
// UDP input channel and the TCP control channel.
type Header struct {
	Magic       uint16
	Version     uint8
	MsgType     uint8
	Seq         uint16
	Flags       uint16
	TimestampUS uint32
}

func (h Header) marshal(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], h.Magic)
	b[2] = h.Version
	b[3] = h.MsgType
	binary.LittleEndian.PutUint16(b[4:6], h.Seq)
	binary.LittleEndian.PutUint16(b[6:8], h.Flags)
	binary.LittleEndian.PutUint32(b[8:12], h.TimestampUS)
}

func unmarshalHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, fmt.Errorf("jocp: short header (%d bytes)", len(b))
	}
	h := Header{
		Magic:       binary.LittleEndian.Uint16(b[0:2]),
		Version:     b[2],
		MsgType:     b[3],
		Seq:         binary.LittleEndian.Uint16(b[4:6]),
		Flags:       binary.LittleEndian.Uint16(b[6:8]),
		TimestampUS: binary.LittleEndian.Uint32(b[8:12]),
	}
	if h.Magic != magic {
		return Header{}, fmt.Errorf("jocp: bad magic %#04x", h.Magic)
	}
	return h, nil
}

// Driver decodes one JOCP controller's UDP input stream into canonical
// events. A Driver instance is bound to one controller_id / source
// address by the UDP listener's demux.
type Driver struct {
	addr        event.Addr
	lastPayload []byte
}

func newDriver(desc input.Descriptor, addr event.Addr) (input.Driver, bool, error) {
	if desc.Transport != event.TransportWiFi {
		return nil, false, nil
	}
	return &Driver{addr: addr}, true, nil
}

func (d *Driver) Addr() event.Addr { return d.addr }
func (d *Driver) OnMount() error   { return nil }
func (d *Driver) OnUnmount() error { return nil }
func (d *Driver) Tick() error      { return nil }

// Decode parses one 76-byte UDP datagram: the 12-byte header plus the
// 64-byte INPUT payload. Non-INPUT messages (keepalives) decode with
// ok=false.
func (d *Driver) Decode(raw []byte) (event.Event, bool, error) {
	h, err := unmarshalHeader(raw)
	if err != nil {
		return event.Event{}, false, err
	}
	if h.MsgType != msgTypeInput {
		return event.Event{}, false, nil
	}
	if len(raw) < totalInputFrame {
		return event.Event{}, false, fmt.Errorf("jocp: short input frame (%d bytes)", len(raw))
	}
	p := raw[headerSize:totalInputFrame]
	// The 12-byte header carries a per-packet sequence number and
	// timestamp that always change, so identical-controller-state
	// detection compares the INPUT payload alone, not the full datagram
	// (spec.md §4.1 "identical back-to-back reports are filtered").
	if bytes.Equal(p, d.lastPayload) {
		return event.Event{}, false, nil
	}
	d.lastPayload = append(d.lastPayload[:0], p...)

	ev := event.Event{Addr: d.addr, Transport: event.TransportWiFi, Kind: event.KindGamepad, Analog: event.NeutralAnalog()}
	wireButtons := binary.LittleEndian.Uint32(p[0:4])
	ev.Buttons = decodeButtons(wireButtons)

	lx := int16(binary.LittleEndian.Uint16(p[4:6]))
	ly := int16(binary.LittleEndian.Uint16(p[6:8]))
	rx := int16(binary.LittleEndian.Uint16(p[8:10]))
	ry := int16(binary.LittleEndian.Uint16(p[10:12]))
	lt := binary.LittleEndian.Uint16(p[12:14])
	rt := binary.LittleEndian.Uint16(p[14:16])

	ev.Analog[buttons.LX] = signedToCentered(lx)
	ev.Analog[buttons.LY] = signedToCentered(ly)
	ev.Analog[buttons.RX] = signedToCentered(rx)
	ev.Analog[buttons.RY] = signedToCentered(ry)
	ev.Analog[buttons.L2Axis] = uint8(lt >> 8)
	ev.Analog[buttons.R2Axis] = uint8(rt >> 8)

	return ev, true, nil
}

// decodeButtons maps JOCP's wire button word onto the canonical mask. JOCP
// reuses the same bit ordering as buttons.All, so the word is a direct
// pass-through once masked to the defined bits.
func decodeButtons(wire uint32) buttons.Mask {
	var m buttons.Mask
	for _, bit := range buttons.All {
		if wire&uint32(bit) != 0 {
			m |= bit
		}
	}
	return m
}

func signedToCentered(v int16) uint8 {
	return uint8(int32(v)/256 + 128)
}

// OutputCommand encodes a rumble, RGB LED, or player-LED command for the
// TCP control channel. Sending is rate-limited by the caller to one
// command per outputCommandInterval per controller (spec.md §6).
type OutputCommand struct {
	Header  Header
	CmdType uint8
	Payload []byte // 6 bytes for rumble, 3 for RGB LED, 1 for player LED
}

func (c OutputCommand) Marshal() ([]byte, error) {
	switch c.CmdType {
	case cmdRumble:
		if len(c.Payload) != 6 {
			return nil, fmt.Errorf("jocp: rumble payload must be 6 bytes, got %d", len(c.Payload))
		}
	case cmdRGBLED:
		if len(c.Payload) != 3 {
			return nil, fmt.Errorf("jocp: RGB LED payload must be 3 bytes, got %d", len(c.Payload))
		}
	case cmdPlayerLED:
		if len(c.Payload) != 1 {
			return nil, fmt.Errorf("jocp: player LED payload must be 1 byte, got %d", len(c.Payload))
		}
	default:
		return nil, fmt.Errorf("jocp: unknown command type %#02x", c.CmdType)
	}
	c.Header.Magic = magic
	c.Header.Version = version
	b := make([]byte, headerSize+1+len(c.Payload))
	c.Header.marshal(b[:headerSize])
	b[headerSize] = c.CmdType
	copy(b[headerSize+1:], c.Payload)
	return b, nil
}

// RumbleCommand builds a 6-byte rumble OutputCommand: low-motor, high-motor,
// duration_ms:u16, reserved:u16.
func RumbleCommand(low, high uint8, durationMS uint16) OutputCommand {
	payload := make([]byte, 6)
	payload[0] = low
	payload[1] = high
	binary.LittleEndian.PutUint16(payload[2:4], durationMS)
	return OutputCommand{CmdType: cmdRumble, Payload: payload}
}

// RGBLEDCommand builds a 3-byte RGB LED OutputCommand.
func RGBLEDCommand(r, g, b uint8) OutputCommand {
	return OutputCommand{CmdType: cmdRGBLED, Payload: []byte{r, g, b}}
}

// PlayerLEDCommand builds a 1-byte player-indicator LED OutputCommand.
func PlayerLEDCommand(pattern uint8) OutputCommand {
	return OutputCommand{CmdType: cmdPlayerLED, Payload: []byte{pattern}}
}
