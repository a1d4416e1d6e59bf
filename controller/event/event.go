// Package event defines the universal controller snapshot passed between
// input drivers and the router (spec.md §3 "Input event").
package event

import (
	"sync/atomic"

	"github.com/Alia5/VIIPER/controller/buttons"
)

// Transport identifies the physical/logical transport an event arrived over.
type Transport uint8

const (
	TransportUSB Transport = iota
	TransportBT
	TransportNative
	TransportWiFi
)

func (t Transport) String() string {
	switch t {
	case TransportUSB:
		return "usb"
	case TransportBT:
		return "bt"
	case TransportNative:
		return "native"
	case TransportWiFi:
		return "wifi"
	default:
		return "unknown"
	}
}

// Kind distinguishes the payload shape carried by an Event.
type Kind uint8

const (
	KindNone Kind = iota
	KindGamepad
	KindMouse
	KindKeyboard
)

// Addr is a device address in the adapter's single 8-bit namespace
// (spec.md §6): 0x01..0x1F USB host devices, 0xE0..0xEF native joybus
// ports and wireless slots. Instance disambiguates multiple logical
// sub-devices behind one address (e.g. a hub).
type Addr struct {
	Device   uint8
	Instance uint8
}

// Device address ranges (spec.md §6).
const (
	AddrUSBMin     = 0x01
	AddrUSBMax     = 0x1F
	AddrNativeMin  = 0xE0
	AddrNativeMax  = 0xEF
	AddrWirelessOf = 0xE0 // wireless slot N uses AddrWirelessOf+N, same range as native
)

// Event is the canonical controller snapshot. Allocated on the driver's
// stack each poll, copied into the router by Submit, and never referenced
// by the driver again after Submit returns (spec.md §3 lifecycle).
type Event struct {
	Addr      Addr
	Transport Transport
	Kind      Kind
	Buttons   buttons.Mask
	Analog    [buttons.NumAxes]uint8
	Keys      uint32 // 32-bit keyboard keys bitmap, valid when Kind == KindKeyboard
	Seq       uint64 // monotonic per-driver sequence counter
}

// Clone returns a value copy of e suitable for storing past Submit's return.
func (e Event) Clone() Event { return e }

// SeqCounter is a small monotonic counter helper that input.Host keeps per
// mounted driver to stamp Event.Seq.
type SeqCounter struct{ n uint64 }

// Next returns the next sequence number, starting at 1.
func (c *SeqCounter) Next() uint64 { return atomic.AddUint64(&c.n, 1) }

// NeutralAnalog returns the analog array with sticks centered and
// triggers released, the default state a driver should report absent
// any vendor data.
func NeutralAnalog() [buttons.NumAxes]uint8 {
	var a [buttons.NumAxes]uint8
	a[buttons.LX] = buttons.StickCenter
	a[buttons.LY] = buttons.StickCenter
	a[buttons.RX] = buttons.StickCenter
	a[buttons.RY] = buttons.StickCenter
	a[buttons.L2Axis] = buttons.TriggerReleased
	a[buttons.R2Axis] = buttons.TriggerReleased
	return a
}
