// Package feedback propagates rumble/LED/player-LED state from output
// sinks back to the originating input driver (spec.md §4.5 "Feedback
// Channel" and §4.3 "Feedback back-propagation"). The teacher's
// device/xbox360.SetRumbleCallback / device/dualshock4 output-state
// callback shape is generalised here into a small pub/sub hub so any
// output sink can publish feedback without knowing which input driver
// (if any) is listening.
package feedback

import (
	"sync"

	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/controller/target"
)

// Rumble is a normalised dual-motor rumble command.
type Rumble struct {
	Low  uint8 // large/low-frequency motor, 0-255
	High uint8 // small/high-frequency motor, 0-255
}

// LED is a normalised RGB LED command.
type LED struct {
	R, G, B uint8
}

// State is everything a sink can report back for one player.
type State struct {
	Rumble    Rumble
	LED       LED
	HasRumble bool
	HasLED    bool
	PlayerLED uint8 // player-indicator LED pattern/index
	HasPlayer bool
}

// Sink is implemented by a registered handler on the originating input
// driver side; it receives feedback for a specific device address.
type Sink func(addr event.Addr, state State)

// Hub resolves sink-player-index -> originating (addr) using a player
// resolver, then forwards to any Sink registered for that addr.
type Hub struct {
	mu       sync.Mutex
	sinks    map[event.Addr]Sink
	resolver func(t target.Target, player int) (event.Addr, bool)
}

// NewHub constructs a Hub. resolver must map (target, player index) back
// to the device address currently occupying that slot; it is normally
// player.Manager.AddrForSlot (player managers are per-target, so callers
// typically close over a per-target lookup table built from several
// player.Manager instances).
func NewHub(resolver func(t target.Target, player int) (event.Addr, bool)) *Hub {
	return &Hub{
		sinks:    map[event.Addr]Sink{},
		resolver: resolver,
	}
}

// Register installs the feedback sink for addr, replacing any previous one.
func (h *Hub) Register(addr event.Addr, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[addr] = sink
}

// Unregister removes addr's feedback sink.
func (h *Hub) Unregister(addr event.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sinks, addr)
}

// Publish is called by an output sink when it has new feedback for
// (target, player). It resolves the slot to a device address and invokes
// that device's registered Sink, if any. Unresolved slots (no device
// currently assigned) are silently dropped -- the sink continues serving
// others per spec.md §7.
func (h *Hub) Publish(t target.Target, player int, state State) {
	addr, ok := h.resolver(t, player)
	if !ok {
		return
	}
	h.mu.Lock()
	sink, ok := h.sinks[addr]
	h.mu.Unlock()
	if !ok {
		return
	}
	sink(addr, state)
}
