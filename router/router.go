// Package router implements the fan-in/fan-out engine that merges or fans
// out concurrent input sources into per-output, per-player slots, with an
// optional push-based tap fast path (spec.md §4.4 "Router").
//
// The router carries no queue: back-pressure is absent by design, since
// each input source naturally rate-limits to its own polling frequency
// (spec.md §5). Submit is totally ordered per calling goroutine by a
// single mutex; a tap invocation completes synchronously before Submit
// returns.
package router

import (
	"sync"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/controller/target"
	"github.com/Alia5/VIIPER/player"
)

// Mode selects how a route's destination player is resolved.
type Mode int

const (
	// SIMPLE is a 1:1 mapping: the destination player is whatever slot
	// the output target's player.Manager has assigned the source device.
	SIMPLE Mode = iota
	// MERGE combines every matching source's events into player 0 of the
	// target, per MergeRule.
	MERGE
	// FANOUT sends the event to the player index named by the route's hint.
	FANOUT
)

func (m Mode) String() string {
	switch m {
	case SIMPLE:
		return "simple"
	case MERGE:
		return "merge"
	case FANOUT:
		return "fanout"
	default:
		return "unknown"
	}
}

// MergeRule selects how MERGE mode combines concurrent sources.
type MergeRule int

const (
	// MergeAll / MergeBlend: buttons OR together; an event whose axis
	// value diverges from center beyond a small deadband replaces that
	// axis, so a later diverging value replaces an earlier one (there is no
	// per-tick window); a centred value keeps the existing one; triggers
	// take the max.
	MergeAll MergeRule = iota
	MergeBlend
	// MergeLastWriter: the newest event replaces the slot outright.
	MergeLastWriter
)

func (m MergeRule) String() string {
	switch m {
	case MergeAll:
		return "all"
	case MergeBlend:
		return "blend"
	case MergeLastWriter:
		return "last-writer"
	default:
		return "unknown"
	}
}

// Route is a routing-table entry: events from Src may land on Dst,
// destination player resolved per the target's configured Mode (spec.md
// §3 "Routing table").
type Route struct {
	Src  event.Transport
	Dst  target.Target
	Hint int // player index used only in FANOUT mode
}

// TargetConfig is the per-output-target router configuration (spec.md §3
// "Router config").
type TargetConfig struct {
	Mode       Mode
	MergeRule  MergeRule
	MaxPlayers int

	// ConsumeAndHold, if true, makes a second GetOutput with no
	// intervening Submit return ok=false instead of replaying the last
	// value (spec.md §4.4).
	ConsumeAndHold bool

	// MouseToAnalog enables the mouse-delta-to-stick transform for
	// KindMouse events routed to this target.
	MouseToAnalog bool
	// MouseDrainPerTick is the decay-rate-per-tick toward center applied
	// by Tick when no new mouse delta has arrived this tick (spec.md §9
	// Open Questions: mouse-to-analog "drain" modeled as per-tick decay).
	MouseDrainPerTick uint8
	MouseAxisX        buttons.Axis
	MouseAxisY        buttons.Axis
}

// deadband is the minimum divergence from stick center an axis must show
// to be considered "this tick's value" under MergeBlend/MergeAll.
const deadband = 8

// TapFunc is a push-mode subscriber invoked synchronously from Submit.
type TapFunc func(t target.Target, player int, e event.Event)

type tapEntry struct {
	fn        TapFunc
	exclusive bool
}

type outputSlot struct {
	ev       event.Event
	hasData  bool
	hasFresh bool
}

type mouseState struct {
	x, y    uint8
	touched bool
}

// Router is the process-wide router instance (spec.md §9 "Global
// singletons": created once at boot, passed explicitly).
type Router struct {
	mu sync.Mutex

	configs map[target.Target]TargetConfig
	routes  []Route
	players map[target.Target]*player.Manager
	taps    map[target.Target]tapEntry
	slots   map[slotKey]*outputSlot
	mice    map[slotKey]*mouseState
}

type slotKey struct {
	target target.Target
	player int
}

// New constructs an empty Router.
func New() *Router {
	return &Router{
		configs: map[target.Target]TargetConfig{},
		players: map[target.Target]*player.Manager{},
		taps:    map[target.Target]tapEntry{},
		slots:   map[slotKey]*outputSlot{},
		mice:    map[slotKey]*mouseState{},
	}
}

// Configure installs or replaces the TargetConfig for t (spec.md §4.4
// "init(config)", generalised to per-target since a real adapter has
// several simultaneously-active output targets).
func (r *Router) Configure(t target.Target, cfg TargetConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[t] = cfg
}

// SetPlayerManager installs the player.Manager used to resolve SIMPLE-mode
// destination players for t.
func (r *Router) SetPlayerManager(t target.Target, m *player.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[t] = m
}

// AddRoute registers a routing-table entry.
func (r *Router) AddRoute(rt Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, rt)
}

// SetTap installs a non-exclusive tap for t: submit still stores the event
// in the slot after invoking the tap.
func (r *Router) SetTap(t target.Target, fn TapFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taps[t] = tapEntry{fn: fn, exclusive: false}
}

// SetTapExclusive installs an exclusive tap for t: submit invokes the tap
// and returns without storing the event in the slot.
func (r *Router) SetTapExclusive(t target.Target, fn TapFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taps[t] = tapEntry{fn: fn, exclusive: true}
}

// ClearTap removes any tap registered for t.
func (r *Router) ClearTap(t target.Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.taps, t)
}

// Routes returns a copy of the currently installed routing table, for
// read-only introspection (e.g. the API's routes listing).
func (r *Router) Routes() []Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Configs returns a copy of the per-target configuration map.
func (r *Router) Configs() map[target.Target]TargetConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[target.Target]TargetConfig, len(r.configs))
	for t, c := range r.configs {
		out[t] = c
	}
	return out
}

// GetPlayerCount returns the number of populated slots on t, resolved via
// its player.Manager if one is registered (0 otherwise).
func (r *Router) GetPlayerCount(t target.Target) int {
	r.mu.Lock()
	m := r.players[t]
	r.mu.Unlock()
	if m == nil {
		return 0
	}
	return m.Count()
}

// Submit delivers e to every route matching e's transport, per spec.md
// §4.4's algorithm. It never blocks and never returns an error: malformed
// routing (unknown target, out-of-range player) is logged upstream by the
// caller and otherwise ignored here, per spec.md §7.
func (r *Router) Submit(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rt := range r.routes {
		if rt.Src != e.Transport {
			continue
		}
		cfg, ok := r.configs[rt.Dst]
		if !ok {
			continue // unknown target: ignored
		}
		playerIdx := r.resolvePlayerLocked(rt, cfg, e)
		if playerIdx < 0 {
			continue
		}
		if cfg.MaxPlayers > 0 && playerIdx >= cfg.MaxPlayers {
			if cfg.Mode == FANOUT {
				continue // fanout: dropped when hint exceeds max
			}
			playerIdx = cfg.MaxPlayers - 1 // clipped
		}

		deliverEvent := e
		if cfg.MouseToAnalog && e.Kind == event.KindMouse {
			deliverEvent = r.applyMouseLocked(rt.Dst, playerIdx, cfg, e)
		}

		if tap, ok := r.taps[rt.Dst]; ok {
			tap.fn(rt.Dst, playerIdx, deliverEvent)
			if tap.exclusive {
				continue // exclusive tap: no slot store
			}
		}
		r.storeLocked(rt.Dst, playerIdx, cfg, deliverEvent)
	}
}

func (r *Router) resolvePlayerLocked(rt Route, cfg TargetConfig, e event.Event) int {
	switch cfg.Mode {
	case SIMPLE:
		m := r.players[rt.Dst]
		if m == nil {
			return -1
		}
		idx := m.SlotFor(e.Addr)
		return idx
	case MERGE:
		return 0
	case FANOUT:
		return rt.Hint
	default:
		return -1
	}
}

func (r *Router) storeLocked(t target.Target, playerIdx int, cfg TargetConfig, e event.Event) {
	k := slotKey{t, playerIdx}
	slot, ok := r.slots[k]
	if !ok {
		slot = &outputSlot{}
		r.slots[k] = slot
	}

	if !slot.hasData || cfg.Mode != MERGE || cfg.MergeRule == MergeLastWriter {
		slot.ev = e
		slot.hasData = true
		slot.hasFresh = true
		return
	}

	// MergeAll / MergeBlend: combine with the existing value.
	merged := slot.ev
	merged.Buttons |= e.Buttons
	merged.Seq = e.Seq
	for ax := 0; ax < int(buttons.NumAxes); ax++ {
		a := buttons.Axis(ax)
		if isTriggerAxis(a) {
			if e.Analog[a] > merged.Analog[a] {
				merged.Analog[a] = e.Analog[a]
			}
			continue
		}
		if divergesFromCenter(e.Analog[a]) {
			merged.Analog[a] = e.Analog[a]
		}
	}
	slot.ev = merged
	slot.hasData = true
	slot.hasFresh = true
}

func isTriggerAxis(a buttons.Axis) bool {
	return a == buttons.L2Axis || a == buttons.R2Axis
}

func divergesFromCenter(v uint8) bool {
	d := int(v) - int(buttons.StickCenter)
	if d < 0 {
		d = -d
	}
	return d > deadband
}

// GetOutput returns the latest event for (t, playerIdx). ok is false if
// nothing has ever been submitted for that slot, or if the target is
// configured ConsumeAndHold and no Submit has landed since the previous
// GetOutput. Otherwise the stored value is returned and retained -- a
// sink that polls infrequently keeps receiving the last known state.
func (r *Router) GetOutput(t target.Target, playerIdx int) (event.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := slotKey{t, playerIdx}
	slot, ok := r.slots[k]
	if !ok || !slot.hasData {
		return event.Event{}, false
	}
	cfg := r.configs[t]
	if cfg.ConsumeAndHold && !slot.hasFresh {
		return event.Event{}, false
	}
	slot.hasFresh = false
	return slot.ev, true
}

// applyMouseLocked converts a mouse delta event into gamepad-shaped analog
// axes per the target's MouseAxisX/Y mapping, tracking a persistent cursor
// position that Tick drains back toward center absent new deltas.
func (r *Router) applyMouseLocked(t target.Target, playerIdx int, cfg TargetConfig, e event.Event) event.Event {
	k := slotKey{t, playerIdx}
	st, ok := r.mice[k]
	if !ok {
		st = &mouseState{x: buttons.StickCenter, y: buttons.StickCenter}
		r.mice[k] = st
	}
	dx := int(e.Analog[buttons.LX]) - int(buttons.StickCenter)
	dy := int(e.Analog[buttons.LY]) - int(buttons.StickCenter)
	st.x = clampAxis(int(st.x) + dx)
	st.y = clampAxis(int(st.y) + dy)
	st.touched = true

	out := e
	out.Kind = event.KindGamepad
	out.Analog[cfg.MouseAxisX] = st.x
	out.Analog[cfg.MouseAxisY] = st.y
	return out
}

func clampAxis(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Tick services the mouse-to-analog drain: any (target, player) that
// didn't receive a mouse delta since the previous Tick decays its cursor
// position toward center by MouseDrainPerTick (spec.md §9 Open Questions).
// Callers invoke Tick once per cooperative-core iteration (spec.md §5).
func (r *Router) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, st := range r.mice {
		cfg := r.configs[k.target]
		if !cfg.MouseToAnalog || cfg.MouseDrainPerTick == 0 {
			continue
		}
		if st.touched {
			st.touched = false
			continue
		}
		nx := drainToward(st.x, buttons.StickCenter, cfg.MouseDrainPerTick)
		ny := drainToward(st.y, buttons.StickCenter, cfg.MouseDrainPerTick)
		if nx == st.x && ny == st.y {
			continue
		}
		st.x, st.y = nx, ny
		if slot, ok := r.slots[k]; ok {
			slot.ev.Analog[cfg.MouseAxisX] = st.x
			slot.ev.Analog[cfg.MouseAxisY] = st.y
			slot.hasFresh = true
		}
	}
}

func drainToward(v, center, rate uint8) uint8 {
	if v == center {
		return v
	}
	if v > center {
		d := v - center
		if uint8(d) <= rate {
			return center
		}
		return v - rate
	}
	d := center - v
	if d <= rate {
		return center
	}
	return v + rate
}
