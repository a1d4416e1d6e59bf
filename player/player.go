// Package player assigns physical controllers to logical player slots per
// output target, under a FIXED or SHIFT policy (spec.md §4.3).
package player

import (
	"sync"
	"time"

	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/controller/target"
)

// Policy selects how new devices are assigned to slots.
type Policy int

const (
	// FIXED assigns each device the lowest free slot on first sight; the
	// assignment persists until an explicit reset.
	FIXED Policy = iota
	// SHIFT keeps slot 0 as the most recently active device, shifting
	// existing players down on new assignment and closing the gap upward
	// on disconnect.
	SHIFT
)

// Slot is a populated player slot (spec.md §3 "Player slot").
type Slot struct {
	Index    int
	Addr     event.Addr
	LastSeen time.Time
}

// Manager assigns (device, instance) pairs to slots for one output target.
// A distinct Manager exists per target since slot assignment is scoped to
// a single output (spec.md §4.3).
type Manager struct {
	mu     sync.Mutex
	target target.Target
	policy Policy
	max    int

	// AutoAssignOnPress defers a FIXED-policy assignment until the first
	// nonzero button report from the device, rather than on mount.
	AutoAssignOnPress bool

	slots   []*Slot         // nil entries are free slots (FIXED only)
	byAddr  map[event.Addr]*Slot
	pending map[event.Addr]bool // FIXED + AutoAssignOnPress: mounted, awaiting first press
}

// New constructs a Manager for target t under policy, with a max number of
// slots (spec.md §6 "Each has a fixed max_players").
func New(t target.Target, policy Policy, max int) *Manager {
	slots := make([]*Slot, max)
	if policy == SHIFT {
		slots = make([]*Slot, 0, max)
	}
	return &Manager{
		target:  t,
		policy:  policy,
		max:     max,
		slots:   slots,
		byAddr:  map[event.Addr]*Slot{},
		pending: map[event.Addr]bool{},
	}
}

// OnMount is called when a device is seen for the first time. Under FIXED
// without AutoAssignOnPress, it assigns a slot immediately; otherwise the
// device is marked pending until OnReport observes nonzero buttons.
func (m *Manager) OnMount(addr event.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byAddr[addr]; ok {
		return
	}
	if m.policy == FIXED && m.AutoAssignOnPress {
		m.pending[addr] = true
		return
	}
	m.assignLocked(addr)
}

// OnReport is called on every normalised input event for addr; under FIXED
// with AutoAssignOnPress it performs the deferred assignment on the first
// nonzero button mask.
func (m *Manager) OnReport(addr event.Addr, buttonsNonzero bool) {
	if m.policy != FIXED || !m.AutoAssignOnPress {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pending[addr] || !buttonsNonzero {
		return
	}
	delete(m.pending, addr)
	m.assignLocked(addr)
}

// OnUnmount removes addr's slot, if any.
func (m *Manager) OnUnmount(addr event.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, addr)

	slot, ok := m.byAddr[addr]
	if !ok {
		return
	}
	delete(m.byAddr, addr)

	switch m.policy {
	case FIXED:
		m.slots[slot.Index] = nil
	case SHIFT:
		idx := slot.Index
		m.slots = append(m.slots[:idx], m.slots[idx+1:]...)
		for i, s := range m.slots {
			s.Index = i
		}
	}
}

// Touch marks addr as most-recently-active, which under SHIFT moves it to
// slot 0.
func (m *Manager) Touch(addr event.Addr, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.byAddr[addr]
	if !ok {
		return
	}
	slot.LastSeen = now
	if m.policy != SHIFT || slot.Index == 0 {
		return
	}
	idx := slot.Index
	m.slots = append(m.slots[:idx], m.slots[idx+1:]...)
	m.slots = append([]*Slot{slot}, m.slots...)
	for i, s := range m.slots {
		s.Index = i
	}
}

// AddrForSlot returns the device address currently occupying slot i, used
// by the feedback hub to resolve sink-player-index back to an input
// driver (spec.md §4.3 "Feedback back-propagation").
func (m *Manager) AddrForSlot(i int) (event.Addr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.slots) {
		return event.Addr{}, false
	}
	if m.slots[i] == nil {
		return event.Addr{}, false
	}
	return m.slots[i].Addr, true
}

// SlotFor returns the slot index assigned to addr, or -1 if unassigned.
func (m *Manager) SlotFor(addr event.Addr) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byAddr[addr]; ok {
		return s.Index
	}
	return -1
}

// Count returns the number of populated slots.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byAddr)
}

// Slots returns a snapshot of populated slots in slot-index order.
func (m *Manager) Slots() []Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Slot, 0, len(m.byAddr))
	switch m.policy {
	case FIXED:
		for _, s := range m.slots {
			if s != nil {
				out = append(out, *s)
			}
		}
	case SHIFT:
		for _, s := range m.slots {
			out = append(out, *s)
		}
	}
	return out
}

// Reset clears all assignments (the FIXED policy's "explicit reset").
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots = make([]*Slot, m.max)
	if m.policy == SHIFT {
		m.slots = make([]*Slot, 0, m.max)
	}
	m.byAddr = map[event.Addr]*Slot{}
	m.pending = map[event.Addr]bool{}
}

// assignLocked must be called with mu held.
func (m *Manager) assignLocked(addr event.Addr) {
	switch m.policy {
	case FIXED:
		for i, s := range m.slots {
			if s == nil {
				slot := &Slot{Index: i, Addr: addr, LastSeen: time.Now()}
				m.slots[i] = slot
				m.byAddr[addr] = slot
				return
			}
		}
		// no free slot: resource exhaustion, spec.md §7 -- drop silently,
		// the device simply never gets a slot until one frees up.
	case SHIFT:
		if len(m.slots) >= m.max {
			evicted := m.slots[len(m.slots)-1]
			delete(m.byAddr, evicted.Addr)
			m.slots = m.slots[:len(m.slots)-1]
		}
		slot := &Slot{Index: 0, Addr: addr, LastSeen: time.Now()}
		for _, s := range m.slots {
			s.Index++
		}
		m.slots = append([]*Slot{slot}, m.slots...)
		m.byAddr[addr] = slot
	}
}
