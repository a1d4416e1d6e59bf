// Package buttons defines the adapter's canonical button and analog-axis
// layout. Every input driver decodes into this layout; every output driver
// encodes from it. Names are source-agnostic: Cross/A/South all become B1.
package buttons

// Mask is a 32-bit logical button mask in the canonical bit layout.
type Mask uint32

// Canonical bit positions. These are a stable wire contract within the
// adapter: once fixed they must never be renumbered, since profiles,
// the settings journal's custom-profile blobs, and every output encoder
// assume this exact layout.
//
// L3, R3 and A2 are not pinned by any cross-vendor convention in the
// source material this system was distilled from; fixing them here is a
// one-time compatibility decision (spec.md §9 Open Questions).
const (
	DU Mask = 1 << 0
	DR Mask = 1 << 1
	DD Mask = 1 << 2
	DL Mask = 1 << 3
	B2 Mask = 1 << 4
	B1 Mask = 1 << 5
	S1 Mask = 1 << 6
	S2 Mask = 1 << 7
	L2 Mask = 1 << 8
	R2 Mask = 1 << 9
	A1 Mask = 1 << 10
	L3 Mask = 1 << 11
	B4 Mask = 1 << 12
	B3 Mask = 1 << 13
	L1 Mask = 1 << 14
	R1 Mask = 1 << 15
	R3 Mask = 1 << 16
	A2 Mask = 1 << 17
)

// All is the ordered set of all 18 logical buttons, matching spec.md §3's
// declared order: face, shoulders, triggers, system, stick-clicks, d-pad,
// auxiliary.
var All = []Mask{B1, B2, B3, B4, L1, R1, L2, R2, S1, S2, L3, R3, DU, DD, DL, DR, A1, A2}

// Names maps each canonical button to a human-readable identifier, used by
// profile-set files and diagnostics.
var Names = map[Mask]string{
	B1: "B1", B2: "B2", B3: "B3", B4: "B4",
	L1: "L1", R1: "R1", L2: "L2", R2: "R2",
	S1: "S1", S2: "S2", L3: "L3", R3: "R3",
	DU: "DU", DD: "DD", DL: "DL", DR: "DR",
	A1: "A1", A2: "A2",
}

// ByName is the inverse of Names.
var ByName = func() map[string]Mask {
	m := make(map[string]Mask, len(Names))
	for bit, name := range Names {
		m[name] = bit
	}
	return m
}()

// Has reports whether bit is set in m.
func (m Mask) Has(bit Mask) bool { return m&bit != 0 }

// Axis indexes the fixed analog-axis array carried on every input event.
// Sticks center at 128; triggers rest at 0. Y axes follow "0 = up".
type Axis int

const (
	LX Axis = iota
	LY
	RX
	RY
	L2Axis
	R2Axis
	RZ // optional twist/extra axis
	NumAxes
)

// StickCenter is the neutral value for LX/LY/RX/RY.
const StickCenter uint8 = 128

// TriggerReleased is the neutral value for L2Axis/R2Axis.
const TriggerReleased uint8 = 0
