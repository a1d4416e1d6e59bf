// Package profile implements per-output-target button/analog remapping
// (spec.md §4.2 "Profile Service"). A Profile is a named, immutable
// remap+shape rule set; a Service owns the active profile per target and
// the small amount of cross-call state (SOCD last-press memory, combo-hold
// timers) that Apply needs but a Profile itself must never carry, since
// profiles are never mutated after publication.
package profile

import (
	"fmt"

	"github.com/Alia5/VIIPER/controller/buttons"
)

// Special ButtonMap values (spec.md §3).
const (
	Drop        buttons.Mask = 0
	Passthrough buttons.Mask = 1 << 31
)

// TriggerMode selects how an analog trigger's digital/analog pair is derived.
type TriggerMode int

const (
	TriggerHybrid TriggerMode = iota
	TriggerDigitalOnly
	TriggerAnalogOnly
	TriggerFixedOnPress
)

// TriggerConfig is the behaviour for one of L2/R2 (spec.md §4.2 step 3).
type TriggerConfig struct {
	Mode       TriggerMode
	Threshold  uint8 // digital-only: digital bit = analog >= Threshold
	FixedValue uint8 // fixed-on-press: analog = FixedValue when digital bit set
}

// SOCDMode selects d-pad Simultaneous-Opposing-Cardinal-Direction cleaning.
type SOCDMode int

const (
	SOCDPassthrough SOCDMode = iota
	SOCDNeutral              // opposing directions cancel both
	SOCDUpPriority           // up wins over down
	SOCDLastWin              // most recently pressed of the opposing pair wins
)

// Profile is an immutable, named remap+shape rule set bound to one output
// target. Never mutate a Profile after it has been published to a Service.
type Profile struct {
	Name string

	ButtonMap ButtonMap
	ComboMap  ComboMap

	TriggerL2 TriggerConfig
	TriggerR2 TriggerConfig

	SwapSticks bool
	InvertLY   bool
	InvertRY   bool
	// Sensitivity holds a per-axis scale, 100 meaning 1.0x, applied to
	// stick axes only (LX/LY/RX/RY). Zero entries default to 100.
	Sensitivity [buttons.NumAxes]uint8

	SOCD SOCDMode

	// ComboToSwitch, if non-zero, is the combo that triggers CycleNext on
	// the owning Service when held >= ComboToSwitchHoldMS then released
	// without other input changes (spec.md §4.2 "Combo-to-switch").
	ComboToSwitch       buttons.Mask
	ComboToSwitchHoldMS int
}

// ButtonMap is a sparse set of logical-in -> logical-out rewrites. A bit
// absent from the map passes through unchanged. Drop (0) suppresses the
// bit; Passthrough explicitly keeps it (equivalent to omission, offered so
// profile-set files can be explicit).
type ButtonMap map[buttons.Mask]buttons.Mask

// ComboMap maps a simultaneous-input pattern (all bits must be held) to a
// button that gets OR'd into the output when the pattern matches.
type ComboMap map[buttons.Mask]buttons.Mask

// Identity returns a Profile with no combos, no remaps, hybrid triggers,
// no analog shaping, and passthrough SOCD -- Apply(Identity(), b, a) == (b, a)
// for any b, a (spec.md §8 testable property 1).
func Identity() *Profile {
	return &Profile{
		Name:      "identity",
		ButtonMap: ButtonMap{},
		ComboMap:  ComboMap{},
		TriggerL2: TriggerConfig{Mode: TriggerHybrid},
		TriggerR2: TriggerConfig{Mode: TriggerHybrid},
		SOCD:      SOCDPassthrough,
	}
}

// Result is the output of Apply: the remapped button mask, shaped analog
// axes, and the two resolved digital trigger bits (spec.md §4.2).
type Result struct {
	Buttons buttons.Mask
	Analog  [buttons.NumAxes]uint8
}

func sensitivityOrDefault(s uint8) int {
	if s == 0 {
		return 100
	}
	return int(s)
}

func scaleClamp(v uint8, pct int) uint8 {
	scaled := (int(v) * pct) / 100
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return uint8(scaled)
}

// Apply runs the five-stage pipeline from spec.md §4.2 in strict order:
// combo pass, button remap, trigger behaviour, analog shape, SOCD cleaning.
// socd may be nil for any mode other than SOCDLastWin; passing nil with
// SOCDLastWin degrades that pair to SOCDNeutral.
func Apply(p *Profile, socd *SOCDState, in buttons.Mask, analog [buttons.NumAxes]uint8) Result {
	out := in

	// 1. Combo pass: every matching pattern ORs its emit bit in.
	for pattern, emit := range p.ComboMap {
		if pattern != 0 && in&pattern == pattern {
			out |= emit
		}
	}

	// 2. Button remap.
	var remapped buttons.Mask
	for _, bit := range buttons.All {
		if out&bit == 0 {
			continue
		}
		if target, mapped := p.ButtonMap[bit]; mapped {
			switch target {
			case Drop:
				// suppressed
			case Passthrough:
				remapped |= bit
			default:
				remapped |= target
			}
			continue
		}
		remapped |= bit
	}
	out = remapped

	// 3. Trigger behaviour.
	a := analog
	l2On := applyTriggerDigital(p.TriggerL2, out&buttons.L2 != 0, &a[buttons.L2Axis])
	out = setBit(out, buttons.L2, l2On)
	r2On := applyTriggerDigital(p.TriggerR2, out&buttons.R2 != 0, &a[buttons.R2Axis])
	out = setBit(out, buttons.R2, r2On)

	// 4. Analog shape.
	if p.SwapSticks {
		a[buttons.LX], a[buttons.RX] = a[buttons.RX], a[buttons.LX]
		a[buttons.LY], a[buttons.RY] = a[buttons.RY], a[buttons.LY]
	}
	if p.InvertLY {
		a[buttons.LY] = 255 - a[buttons.LY]
	}
	if p.InvertRY {
		a[buttons.RY] = 255 - a[buttons.RY]
	}
	for _, ax := range []buttons.Axis{buttons.LX, buttons.LY, buttons.RX, buttons.RY} {
		pct := sensitivityOrDefault(p.Sensitivity[ax])
		if pct != 100 {
			a[ax] = scaleClamp(a[ax], pct)
		}
	}

	// 5. SOCD cleaning on the d-pad.
	out = applySOCD(p.SOCD, socd, out)

	return Result{Buttons: out, Analog: a}
}

func setBit(m buttons.Mask, bit buttons.Mask, set bool) buttons.Mask {
	if set {
		return m | bit
	}
	return m &^ bit
}

// applyTriggerDigital resolves one trigger's digital bit against its analog
// value per the configured TriggerMode.
func applyTriggerDigital(cfg TriggerConfig, digitalIn bool, analog *uint8) bool {
	switch cfg.Mode {
	case TriggerDigitalOnly:
		digital := *analog >= cfg.Threshold
		*analog = 0
		return digital
	case TriggerAnalogOnly:
		return false
	case TriggerFixedOnPress:
		if digitalIn {
			*analog = cfg.FixedValue
		}
		return digitalIn
	default: // TriggerHybrid
		return digitalIn
	}
}

// SOCDState tracks, per Profile application site (typically one per
// (target, player)), the direction of each opposing d-pad pair that was
// last held on its own, for SOCDLastWin: when both are held, the other
// one is the newer press and wins. Zero value is ready to use.
type SOCDState struct {
	lastVertical   buttons.Mask // buttons.DU or buttons.DD
	lastHorizontal buttons.Mask // buttons.DL or buttons.DR
}

// NewSOCDState returns a ready-to-use SOCDState.
func NewSOCDState() *SOCDState { return &SOCDState{} }

func applySOCD(mode SOCDMode, s *SOCDState, in buttons.Mask) buttons.Mask {
	if mode == SOCDPassthrough {
		return in
	}

	up, down := in&buttons.DU != 0, in&buttons.DD != 0
	left, right := in&buttons.DL != 0, in&buttons.DR != 0

	out := in &^ (buttons.DU | buttons.DD | buttons.DL | buttons.DR)

	switch mode {
	case SOCDNeutral:
		if up && down {
			up, down = false, false
		}
		if left && right {
			left, right = false, false
		}
	case SOCDUpPriority:
		if up && down {
			down = false
		}
		if left && right {
			left, right = false, false
		}
	case SOCDLastWin:
		if s == nil {
			return applySOCD(SOCDNeutral, nil, in)
		}
		if up && down {
			if s.lastVertical == buttons.DU {
				up = false
			} else {
				down = false
			}
		} else if up {
			s.lastVertical = buttons.DU
		} else if down {
			s.lastVertical = buttons.DD
		}
		if left && right {
			if s.lastHorizontal == buttons.DL {
				left = false
			} else {
				right = false
			}
		} else if left {
			s.lastHorizontal = buttons.DL
		} else if right {
			s.lastHorizontal = buttons.DR
		}
	}

	if up {
		out |= buttons.DU
	}
	if down {
		out |= buttons.DD
	}
	if left {
		out |= buttons.DL
	}
	if right {
		out |= buttons.DR
	}
	return out
}

// ErrUnknownProfile is returned by Service lookups for an unregistered
// target or out-of-range index.
type ErrUnknownProfile struct {
	Detail string
}

func (e *ErrUnknownProfile) Error() string { return fmt.Sprintf("profile: %s", e.Detail) }
