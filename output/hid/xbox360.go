// Package hid adapts the USB HID gamepad/keyboard/mouse device emulations
// (device/xbox360, device/dualshock4, device/keyboard, device/mouse) into
// output.Sink implementations driven by the router+profile pipeline,
// rather than by the net.Conn stream the teacher's device/*/handler.go
// StreamHandler reads from. The underlying device struct, its USB
// descriptor and its wire-report encoding are unchanged; only the source
// of InputState values is new.
package hid

import (
	"fmt"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/target"
	"github.com/Alia5/VIIPER/device/xbox360"
	"github.com/Alia5/VIIPER/feedback"
	"github.com/Alia5/VIIPER/output"
	"github.com/Alia5/VIIPER/profile"
)

func init() {
	output.Register("xbox360", newXbox360Sink)
}

// Xbox360Sink drives up to 4 independent xbox360.Xbox360 devices (one per
// USB/IP port) from the USB_DEVICE target's FANOUT player slots.
type Xbox360Sink struct {
	deps    output.Deps
	devices [4]*xbox360.Xbox360
}

func newXbox360Sink(cfg map[string]any) (output.Sink, error) {
	s := &Xbox360Sink{}
	for i := range s.devices {
		d := xbox360.New(nil)
		idx := i
		d.SetRumbleCallback(func(r xbox360.XRumbleState) {
			if s.deps.Feedback == nil {
				return
			}
			s.deps.Feedback.Publish(target.USBDevice, idx, rumbleState(r))
		})
		s.devices[i] = d
	}
	return s, nil
}

func (s *Xbox360Sink) Target() target.Target { return target.USBDevice }

func (s *Xbox360Sink) Init(deps output.Deps) error {
	s.deps = deps
	return nil
}

// Device returns the underlying emulated device for port i, for the USB/IP
// bus to export and for handler.go's alternate direct-inject stream path.
func (s *Xbox360Sink) Device(i int) *xbox360.Xbox360 {
	if i < 0 || i >= len(s.devices) {
		return nil
	}
	return s.devices[i]
}

// Task pulls the current router output for every player slot, applies the
// active profile, converts to the XInput-compatible report layout and
// pushes it into the emulated device.
func (s *Xbox360Sink) Task() error {
	for player, dev := range s.devices {
		ev, ok := s.deps.Router.GetOutput(target.USBDevice, player)
		if !ok {
			continue
		}
		res, err := s.deps.Profiles.Apply(target.USBDevice, player, ev.Buttons, ev.Analog)
		if err != nil {
			return fmt.Errorf("xbox360 sink: player %d: %w", player, err)
		}
		dev.UpdateInputState(toXbox360(res))
	}
	return nil
}

func (s *Xbox360Sink) Close() error { return nil }

// toXbox360 converts the canonical bitmask/analog representation into the
// wired Xbox 360 controller's button bits and signed, zero-centred sticks.
func toXbox360(r profile.Result) xbox360.InputState {
	var st xbox360.InputState
	b := r.Buttons
	set := func(bit buttons.Mask, flag uint32) {
		if b.Has(bit) {
			st.Buttons |= flag
		}
	}
	set(buttons.DU, xbox360.ButtonDPadUp)
	set(buttons.DD, xbox360.ButtonDPadDown)
	set(buttons.DL, xbox360.ButtonDPadLeft)
	set(buttons.DR, xbox360.ButtonDPadRight)
	set(buttons.S2, xbox360.ButtonStart)
	set(buttons.S1, xbox360.ButtonBack)
	set(buttons.L3, xbox360.ButtonLThumb)
	set(buttons.R3, xbox360.ButtonRThumb)
	set(buttons.L1, xbox360.ButtonLShoulder)
	set(buttons.R1, xbox360.ButtonRShoulder)
	set(buttons.A1, xbox360.ButtonGuide)
	set(buttons.B1, xbox360.ButtonA)
	set(buttons.B2, xbox360.ButtonB)
	set(buttons.B3, xbox360.ButtonX)
	set(buttons.B4, xbox360.ButtonY)

	st.LX = centeredToSigned(r.Analog[buttons.LX])
	st.LY = -centeredToSigned(r.Analog[buttons.LY]) // XInput Y is inverted vs. canonical "0=up"
	st.RX = centeredToSigned(r.Analog[buttons.RX])
	st.RY = -centeredToSigned(r.Analog[buttons.RY])
	st.LT = r.Analog[buttons.L2Axis]
	st.RT = r.Analog[buttons.R2Axis]
	return st
}

// centeredToSigned maps a uint8 stick axis centred at 128 onto the int16
// range centred at 0 that the XInput report expects.
func centeredToSigned(v uint8) int16 {
	return int16(int32(v)-128) * 256
}

func rumbleState(r xbox360.XRumbleState) feedback.State {
	return feedback.State{
		Rumble:    feedback.Rumble{Low: r.LeftMotor, High: r.RightMotor},
		HasRumble: true,
	}
}
