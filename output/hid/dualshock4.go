package hid

import (
	"fmt"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/target"
	"github.com/Alia5/VIIPER/device/dualshock4"
	"github.com/Alia5/VIIPER/feedback"
	"github.com/Alia5/VIIPER/output"
	"github.com/Alia5/VIIPER/profile"
)

func init() {
	output.Register("dualshock4", newDualShock4Sink)
}

// DualShock4Sink drives up to 4 independent DualShock4 devices from the
// USB_DEVICE target's FANOUT player slots.
type DualShock4Sink struct {
	deps    output.Deps
	devices [4]*dualshock4.DualShock4
}

func newDualShock4Sink(cfg map[string]any) (output.Sink, error) {
	s := &DualShock4Sink{}
	for i := range s.devices {
		d, err := dualshock4.New(nil)
		if err != nil {
			return nil, fmt.Errorf("dualshock4 sink: %w", err)
		}
		idx := i
		d.SetOutputCallback(func(o dualshock4.OutputState) {
			if s.deps.Feedback == nil {
				return
			}
			s.deps.Feedback.Publish(target.USBDevice, idx, ds4FeedbackState(o))
		})
		s.devices[i] = d
	}
	return s, nil
}

func (s *DualShock4Sink) Target() target.Target { return target.USBDevice }

func (s *DualShock4Sink) Init(deps output.Deps) error {
	s.deps = deps
	return nil
}

func (s *DualShock4Sink) Device(i int) *dualshock4.DualShock4 {
	if i < 0 || i >= len(s.devices) {
		return nil
	}
	return s.devices[i]
}

func (s *DualShock4Sink) Task() error {
	for player, dev := range s.devices {
		ev, ok := s.deps.Router.GetOutput(target.USBDevice, player)
		if !ok {
			continue
		}
		res, err := s.deps.Profiles.Apply(target.USBDevice, player, ev.Buttons, ev.Analog)
		if err != nil {
			return fmt.Errorf("dualshock4 sink: player %d: %w", player, err)
		}
		st := toDualShock4(res)
		dev.UpdateInputState(&st)
	}
	return nil
}

func (s *DualShock4Sink) Close() error { return nil }

func toDualShock4(r profile.Result) dualshock4.InputState {
	var st dualshock4.InputState
	b := r.Buttons
	set := func(bit buttons.Mask, flag uint16) {
		if b.Has(bit) {
			st.Buttons |= flag
		}
	}
	set(buttons.B3, dualshock4.ButtonSquare)
	set(buttons.B1, dualshock4.ButtonCross)
	set(buttons.B2, dualshock4.ButtonCircle)
	set(buttons.B4, dualshock4.ButtonTriangle)
	set(buttons.L1, dualshock4.ButtonL1)
	set(buttons.R1, dualshock4.ButtonR1)
	set(buttons.L2, dualshock4.ButtonL2)
	set(buttons.R2, dualshock4.ButtonR2)
	set(buttons.S1, dualshock4.ButtonShare)
	set(buttons.S2, dualshock4.ButtonOptions)
	set(buttons.L3, dualshock4.ButtonL3)
	set(buttons.R3, dualshock4.ButtonR3)
	if b.Has(buttons.A1) {
		st.Buttons |= dualshock4.ButtonPS
	}
	if b.Has(buttons.A2) {
		st.Buttons |= dualshock4.ButtonTouchpadClick
	}

	st.DPad = dualshock4.DPadUSBNeutral
	switch {
	case b.Has(buttons.DU) && b.Has(buttons.DR):
		st.DPad = dualshock4.DPadUSBUpRight
	case b.Has(buttons.DU) && b.Has(buttons.DL):
		st.DPad = dualshock4.DPadUSBUpLeft
	case b.Has(buttons.DD) && b.Has(buttons.DR):
		st.DPad = dualshock4.DPadUSBDownRight
	case b.Has(buttons.DD) && b.Has(buttons.DL):
		st.DPad = dualshock4.DPadUSBDownLeft
	case b.Has(buttons.DU):
		st.DPad = dualshock4.DPadUSBUp
	case b.Has(buttons.DD):
		st.DPad = dualshock4.DPadUSBDown
	case b.Has(buttons.DL):
		st.DPad = dualshock4.DPadUSBLeft
	case b.Has(buttons.DR):
		st.DPad = dualshock4.DPadUSBRight
	}

	st.LX = int8(int32(r.Analog[buttons.LX]) - 128)
	st.LY = int8(int32(r.Analog[buttons.LY]) - 128)
	st.RX = int8(int32(r.Analog[buttons.RX]) - 128)
	st.RY = int8(int32(r.Analog[buttons.RY]) - 128)
	st.L2 = r.Analog[buttons.L2Axis]
	st.R2 = r.Analog[buttons.R2Axis]
	st.AccelZ = dualshock4.DefaultAccelZRaw
	return st
}

func ds4FeedbackState(o dualshock4.OutputState) feedback.State {
	return feedback.State{
		Rumble:    feedback.Rumble{Low: o.RumbleLarge, High: o.RumbleSmall},
		LED:       feedback.LED{R: o.LedRed, G: o.LedGreen, B: o.LedBlue},
		HasRumble: true,
		HasLED:    true,
	}
}
