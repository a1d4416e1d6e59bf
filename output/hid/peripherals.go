package hid

import (
	"github.com/Alia5/VIIPER/controller/target"
	"github.com/Alia5/VIIPER/device/keyboard"
	"github.com/Alia5/VIIPER/device/mouse"
	"github.com/Alia5/VIIPER/output"
)

func init() {
	output.Register("keyboard", newKeyboardSink)
	output.Register("mouse", newMouseSink)
}

// KeyboardSink and MouseSink are not driven by the router/profile pipeline:
// a keyboard or a passthrough HID mouse carries no canonical button/analog
// state to remap. They stay fed the way device/keyboard and device/mouse
// already are, through their own api.RegisterDevice StreamHandler (a
// companion app on the host writes InputState directly over its API
// device stream connection). Task is a no-op; the sink exists so the output
// registry can still list and export these devices alongside the
// router-driven gamepad sinks.
type KeyboardSink struct {
	device *keyboard.Keyboard
}

func newKeyboardSink(cfg map[string]any) (output.Sink, error) {
	kb, err := keyboard.New(nil)
	if err != nil {
		return nil, err
	}
	return &KeyboardSink{device: kb}, nil
}

func (s *KeyboardSink) Target() target.Target      { return target.USBDevice }
func (s *KeyboardSink) Init(output.Deps) error     { return nil }
func (s *KeyboardSink) Task() error                { return nil }
func (s *KeyboardSink) Close() error                { return nil }
func (s *KeyboardSink) Device() *keyboard.Keyboard { return s.device }

type MouseSink struct {
	device *mouse.Mouse
}

func newMouseSink(cfg map[string]any) (output.Sink, error) {
	m, err := mouse.New(nil)
	if err != nil {
		return nil, err
	}
	return &MouseSink{device: m}, nil
}

func (s *MouseSink) Target() target.Target  { return target.USBDevice }
func (s *MouseSink) Init(output.Deps) error { return nil }
func (s *MouseSink) Task() error            { return nil }
func (s *MouseSink) Close() error           { return nil }
func (s *MouseSink) Device() *mouse.Mouse   { return s.device }
