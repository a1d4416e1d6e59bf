package profile

import (
	"fmt"
	"os"

	"github.com/Alia5/VIIPER/controller/buttons"
	"gopkg.in/yaml.v3"
)

// fileProfile mirrors Profile but with YAML-friendly string keys, since
// buttons.Mask has no natural scalar YAML representation.
type fileProfile struct {
	Name       string            `yaml:"name"`
	ButtonMap  map[string]string `yaml:"buttonMap"`
	ComboMap   map[string]string `yaml:"comboMap"`
	TriggerL2  fileTrigger       `yaml:"triggerL2"`
	TriggerR2  fileTrigger       `yaml:"triggerR2"`
	SwapSticks bool              `yaml:"swapSticks"`
	InvertLY   bool              `yaml:"invertLY"`
	InvertRY   bool              `yaml:"invertRY"`
	Sensitivity map[string]uint8 `yaml:"sensitivity"`
	SOCD        string           `yaml:"socd"`

	ComboToSwitch       []string `yaml:"comboToSwitch"`
	ComboToSwitchHoldMS int      `yaml:"comboToSwitchHoldMs"`
}

type fileTrigger struct {
	Mode       string `yaml:"mode"`
	Threshold  uint8  `yaml:"threshold"`
	FixedValue uint8  `yaml:"fixedValue"`
}

type fileSet struct {
	Default  int           `yaml:"default"`
	Profiles []fileProfile `yaml:"profiles"`
}

// LoadSet parses a YAML profile-set file (one output target's worth of
// profiles) from path.
func LoadSet(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", path, err)
	}
	var fs fileSet
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("profile: parse %s: %w", path, err)
	}
	set := &Set{Default: fs.Default}
	for _, fp := range fs.Profiles {
		p, err := fromFileProfile(fp)
		if err != nil {
			return nil, fmt.Errorf("profile: %s: %w", fp.Name, err)
		}
		set.Profiles = append(set.Profiles, p)
	}
	return set, nil
}

func parseTrigger(ft fileTrigger) (TriggerConfig, error) {
	var mode TriggerMode
	switch ft.Mode {
	case "", "hybrid":
		mode = TriggerHybrid
	case "digital-only":
		mode = TriggerDigitalOnly
	case "analog-only":
		mode = TriggerAnalogOnly
	case "fixed-on-press":
		mode = TriggerFixedOnPress
	default:
		return TriggerConfig{}, fmt.Errorf("unknown trigger mode %q", ft.Mode)
	}
	return TriggerConfig{Mode: mode, Threshold: ft.Threshold, FixedValue: ft.FixedValue}, nil
}

func parseSOCD(s string) (SOCDMode, error) {
	switch s {
	case "", "passthrough":
		return SOCDPassthrough, nil
	case "neutral":
		return SOCDNeutral, nil
	case "up-priority":
		return SOCDUpPriority, nil
	case "last-win":
		return SOCDLastWin, nil
	default:
		return 0, fmt.Errorf("unknown socd mode %q", s)
	}
}

func maskFromName(name string) (buttons.Mask, error) {
	bit, ok := buttons.ByName[name]
	if !ok {
		return 0, fmt.Errorf("unknown button %q", name)
	}
	return bit, nil
}

func maskFromNames(names []string) (buttons.Mask, error) {
	var m buttons.Mask
	for _, n := range names {
		bit, err := maskFromName(n)
		if err != nil {
			return 0, err
		}
		m |= bit
	}
	return m, nil
}

func targetMaskFromName(name string) (buttons.Mask, error) {
	switch name {
	case "drop":
		return Drop, nil
	case "passthrough":
		return Passthrough, nil
	default:
		return maskFromName(name)
	}
}

func fromFileProfile(fp fileProfile) (*Profile, error) {
	p := &Profile{
		Name:       fp.Name,
		ButtonMap:  ButtonMap{},
		ComboMap:   ComboMap{},
		SwapSticks: fp.SwapSticks,
		InvertLY:   fp.InvertLY,
		InvertRY:   fp.InvertRY,
	}

	for src, dst := range fp.ButtonMap {
		srcBit, err := maskFromName(src)
		if err != nil {
			return nil, err
		}
		dstBit, err := targetMaskFromName(dst)
		if err != nil {
			return nil, err
		}
		p.ButtonMap[srcBit] = dstBit
	}

	for pattern, emit := range fp.ComboMap {
		patNames := splitPlus(pattern)
		patBit, err := maskFromNames(patNames)
		if err != nil {
			return nil, err
		}
		emitBit, err := maskFromName(emit)
		if err != nil {
			return nil, err
		}
		p.ComboMap[patBit] = emitBit
	}

	var err error
	if p.TriggerL2, err = parseTrigger(fp.TriggerL2); err != nil {
		return nil, fmt.Errorf("triggerL2: %w", err)
	}
	if p.TriggerR2, err = parseTrigger(fp.TriggerR2); err != nil {
		return nil, fmt.Errorf("triggerR2: %w", err)
	}
	if p.SOCD, err = parseSOCD(fp.SOCD); err != nil {
		return nil, err
	}

	for name, v := range fp.Sensitivity {
		ax, ok := axisFromName(name)
		if !ok {
			return nil, fmt.Errorf("unknown axis %q", name)
		}
		p.Sensitivity[ax] = v
	}

	if len(fp.ComboToSwitch) > 0 {
		m, err := maskFromNames(fp.ComboToSwitch)
		if err != nil {
			return nil, err
		}
		p.ComboToSwitch = m
		p.ComboToSwitchHoldMS = fp.ComboToSwitchHoldMS
		if p.ComboToSwitchHoldMS == 0 {
			p.ComboToSwitchHoldMS = 400
		}
	}

	return p, nil
}

func axisFromName(name string) (buttons.Axis, bool) {
	switch name {
	case "LX":
		return buttons.LX, true
	case "LY":
		return buttons.LY, true
	case "RX":
		return buttons.RX, true
	case "RY":
		return buttons.RY, true
	default:
		return 0, false
	}
}

func splitPlus(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '+' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
