package router

import (
	"fmt"
	"os"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/controller/target"
	"gopkg.in/yaml.v3"
)

// fileRouterConfig mirrors Config but with YAML-friendly string keys for
// the Transport/Target/Mode/MergeRule enums, the same string-key idiom
// profile.fileProfile uses for buttons.Mask.
type fileRouterConfig struct {
	Routes  []fileRoute                 `yaml:"routes"`
	Targets map[string]fileTargetConfig `yaml:"targets"`
}

type fileRoute struct {
	Src  string `yaml:"src"`
	Dst  string `yaml:"dst"`
	Hint int    `yaml:"hint"`
}

type fileTargetConfig struct {
	Mode              string `yaml:"mode"`
	MergeRule         string `yaml:"mergeRule"`
	MaxPlayers        int    `yaml:"maxPlayers"`
	ConsumeAndHold    bool   `yaml:"consumeAndHold"`
	MouseToAnalog     bool   `yaml:"mouseToAnalog"`
	MouseDrainPerTick uint8  `yaml:"mouseDrainPerTick"`
	MouseAxisX        string `yaml:"mouseAxisX"`
	MouseAxisY        string `yaml:"mouseAxisY"`
}

// Config is a parsed router-config file: a routing table plus one
// TargetConfig per output target, ready to be installed on a Router via
// AddRoute/Configure.
type Config struct {
	Routes  []Route
	Targets map[target.Target]TargetConfig
}

// LoadConfig parses a YAML router-config file (spec.md §3 "Router config")
// from path, mirroring profile.LoadSet's read-then-translate shape.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("router: read %s: %w", path, err)
	}
	var fc fileRouterConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("router: parse %s: %w", path, err)
	}

	cfg := &Config{Targets: map[target.Target]TargetConfig{}}
	for _, fr := range fc.Routes {
		rt, err := fromFileRoute(fr)
		if err != nil {
			return nil, fmt.Errorf("router: route %+v: %w", fr, err)
		}
		cfg.Routes = append(cfg.Routes, rt)
	}
	for name, ft := range fc.Targets {
		t := target.Target(name)
		tc, err := fromFileTargetConfig(ft)
		if err != nil {
			return nil, fmt.Errorf("router: target %s: %w", name, err)
		}
		cfg.Targets[t] = tc
	}
	return cfg, nil
}

// Apply installs every route and target config in c onto r.
func (c *Config) Apply(r *Router) {
	for _, rt := range c.Routes {
		r.AddRoute(rt)
	}
	for t, tc := range c.Targets {
		r.Configure(t, tc)
	}
}

func transportFromName(name string) (event.Transport, error) {
	switch name {
	case "usb":
		return event.TransportUSB, nil
	case "bt":
		return event.TransportBT, nil
	case "native":
		return event.TransportNative, nil
	case "wifi":
		return event.TransportWiFi, nil
	default:
		return 0, fmt.Errorf("unknown transport %q", name)
	}
}

func fromFileRoute(fr fileRoute) (Route, error) {
	src, err := transportFromName(fr.Src)
	if err != nil {
		return Route{}, err
	}
	return Route{Src: src, Dst: target.Target(fr.Dst), Hint: fr.Hint}, nil
}

func modeFromName(name string) (Mode, error) {
	switch name {
	case "", "simple":
		return SIMPLE, nil
	case "merge":
		return MERGE, nil
	case "fanout":
		return FANOUT, nil
	default:
		return 0, fmt.Errorf("unknown router mode %q", name)
	}
}

func mergeRuleFromName(name string) (MergeRule, error) {
	switch name {
	case "", "all":
		return MergeAll, nil
	case "blend":
		return MergeBlend, nil
	case "last-writer":
		return MergeLastWriter, nil
	default:
		return 0, fmt.Errorf("unknown merge rule %q", name)
	}
}

func mouseAxisFromName(name string) (buttons.Axis, error) {
	switch name {
	case "":
		return 0, nil
	case "LX":
		return buttons.LX, nil
	case "LY":
		return buttons.LY, nil
	case "RX":
		return buttons.RX, nil
	case "RY":
		return buttons.RY, nil
	default:
		return 0, fmt.Errorf("unknown mouse axis %q", name)
	}
}

func fromFileTargetConfig(ft fileTargetConfig) (TargetConfig, error) {
	mode, err := modeFromName(ft.Mode)
	if err != nil {
		return TargetConfig{}, err
	}
	rule, err := mergeRuleFromName(ft.MergeRule)
	if err != nil {
		return TargetConfig{}, err
	}
	axX, err := mouseAxisFromName(ft.MouseAxisX)
	if err != nil {
		return TargetConfig{}, fmt.Errorf("mouseAxisX: %w", err)
	}
	axY, err := mouseAxisFromName(ft.MouseAxisY)
	if err != nil {
		return TargetConfig{}, fmt.Errorf("mouseAxisY: %w", err)
	}
	return TargetConfig{
		Mode:              mode,
		MergeRule:         rule,
		MaxPlayers:        ft.MaxPlayers,
		ConsumeAndHold:    ft.ConsumeAndHold,
		MouseToAnalog:     ft.MouseToAnalog,
		MouseDrainPerTick: ft.MouseDrainPerTick,
		MouseAxisX:        axX,
		MouseAxisY:        axY,
	}, nil
}
