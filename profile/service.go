package profile

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/target"
)

// Service owns the active profile per output target and the small amount
// of cross-call state Apply needs: SOCD last-press memory (per target,
// player) and combo-to-switch hold timers (per target). A Profile itself
// stays immutable; this state lives here instead (spec.md §3 invariant).
type Service struct {
	mu     sync.Mutex
	sets   map[target.Target]*Set
	active map[target.Target]int
	socd   map[socdKey]*SOCDState
	combo  map[target.Target]*comboSwitchState
	logger *slog.Logger
	now    func() time.Time
}

type socdKey struct {
	target target.Target
	player int
}

type comboSwitchState struct {
	held         bool
	startTime    time.Time
	otherChanged bool
	lastOther    buttons.Mask
}

// Config supplies the per-target profile sets a Service starts with.
type Config struct {
	Sets map[target.Target]*Set
}

// NewService constructs a Service from cfg (spec.md §4.2 "init(config)").
func NewService(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	sets := cfg.Sets
	if sets == nil {
		sets = map[target.Target]*Set{}
	}
	active := make(map[target.Target]int, len(sets))
	for t, s := range sets {
		active[t] = s.Default
	}
	return &Service{
		sets:   sets,
		active: active,
		socd:   map[socdKey]*SOCDState{},
		combo:  map[target.Target]*comboSwitchState{},
		logger: logger,
		now:    time.Now,
	}
}

// RegisterSet installs or replaces the profile set for t.
func (s *Service) RegisterSet(t target.Target, set *Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[t] = set
	if _, ok := s.active[t]; !ok {
		s.active[t] = set.Default
	}
}

// GetActive returns the currently active profile for t.
func (s *Service) GetActive(t target.Target) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[t]
	if !ok {
		return nil, &ErrUnknownProfile{Detail: fmt.Sprintf("no profile set for target %s", t)}
	}
	return set.At(s.active[t])
}

// SetActive sets the active profile index for t. Out-of-range indices are
// clamped to the default per spec.md §7 "Configuration errors".
func (s *Service) SetActive(t target.Target, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[t]
	if !ok {
		return &ErrUnknownProfile{Detail: fmt.Sprintf("no profile set for target %s", t)}
	}
	if index < 0 || index >= set.Len() {
		s.logger.Warn("profile: index out of range, clamping to default", "target", t, "index", index)
		s.active[t] = set.Default
		return nil
	}
	s.active[t] = index
	return nil
}

// CycleNext advances to the next profile in t's set, wrapping around.
func (s *Service) CycleNext(t target.Target) error {
	return s.cycle(t, 1)
}

// CyclePrev moves to the previous profile in t's set, wrapping around.
func (s *Service) CyclePrev(t target.Target) error {
	return s.cycle(t, -1)
}

func (s *Service) cycle(t target.Target, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[t]
	if !ok {
		return &ErrUnknownProfile{Detail: fmt.Sprintf("no profile set for target %s", t)}
	}
	n := set.Len()
	if n == 0 {
		return &ErrUnknownProfile{Detail: "profile set is empty"}
	}
	s.active[t] = ((s.active[t]+delta)%n + n) % n
	return nil
}

// ActiveIndex returns the current active profile index for t.
func (s *Service) ActiveIndex(t target.Target) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[t]
}

// Targets returns every output target currently carrying a profile set.
func (s *Service) Targets() []target.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]target.Target, 0, len(s.sets))
	for t := range s.sets {
		out = append(out, t)
	}
	return out
}

// ProfileNames returns the names of every profile in t's set, in order.
func (s *Service) ProfileNames(t target.Target) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[t]
	if !ok {
		return nil, &ErrUnknownProfile{Detail: fmt.Sprintf("no profile set for target %s", t)}
	}
	names := make([]string, len(set.Profiles))
	for i, p := range set.Profiles {
		names[i] = p.Name
	}
	return names, nil
}

func (s *Service) socdState(t target.Target, player int) *SOCDState {
	k := socdKey{t, player}
	if st, ok := s.socd[k]; ok {
		return st
	}
	st := NewSOCDState()
	s.socd[k] = st
	return st
}

// Apply resolves the active profile for target/player and runs the
// remap+shape pipeline, additionally servicing the profile's
// combo-to-switch timer (spec.md §4.2).
func (s *Service) Apply(t target.Target, player int, in buttons.Mask, analog [buttons.NumAxes]uint8) (Result, error) {
	s.mu.Lock()
	set, ok := s.sets[t]
	if !ok {
		s.mu.Unlock()
		return Result{}, &ErrUnknownProfile{Detail: fmt.Sprintf("no profile set for target %s", t)}
	}
	p, err := set.At(s.active[t])
	if err != nil {
		s.mu.Unlock()
		return Result{}, err
	}
	socd := s.socdState(t, player)
	s.mu.Unlock()

	s.serviceComboSwitch(t, p, in)

	return Apply(p, socd, in, analog), nil
}

func (s *Service) serviceComboSwitch(t target.Target, p *Profile, in buttons.Mask) {
	if p.ComboToSwitch == 0 {
		return
	}
	s.mu.Lock()
	st, ok := s.combo[t]
	if !ok {
		st = &comboSwitchState{}
		s.combo[t] = st
	}
	now := s.now()
	held := in&p.ComboToSwitch == p.ComboToSwitch
	other := in &^ p.ComboToSwitch

	var shouldCycle bool
	if held {
		if !st.held {
			st.held = true
			st.startTime = now
			st.otherChanged = false
			st.lastOther = other
		} else if other != st.lastOther {
			st.otherChanged = true
			st.lastOther = other
		}
	} else if st.held {
		heldFor := now.Sub(st.startTime)
		if heldFor >= time.Duration(p.ComboToSwitchHoldMS)*time.Millisecond && !st.otherChanged {
			shouldCycle = true
		}
		st.held = false
	}
	s.mu.Unlock()

	if shouldCycle {
		if err := s.CycleNext(t); err != nil {
			s.logger.Warn("profile: combo-to-switch cycle failed", "target", t, "error", err)
		}
	}
}
