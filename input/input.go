// Package input is the input driver registry (spec.md §4.1). Every
// transport (USB HID, XInput, the wireless JOCP protocol, native joybus
// serial) implements Driver and registers itself at init() time, mirroring
// the output package's registry and, further back, the teacher's
// api.RegisterDevice idiom.
package input

import (
	"fmt"
	"sync"

	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/router"
)

// Descriptor is the minimal identifying information available before a
// Driver has decoded its first report: a USB VID/PID pair, a Bluetooth
// name, or a wireless protocol magic -- whatever the transport exposes
// before a full report has been read.
type Descriptor struct {
	Transport event.Transport
	VendorID  uint16
	ProductID uint16
	Name      string
}

// Driver is one capability record: a transport+device combination capable
// of decoding raw bytes into canonical Events. A Driver instance is
// per-connection state (one Driver per mounted device), produced by a
// Factory when Matches succeeds.
type Driver interface {
	// Addr identifies this connection for player assignment and feedback
	// back-propagation.
	Addr() event.Addr
	// OnMount is called once, before the first Decode, to let the driver
	// send any required initialization sequence (e.g. procon2's init
	// commands, JOCP's handshake).
	OnMount() error
	// Decode turns one raw report into a canonical Event. ok is false for
	// reports that carry no new gamepad state (e.g. a JOCP keepalive).
	Decode(raw []byte) (event.Event, bool, error)
	// Tick is called once per scheduler cycle regardless of whether a new
	// report arrived, for drivers that need to detect timeouts or send
	// periodic keepalives (spec.md §5).
	Tick() error
	// OnUnmount releases any driver-held resources.
	OnUnmount() error
}

// Factory probes whether it can handle desc and, if so, constructs a
// Driver bound to addr.
type Factory func(desc Descriptor, addr event.Addr) (Driver, bool, error)

var (
	mu        sync.Mutex
	factories []namedFactory
)

type namedFactory struct {
	name string
	f    Factory
}

// Register installs a Factory under name, tried in registration order by
// Probe. Called from driver package init() functions.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories = append(factories, namedFactory{name, f})
}

// Probe tries every registered Factory against desc in registration order
// and returns the first that matches.
func Probe(desc Descriptor, addr event.Addr) (Driver, error) {
	mu.Lock()
	fs := make([]namedFactory, len(factories))
	copy(fs, factories)
	mu.Unlock()

	for _, nf := range fs {
		d, ok, err := nf.f(desc, addr)
		if err != nil {
			return nil, fmt.Errorf("input: %s: %w", nf.name, err)
		}
		if ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input: no driver matches %+v", desc)
}

// Host runs one mounted Driver, feeding every decoded Event into a Router
// and notifying a player.Manager-shaped mount/unmount/report hook. It is
// the common glue cmd/adapter wires each transport's accept loop through.
type Host struct {
	Driver   Driver
	Router   *router.Router
	OnMount  func(event.Addr)
	OnReport func(addr event.Addr, buttonsNonzero bool)
	OnUnmount func(event.Addr)

	seq event.SeqCounter
}

// Run decodes raw reports supplied by next until it returns an error (io.EOF
// included), submitting every decoded Event to the Router. It is meant to
// be called from the per-transport accept loop's own goroutine.
func (h *Host) Run(next func() ([]byte, error)) error {
	addr := h.Driver.Addr()
	if err := h.Driver.OnMount(); err != nil {
		return err
	}
	if h.OnMount != nil {
		h.OnMount(addr)
	}
	defer func() {
		_ = h.Driver.OnUnmount()
		if h.OnUnmount != nil {
			h.OnUnmount(addr)
		}
	}()

	for {
		raw, err := next()
		if err != nil {
			return err
		}
		ev, ok, err := h.Driver.Decode(raw)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		ev.Seq = h.seq.Next() // monotonic per mounted-driver connection (spec.md §3)
		h.Router.Submit(ev)
		if h.OnReport != nil {
			h.OnReport(addr, ev.Buttons != 0)
		}
	}
}

// TickAll is called once per scheduler cycle for every currently mounted
// driver; callers keep their own slice of live Hosts.
func TickAll(hosts []*Host) {
	for _, h := range hosts {
		_ = h.Driver.Tick()
	}
}
