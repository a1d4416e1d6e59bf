package maple

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/controller/target"
	"github.com/Alia5/VIIPER/feedback"
	"github.com/Alia5/VIIPER/output"
	"github.com/Alia5/VIIPER/profile"
	"github.com/Alia5/VIIPER/sched"
)

func init() {
	output.Register("maple", newResponderSink)
}

// respState is the response state machine's state (spec.md §4.6 "Response
// state machine").
type respState int

const (
	respIdle respState = iota
	respPendingInfo
	respPendingStatus
	respPendingAck
)

// ringDepth matches spec.md §4.6 "16 slots".
const ringDepth = 16

// deviceInfoResponse is the precomputed Device-Info reply payload sent on
// CommandDeviceRequest, built once at startup rather than per-request. It
// holds two big-endian function words (Controller, Vibration) and nothing
// else: no area code and no free-text identifier.
var deviceInfoResponse = []byte{
	0x01, 0x00, 0x00, 0x00, // function: Controller
	0x00, 0x01, 0x00, 0x00, // function: Vibration
}

// Responder is one Maple port's decode+response pair. Decode runs on its
// own RealtimeWorker (spec.md §4.6 "Decode loop"); the response state
// machine runs from the cooperative Task, driven by packets handed off
// through a lock-free ring.
type Responder struct {
	port    uint8
	decoder *Decoder
	ring    *sched.Ring[[]byte]

	mu                 sync.Mutex
	state              respState
	pendingOrigin      uint8 // our own port address, echoed from the request's destination
	pendingDestination uint8 // the requester's address, echoed from the request's origin
	txBuf              []byte

	txInFlight atomic.Bool
	rumblePending atomic.Uint32 // packed (low<<8 | high), set by SetCondition/Vibration

	deps    output.Deps
	player  int
}

// NewResponder constructs a Responder bound to the given Maple port and
// router player slot.
func NewResponder(port uint8, player int) *Responder {
	return &Responder{
		port:    port,
		decoder: NewDecoder(),
		ring:    sched.NewRing[[]byte](ringDepth),
		player:  player,
	}
}

// FeedLine is called by the real-time worker for every sampled line
// transition. A completed, CRC-valid packet is pushed onto the
// hand-off ring for the cooperative Task to process; if the ring is full,
// Push fails and this new packet is dropped. The worker never blocks.
func (r *Responder) FeedLine(ls LineState) {
	raw, ok := r.decoder.Feed(ls)
	if !ok {
		return
	}
	r.ring.Push(raw)
}

// RunRealtime is the RealtimeSink entry point: it has no natural "line
// source" in software emulation, so in this adapter the real-time worker
// is driven externally (a USB/IP or GPIO capture source calls FeedLine
// directly); RunRealtime simply blocks until ctx is cancelled, keeping the
// worker registered with the scheduler for symmetry with a hardware build
// where it would instead poll a capture register in a tight loop.
func (r *Responder) RunRealtime(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *Responder) Target() target.Target { return target.Dreamcast }

func (r *Responder) Init(deps output.Deps) error {
	r.deps = deps
	return nil
}

// Task drains every packet the real-time worker handed off since the last
// tick and advances the response state machine (spec.md §4.6 "cooperative
// core").
func (r *Responder) Task() error {
	for {
		raw, ok := r.ring.Pop()
		if !ok {
			return nil
		}
		pkt, err := ParsePacket(raw)
		if err != nil {
			continue // malformed packet after CRC pass: count-and-drop per spec.md §7
		}
		r.handlePacket(pkt)
	}
}

func (r *Responder) Close() error { return nil }

// handlePacket implements the state transitions and response arming
// described in spec.md §4.6. Any response found already pending when a
// new request arrives must first be treated as drained (the invariant
// that exactly one response exists per accepted request), since this
// software model has no real DMA completion to wait on.
func (r *Responder) handlePacket(pkt Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pendingOrigin = pkt.Destination
	r.pendingDestination = pkt.Origin

	switch pkt.Command {
	case CommandDeviceRequest:
		r.state = respPendingInfo
		r.armTX(CommandDeviceInfoReply, deviceInfoResponse)

	case CommandGetCondition:
		if functionOf(pkt.Data) != FunctionController {
			return
		}
		r.state = respPendingStatus
		r.armTX(CommandDataTransfer, r.buildControllerStatus())

	case CommandSetCondition:
		if functionOf(pkt.Data) != FunctionVibration || len(pkt.Data) < 6 {
			return
		}
		low, high := pkt.Data[4], pkt.Data[5]
		r.rumblePending.Store(uint32(low)<<8 | uint32(high))
		if r.deps.Feedback != nil {
			r.deps.Feedback.Publish(target.Dreamcast, r.player, feedback.State{
				Rumble:    feedback.Rumble{Low: low, High: high},
				HasRumble: true,
			})
		}
		r.state = respPendingAck
		r.armTX(CommandAckReply, nil)

	case CommandDeviceReset:
		r.state = respPendingAck
		r.armTX(CommandAckReply, nil)

	default:
		// unknown command: no response, per spec.md §4.6 failure semantics
	}
}

// armTX builds the outgoing frame's wire bytes (header + payload + XOR
// CRC, spec.md §4.6/§8 testable property 7) with origin/destination
// echoed from the just-handled request, and queues it for transmission. A
// real build would hand this buffer to a DMA descriptor; this software
// model stores it for PendingTX to drain, discarding any response still
// queued but undrained -- the spec.md invariant that exactly one response
// exists per accepted request means the prior buffer is always stale by
// the time a new one is armed.
func (r *Responder) armTX(cmd Command, payload []byte) {
	r.txBuf = BuildResponse(cmd, r.pendingDestination, r.pendingOrigin, payload)
	r.txInFlight.Store(true)
}

// PendingTX returns the most recently armed response frame and clears it,
// for a transport (Task or an external caller) to actually transmit. ok
// is false if no response is armed.
func (r *Responder) PendingTX() (frame []byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.txInFlight.Load() {
		return nil, false
	}
	frame = r.txBuf
	r.txBuf = nil
	r.txInFlight.Store(false)
	return frame, true
}

// buildControllerStatus maps the current router output for this Maple
// port's player slot into the vendor's active-low controller status
// report payload; the XOR CRC is appended when armTX builds the frame.
func (r *Responder) buildControllerStatus() []byte {
	res := profile.Result{Buttons: 0, Analog: event.NeutralAnalog()}
	if r.deps.Router != nil {
		ev, ok := r.deps.Router.GetOutput(target.Dreamcast, r.player)
		if ok {
			if r.deps.Profiles != nil {
				if applied, err := r.deps.Profiles.Apply(target.Dreamcast, r.player, ev.Buttons, ev.Analog); err == nil {
					res = applied
				}
			} else {
				res = profile.Result{Buttons: ev.Buttons, Analog: ev.Analog}
			}
		}
	}

	payload := make([]byte, 8)
	payload[0] = r.port
	// Bits active-low: a pressed button clears its bit.
	word := ^encodeControllerButtons(res.Buttons)
	payload[1] = byte(word)
	payload[2] = byte(word >> 8)
	payload[3] = res.Analog[buttons.LX]
	payload[4] = res.Analog[buttons.LY]
	payload[5] = res.Analog[buttons.RX]
	payload[6] = res.Analog[buttons.RY]
	payload[7] = res.Analog[buttons.R2Axis]
	return payload
}

// encodeControllerButtons maps the canonical mask onto the vendor
// controller's 16-bit button word (pre-inversion; buildControllerStatus
// inverts it to the bus's active-low convention).
func encodeControllerButtons(b buttons.Mask) uint16 {
	var w uint16
	set := func(bit buttons.Mask, flag uint16) {
		if b.Has(bit) {
			w |= flag
		}
	}
	set(buttons.S2, 0x0008) // Start
	set(buttons.DU, 0x0010)
	set(buttons.DD, 0x0020)
	set(buttons.DL, 0x0040)
	set(buttons.DR, 0x0080)
	set(buttons.B1, 0x0004) // A
	set(buttons.B2, 0x0002) // B
	set(buttons.B3, 0x0400) // X
	set(buttons.B4, 0x0200) // Y
	return w
}

func newResponderSink(cfg map[string]any) (output.Sink, error) {
	var port uint8
	if v, ok := cfg["port"].(uint8); ok {
		port = v
	} else if v, ok := cfg["port"].(int); ok {
		port = uint8(v)
	}
	var player int
	if v, ok := cfg["player"].(int); ok {
		player = v
	}
	return NewResponder(port, player), nil
}
