package wireless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/feedback"
	"github.com/Alia5/VIIPER/input"
	"github.com/Alia5/VIIPER/router"
)

// maxSlots bounds the 0xE0+slot wireless address range (spec.md §6).
const maxSlots = 16

// Server is the UDP input listener + TCP control-channel sender for JOCP
// (spec.md §6). It demuxes datagrams by source address into one Host per
// controller, following the same per-connection-Host shape
// device/dualshock4/handler.go's StreamHandler uses for a single TCP
// connection, generalised here to UDP's connectionless demux.
type Server struct {
	router   *router.Router
	feedback *feedback.Hub
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
	nextSlot uint8
}

type client struct {
	addr     event.Addr
	udpAddr  *net.UDPAddr
	in       chan []byte
	lastSeen time.Time
	lastCmd  time.Time
}

// NewServer constructs a Server bound to rtr/hub for feedback publication.
func NewServer(rtr *router.Router, hub *feedback.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{router: rtr, feedback: hub, logger: logger, clients: map[string]*client{}}
}

// ListenAndServe runs the UDP input listener until ctx is cancelled.
// Controllers that stop sending for 5 seconds are dropped (spec.md §5
// "Cancellation / timeouts: wireless controllers expire after 5 s").
func (s *Server) ListenAndServe(ctx context.Context, udpAddr string) error {
	addr, err := net.ResolveUDPAddr("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("jocp: resolve %s: %w", udpAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("jocp: listen %s: %w", udpAddr, err)
	}
	defer conn.Close()

	go s.reapLoop(ctx)

	buf := make([]byte, totalInputFrame+16)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("jocp: read: %w", err)
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		s.dispatch(frame, from)
	}
}

func (s *Server) dispatch(frame []byte, from *net.UDPAddr) {
	key := from.String()
	s.mu.Lock()
	c, ok := s.clients[key]
	if !ok {
		if s.nextSlot >= maxSlots {
			s.mu.Unlock()
			s.logger.Warn("jocp: wireless slot table full, dropping new controller", "from", key)
			return
		}
		addr := event.Addr{Device: event.AddrWirelessOf + s.nextSlot}
		s.nextSlot++
		c = &client{addr: addr, udpAddr: from, in: make(chan []byte, 8), lastSeen: time.Now()}
		s.clients[key] = c
		s.mu.Unlock()
		go s.runClient(c)
	} else {
		c.lastSeen = time.Now()
		s.mu.Unlock()
	}
	select {
	case c.in <- frame:
	default:
		s.logger.Warn("jocp: client inbound queue full, dropping frame", "addr", c.addr)
	}
}

func (s *Server) runClient(c *client) {
	drv, err := input.Probe(input.Descriptor{Transport: event.TransportWiFi}, c.addr)
	if err != nil {
		s.logger.Error("jocp: no driver matched wireless descriptor", "error", err)
		return
	}
	host := &input.Host{Driver: drv, Router: s.router}
	err = host.Run(func() ([]byte, error) {
		frame, ok := <-c.in
		if !ok {
			return nil, fmt.Errorf("jocp: client %s closed", c.addr)
		}
		return frame, nil
	})
	s.logger.Info("jocp: client disconnected", "addr", c.addr, "error", err)
	s.mu.Lock()
	delete(s.clients, c.udpAddr.String())
	s.mu.Unlock()
}

// reapLoop drops clients silent for more than 5 seconds.
func (s *Server) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			for key, c := range s.clients {
				if time.Since(c.lastSeen) > 5*time.Second {
					close(c.in)
					delete(s.clients, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// SendFeedback rate-limits and forwards a rumble/LED command to the
// controller identified by addr over a fresh TCP connection per send,
// matching JOCP's "rate-limited to 1 per 50ms per controller" control
// channel (spec.md §6). tcpPort is appended to the client's UDP source IP.
func (s *Server) SendFeedback(addr event.Addr, tcpPort int, cmd OutputCommand) error {
	s.mu.Lock()
	var dest *client
	for _, c := range s.clients {
		if c.addr == addr {
			dest = c
			break
		}
	}
	s.mu.Unlock()
	if dest == nil {
		return fmt.Errorf("jocp: no client for addr %+v", addr)
	}
	if time.Since(dest.lastCmd) < outputCommandInterval {
		return fmt.Errorf("jocp: rate limited, %s remaining", outputCommandInterval-time.Since(dest.lastCmd))
	}
	tcpAddr := &net.TCPAddr{IP: dest.udpAddr.IP, Port: tcpPort}
	conn, err := net.DialTimeout("tcp", tcpAddr.String(), time.Second)
	if err != nil {
		return fmt.Errorf("jocp: dial control channel: %w", err)
	}
	defer conn.Close()
	b, err := cmd.Marshal()
	if err != nil {
		return err
	}
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("jocp: write control command: %w", err)
	}
	dest.lastCmd = time.Now()
	return nil
}

// RegisterFeedback installs this server's SendFeedback as the feedback
// sink for addr, bridging feedback.Hub.Publish back onto the TCP control
// channel for the player slot currently assigned to addr.
func (s *Server) RegisterFeedback(addr event.Addr, tcpPort int) {
	if s.feedback == nil {
		return
	}
	s.feedback.Register(addr, func(a event.Addr, state feedback.State) {
		if !state.HasRumble {
			return
		}
		cmd := RumbleCommand(state.Rumble.Low, state.Rumble.High, 0)
		if err := s.SendFeedback(a, tcpPort, cmd); err != nil {
			s.logger.Debug("jocp: feedback send failed", "addr", a, "error", err)
		}
	})
}

