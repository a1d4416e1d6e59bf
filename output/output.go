// Package output is the output driver registry (spec.md §4.5): it pulls
// the per-player result of the router+profile pipeline and re-emits it as
// a transport-native report. Registration follows the same init()-time
// self-registration idiom device/*/handler.go uses for api.RegisterDevice,
// except sinks register themselves against this package's registry instead
// of the API server's stream-handler table.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Alia5/VIIPER/controller/target"
	"github.com/Alia5/VIIPER/feedback"
	"github.com/Alia5/VIIPER/profile"
	"github.com/Alia5/VIIPER/router"
)

// Deps bundles everything a Sink needs to pull normalised input and push
// feedback; every adapted device/* sink closes over one of these instead
// of a net.Conn.
type Deps struct {
	Router   *router.Router
	Profiles *profile.Service
	Feedback *feedback.Hub
	Logger   *slog.Logger
}

// Sink is one output driver instance bound to a single Target. Task is
// called once per scheduler tick (sched.Cooperative's tick, spec.md §5) and
// should pull GetOutput for every player slot it serves, run it through
// Profiles.Apply, and push a wire-native report into its device state.
type Sink interface {
	Target() target.Target
	Init(deps Deps) error
	Task() error
	Close() error
}

// RealtimeSink is implemented by sinks with a hard real-time decode/respond
// loop (the Maple bus responder, the NeoGeo direct-wired driver) that
// cannot tolerate the cooperative scheduler's jitter and instead run their
// own goroutine pinned to the real-time half of the two-goroutine harness
// (spec.md §5).
type RealtimeSink interface {
	Sink
	RunRealtime(ctx context.Context) error
}

// Factory builds a Sink from a target-specific configuration blob. cfg is
// decoded by the factory itself (usually from the kong-toml config's
// per-output section) since shapes differ per transport.
type Factory func(cfg map[string]any) (Sink, error)

var (
	mu        sync.Mutex
	factories = map[string]Factory{}
)

// Register installs a Factory under name. Called from sink package init()
// functions, mirroring internal/server/api.RegisterDevice.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Create instantiates the named output sink.
func Create(name string, cfg map[string]any) (Sink, error) {
	mu.Lock()
	f, ok := factories[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("output: unknown sink %q", name)
	}
	return f(cfg)
}

// Names returns the currently registered sink names, for CLI/API listing.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	return out
}
