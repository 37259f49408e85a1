package adapter

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrExchangeTimeout is returned by Endpoint.Exchange when the bus does not
// grant the next step within the configured timeout. Callers may retry or
// initiate a graceful exit.
var ErrExchangeTimeout = errors.New("bus exchange timed out")

// Endpoint is the transport consumed by the Adapter. Concrete network
// transports (TCP, shared memory, message queue) live outside this module
// and register themselves with RegisterTransport; the in-tree kind is the
// loopback bus used for single-process co-simulation and testing.
type Endpoint interface {
	// UID identifies this endpoint on the bus. Used to derive the
	// simulation UID when the caller supplied none.
	UID() uint32

	// Start allocates transport resources. Called once before Connect.
	Start() error

	// Connect announces one model (ModelRegister) with the simulation
	// step size.
	Connect(am *AdapterModel, stepSize float64) error

	// Register indexes the model's signals (SignalIndex/SignalRead),
	// assigning signal UIDs.
	Register(am *AdapterModel) error

	// Exchange publishes pending writes for all models and blocks until
	// the bus grants the next step, updating each model's times and
	// signal tables. A timeout surfaces as ErrExchangeTimeout.
	Exchange(models []*AdapterModel) error

	// Exit sends the model's leave notification.
	Exit(am *AdapterModel) error

	// Interrupt unblocks a pending Exchange. Must not block or allocate.
	Interrupt()

	// Disconnect releases transport resources.
	Disconnect()
}

// EndpointFactory creates an endpoint for a transport URI. uid is the
// caller-requested endpoint UID (0 = transport assigns) and timeout the
// per-exchange limit in seconds.
type EndpointFactory func(uri string, uid uint32, timeout float64) (Endpoint, error)

var (
	transportMu sync.Mutex
	transports  = map[string]EndpointFactory{}
)

// RegisterTransport makes a transport kind available to NewEndpoint.
// Registration of a duplicate kind panics (programming error).
func RegisterTransport(kind string, factory EndpointFactory) {
	transportMu.Lock()
	defer transportMu.Unlock()
	if _, exists := transports[kind]; exists {
		panic(fmt.Sprintf("adapter: transport %q registered twice", kind))
	}
	transports[kind] = factory
}

// NewEndpoint creates an endpoint for the given transport kind and URI.
func NewEndpoint(kind, uri string, uid uint32, timeout float64) (Endpoint, error) {
	transportMu.Lock()
	factory, ok := transports[kind]
	kinds := transportKinds()
	transportMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown transport %q (registered: %v)", kind, kinds)
	}
	return factory(uri, uid, timeout)
}

func transportKinds() []string {
	kinds := make([]string, 0, len(transports))
	for k := range transports {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
