// Package controller implements the facade and routing layer (spec §4.6):
// for each bus controller the user creates, selects between an in-process
// "trivial" simulation and a proxy to a remote network simulator, switching
// atomically as service discovery reports simulator ownership of a network.
package controller

import (
	"sync"

	"github.com/vbus-sim/vbus/discovery"
	"github.com/vbus-sim/vbus/meshnet"
	"github.com/vbus-sim/vbus/wire"
)

// BackendKind names which implementation currently serves a Facade. It is
// exposed only for observability — callers never dispatch on it directly,
// satisfying the "never exposes both backends simultaneously" invariant.
type BackendKind int

const (
	BackendTrivial BackendKind = iota
	BackendProxy
)

// RawHandler receives one inbound message body for a facade's (network, tag).
type RawHandler func(src wire.EndpointAddress, body []byte)

// Mesh is the narrow meshnet surface a Facade needs: send a typed message
// and subscribe to inbound ones. meshnet.Manager satisfies this directly.
type Mesh interface {
	Send(network string, src wire.EndpointAddress, tag wire.MessageTag, body []byte)
	Subscribe(network string, tag wire.MessageTag, endpointID uint64, handler meshnet.Handler)
}

// Resolver maps a participant name to its assigned id, so a Facade can tell
// simulator traffic apart from an ordinary peer's once it has switched to
// the proxy backend.
type Resolver func(name string) (uint64, bool)

// simulatorRoleAttribute is the ServiceDescriptor attribute key a network
// simulator sets to announce ownership of a network (spec §4.6).
const simulatorRoleAttribute = "role"
const simulatorRoleValue = "networkSimulator"

// IsNetworkSimulator reports whether d announces simulator ownership.
func IsNetworkSimulator(d wire.ServiceDescriptor) bool {
	return d.Attributes[simulatorRoleAttribute] == simulatorRoleValue
}

// SimulatorDescriptor builds the ServiceDescriptor a network simulator
// announces to claim ownership of network.
func SimulatorDescriptor(participantName, network string, endpointID uint64) wire.ServiceDescriptor {
	return wire.ServiceDescriptor{
		ParticipantName: participantName,
		NetworkName:     network,
		ServiceName:     "networkSimulator",
		ServiceType:     ServiceNetworkSimulator,
		EndpointID:      endpointID,
		Attributes:      map[string]string{simulatorRoleAttribute: simulatorRoleValue},
	}
}

// ServiceNetworkSimulator is the ServiceType a network simulator announces
// under. It is distinct from wire.ServiceController so discovery consumers
// that only care about ordinary controllers can ignore it trivially.
const ServiceNetworkSimulator = wire.ServiceType(100)

// Facade is a per-participant handle to a named network's typed controller
// traffic. It owns the trivial/proxy backend switch; callers never see the
// distinction except through Backend().
type Facade struct {
	network    string
	tag        wire.MessageTag
	endpointID uint64
	mesh       Mesh
	resolve    Resolver

	mu           sync.Mutex
	backend      BackendKind
	simulatorID  uint64
	userHandlers []RawHandler
}

// NewFacade constructs a facade for (network, tag), subscribing to inbound
// traffic through mesh. It starts bound to the trivial backend.
func NewFacade(network string, tag wire.MessageTag, endpointID uint64, mesh Mesh, resolve Resolver) *Facade {
	f := &Facade{
		network:    network,
		tag:        tag,
		endpointID: endpointID,
		mesh:       mesh,
		resolve:    resolve,
		backend:    BackendTrivial,
	}
	mesh.Subscribe(network, tag, endpointID, f.onInbound)
	return f
}

// OnMessage registers a handler. Registration is order-independent with
// respect to backend switches (spec §4.6's invariant): a handler registered
// before or after a switch observes the same subsequent deliveries.
func (f *Facade) OnMessage(h RawHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userHandlers = append(f.userHandlers, h)
}

// Backend reports which backend is currently bound.
func (f *Facade) Backend() BackendKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backend
}

// HandleDiscoveryEvent switches the facade's backend when a network
// simulator announces or withdraws ownership of this facade's network.
// Wired by the caller from a discovery.Engine's OnEvent.
func (f *Facade) HandleDiscoveryEvent(ev discovery.Event) {
	d := ev.Descriptor
	if d.NetworkName != f.network || !IsNetworkSimulator(d) {
		return
	}
	switch ev.Kind {
	case discovery.EventCreated:
		id, ok := f.resolve(d.ParticipantName)
		if !ok {
			return
		}
		f.mu.Lock()
		f.backend = BackendProxy
		f.simulatorID = id
		f.mu.Unlock()
	case discovery.EventRemoved:
		f.mu.Lock()
		f.backend = BackendTrivial
		f.simulatorID = 0
		f.mu.Unlock()
	}
}

func (f *Facade) onInbound(src wire.EndpointAddress, _ wire.MessageTag, body []byte) {
	f.mu.Lock()
	backend := f.backend
	simID := f.simulatorID
	handlers := append([]RawHandler(nil), f.userHandlers...)
	f.mu.Unlock()

	if backend == BackendProxy && src.ParticipantID != simID {
		return // proxied: the simulator is the sole source of truth
	}
	for _, h := range handlers {
		h(src, body)
	}
}

// deliverLocal invokes this facade's currently registered handlers directly,
// without publishing over the mesh. It backs a backend's own trivial
// simulation output (a CAN transmit ack, a FlexRay POC event) which must
// reach only this participant's handlers, never peers.
func (f *Facade) deliverLocal(src wire.EndpointAddress, body []byte) {
	f.onInbound(src, f.tag, body)
}

// Send transmits body over the facade's (network, tag). meshnet's per-peer
// subscription filtering restricts delivery to peers subscribed to that
// (network, tag), the simulator among them; the facade addresses the send
// the same way under either backend. A receiving facade that is itself
// proxied drops the message unless it comes from the simulator.
func (f *Facade) Send(src wire.EndpointAddress, body []byte) {
	f.mesh.Send(f.network, src, f.tag, body)
}
