// Package participant provides the top-level wiring a host process uses to
// join the mesh: registry handshake, connection manager, discovery engine,
// lifecycle state machine, and (optionally) the time-sync barrier, combined
// behind one constructor.
package participant

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/vbus-sim/vbus/controller"
	"github.com/vbus-sim/vbus/discovery"
	"github.com/vbus-sim/vbus/lifecycle"
	"github.com/vbus-sim/vbus/meshnet"
	"github.com/vbus-sim/vbus/registry"
	"github.com/vbus-sim/vbus/timesync"
	"github.com/vbus-sim/vbus/transport"
	"github.com/vbus-sim/vbus/wire"
)

// Participant bundles one process's view of the mesh.
type Participant struct {
	cfg Config

	ID uint64

	registryClient *registry.Client
	mesh           *meshnet.Manager
	discovery      *discovery.Engine
	lifecycle      *lifecycle.Service
	timesync       *timesync.Service

	listener net.Listener

	namesMu sync.RWMutex
	names   map[uint64]string // participant id -> name, for controller.Resolver
}

func (p *Participant) setName(id uint64, name string) {
	p.namesMu.Lock()
	defer p.namesMu.Unlock()
	p.names[id] = name
}

func (p *Participant) lookupName(id uint64) (string, bool) {
	p.namesMu.RLock()
	defer p.namesMu.RUnlock()
	name, ok := p.names[id]
	return name, ok
}

func (p *Participant) lookupID(name string) (uint64, bool) {
	p.namesMu.RLock()
	defer p.namesMu.RUnlock()
	for id, n := range p.names {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// New joins the registry, dials every known peer, starts accepting inbound
// peer dials, and wires discovery + lifecycle (+ time-sync, if configured).
func New(ctx context.Context, name string, opts ...Option) (*Participant, error) {
	cfg := defaultConfig(name)
	for _, o := range opts {
		o(&cfg)
	}

	ln, err := transport.Listen(cfg.ListenScheme, cfg.ListenAddress, transport.WithLogger(cfg.log), transport.WithMetrics(cfg.metrics))
	if err != nil {
		return nil, fmt.Errorf("participant: listen: %w", err)
	}
	connString, err := advertisedAddress(ln)
	if err != nil {
		ln.Close()
		return nil, err
	}

	registryConn, err := transport.Dial(cfg.RegistryScheme, cfg.RegistryAddress, transport.WithLogger(cfg.log), transport.WithMetrics(cfg.metrics))
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("participant: dial registry: %w", err)
	}

	client, knownPeers, err := registry.Join(ctx, registryConn, cfg.ParticipantName, connString,
		registry.WithLogger(cfg.log), registry.WithMetrics(cfg.metrics))
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("participant: join registry: %w", err)
	}

	mesh := meshnet.NewManager(cfg.ParticipantName, client.ParticipantID,
		meshnet.WithLogger(cfg.log), meshnet.WithMetrics(cfg.metrics))

	p := &Participant{
		cfg:            cfg,
		ID:             client.ParticipantID,
		registryClient: client,
		mesh:           mesh,
		listener:       ln,
		names:          make(map[uint64]string),
	}
	p.discovery = discovery.NewEngine(cfg.ParticipantName, mesh)
	p.lifecycle = lifecycle.NewService(cfg.ParticipantName, cfg.lifecycleOpts...)
	if cfg.SyncStepNs > 0 {
		p.timesync = timesync.NewService(cfg.ParticipantName, cfg.SyncStepNs, mesh)
	}

	mesh.Subscribe(discovery.DiscoveryNetwork, discovery.DiscoveryTag, 0, func(_ wire.EndpointAddress, _ wire.MessageTag, body []byte) {
		if err := p.discovery.HandleAnnouncement(body); err != nil {
			cfg.log.WithError(err).Warn("participant: bad service announcement")
		}
	})
	if p.timesync != nil {
		mesh.Subscribe(timesync.SyncNetwork, timesync.SyncTag, 0, func(src wire.EndpointAddress, _ wire.MessageTag, body []byte) {
			tick, err := wire.UnmarshalNextSimTask(body)
			if err != nil {
				return
			}
			if name, ok := p.lookupName(src.ParticipantID); ok {
				p.timesync.HandlePeerTick(name, tick)
			}
		})
	}

	mesh.OnPeerDeparted(func(name string) {
		if cfg.RequiredPeers[name] && hasReachedReadyToRun(p.lifecycle.State()) {
			p.lifecycle.ReportError(fmt.Sprintf("required peer %q departed", name))
		}
	})

	go mesh.Serve(ctx, ln)

	for _, peer := range knownPeers {
		p.setName(peer.ID, peer.Name)
		conn, err := transport.Dial("tcp", peer.Address, transport.WithLogger(cfg.log), transport.WithMetrics(cfg.metrics))
		if err != nil {
			cfg.log.WithError(err).WithField("peer", peer.Name).Warn("participant: could not dial known peer")
			continue
		}
		if _, err := mesh.DialPeer(conn, peer.Name); err != nil {
			cfg.log.WithError(err).WithField("peer", peer.Name).Warn("participant: handshake with known peer failed")
		}
	}

	go p.watchRoster(ctx)

	if err := p.lifecycle.ServicesCreated(); err != nil {
		cfg.log.WithError(err).Warn("participant: ServicesCreated transition failed")
	}

	return p, nil
}

func (p *Participant) watchRoster(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case peer, ok := <-p.registryClient.PeerJoined:
			if !ok {
				return
			}
			p.setName(peer.ID, peer.Name)
			conn, err := transport.Dial("tcp", peer.Address, transport.WithLogger(p.cfg.log), transport.WithMetrics(p.cfg.metrics))
			if err != nil {
				p.cfg.log.WithError(err).WithField("peer", peer.Name).Warn("participant: could not dial newly joined peer")
				continue
			}
			if _, err := p.mesh.DialPeer(conn, peer.Name); err != nil {
				p.cfg.log.WithError(err).WithField("peer", peer.Name).Warn("participant: handshake with newly joined peer failed")
			}
		case name, ok := <-p.registryClient.PeerDeparted:
			if !ok {
				return
			}
			p.cfg.log.WithField("peer", name).Info("participant: peer departed")
		}
	}
}

func hasReachedReadyToRun(s wire.ParticipantState) bool {
	switch s {
	case wire.StateReadyToRun, wire.StateRunning, wire.StatePaused, wire.StateStopping,
		wire.StateStopped, wire.StateShuttingDown, wire.StateReinitializing:
		return true
	default:
		return false
	}
}

func advertisedAddress(ln net.Listener) (string, error) {
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return ln.Addr().String(), nil
	}
	return addr.String(), nil
}

// Resolver returns a controller.Resolver backed by this participant's
// roster (populated from the registry's known-peers snapshot and
// subsequent join notifications).
func (p *Participant) Resolver() controller.Resolver {
	return p.lookupID
}

// Mesh returns the connection manager, for constructing controller.Facades.
func (p *Participant) Mesh() *meshnet.Manager { return p.mesh }

// Discovery returns the discovery engine, for announcing local services.
func (p *Participant) Discovery() *discovery.Engine { return p.discovery }

// Lifecycle returns the per-participant state machine.
func (p *Participant) Lifecycle() *lifecycle.Service { return p.lifecycle }

// TimeSync returns the time-sync barrier, or nil if this participant is not
// synchronized.
func (p *Participant) TimeSync() *timesync.Service { return p.timesync }

// Close tears down the registry liveness connection and the inbound
// listener.
func (p *Participant) Close() error {
	_ = p.registryClient.Close()
	return p.listener.Close()
}
