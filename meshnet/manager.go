// Package meshnet implements the connection manager (spec §4.4): for one
// participant that has already joined the registry, it performs the mesh
// handshake over connections the caller dials, accepts inbound peer dials,
// maintains per-peer subscription sets, and routes inbound frames to local
// subscribers.
package meshnet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/vbus-sim/vbus/wire"
)

// ErrPeerUnreachable names a failure to reach a known peer. No function in
// this module returns it: the participant's dial loops log the underlying
// dial error and go on with the next peer.
var ErrPeerUnreachable = errors.New("meshnet: peer unreachable")

// ErrHandshakeRejected is returned when a peer declines our connection.
type ErrHandshakeRejected struct{ Reason byte }

func (e *ErrHandshakeRejected) Error() string {
	return fmt.Sprintf("meshnet: handshake rejected (reason %d)", e.Reason)
}

// Handler receives one inbound typed message for a local endpoint.
type Handler func(src wire.EndpointAddress, tag wire.MessageTag, body []byte)

type subKey struct {
	Network string
	Tag     wire.MessageTag
}

type route struct {
	endpointID uint64
	handler    Handler
}

// Manager is the per-participant connection manager.
type Manager struct {
	name string
	id   uint64
	cfg  *Config

	mu         sync.RWMutex
	peers      map[string]*PeerLink
	routes     map[subKey][]route
	ourSubs    map[subKey]struct{}
	departedFn func(name string)
}

// NewManager constructs a connection manager for a participant that has
// already joined the registry and learned its assigned id.
func NewManager(participantName string, participantID uint64, opts ...Option) *Manager {
	return &Manager{
		name:    participantName,
		id:      participantID,
		cfg:     applyConfig(opts),
		peers:   make(map[string]*PeerLink),
		routes:  make(map[subKey][]route),
		ourSubs: make(map[subKey]struct{}),
	}
}

// OnPeerDeparted registers a callback invoked whenever a peer link tears
// down, from the I/O goroutine that detected it.
func (m *Manager) OnPeerDeparted(fn func(name string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.departedFn = fn
}

// Serve accepts inbound peer dials on ln until ctx is done.
func (m *Manager) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			if _, err := m.accept(conn); err != nil {
				m.cfg.log.WithError(err).Warn("meshnet: inbound handshake failed")
			}
		}()
	}
}

// DialPeer connects to a known peer and performs the mesh handshake
// (spec §4.2). The established link is registered and its read loop
// started; DialPeer returns once the handshake completes.
func (m *Manager) DialPeer(conn net.Conn, peerName string) (*PeerLink, error) {
	br := bufio.NewReader(conn)
	req := wire.HandshakeRequest{
		ProtocolVersion: wire.CurrentVersion,
		ParticipantName: m.name,
		CapabilityFlags: 0,
	}
	if err := wire.WriteFrame(conn, wire.Frame{Kind: wire.KindHandshake, Payload: req.Marshal()}); err != nil {
		return nil, fmt.Errorf("meshnet: send handshake: %w", err)
	}
	frame, err := wire.ReadFrame(br)
	if err != nil {
		return nil, fmt.Errorf("meshnet: read handshake response: %w", err)
	}
	if len(frame.Payload) == 1 {
		return nil, &ErrHandshakeRejected{Reason: frame.Payload[0]}
	}
	accept, err := wire.UnmarshalHandshakeAccept(frame.Payload)
	if err != nil {
		return nil, fmt.Errorf("meshnet: decode handshake accept: %w", err)
	}
	return m.register(conn, br, accept.ParticipantName, accept.ParticipantID), nil
}

func (m *Manager) accept(conn net.Conn) (*PeerLink, error) {
	br := bufio.NewReader(conn)
	frame, err := wire.ReadFrame(br)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("meshnet: read handshake request: %w", err)
	}
	req, err := wire.UnmarshalHandshakeRequest(frame.Payload)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("meshnet: decode handshake request: %w", err)
	}
	version, negErr := wire.Negotiate(wire.CurrentVersion, req.ProtocolVersion)
	if negErr != nil {
		_ = wire.WriteFrame(conn, wire.Frame{Kind: wire.KindHandshake, Payload: []byte{wire.RejectVersionTooOld}})
		conn.Close()
		return nil, negErr
	}
	accept := wire.HandshakeAccept{ParticipantID: m.id, AcceptedVersion: version, ParticipantName: m.name}
	if err := wire.WriteFrame(conn, wire.Frame{Kind: wire.KindHandshake, Payload: accept.Marshal()}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("meshnet: send handshake accept: %w", err)
	}
	return m.register(conn, br, req.ParticipantName, 0), nil
}

func (m *Manager) register(conn net.Conn, br *bufio.Reader, peerName string, peerID uint64) *PeerLink {
	link := newPeerLink(conn, peerName, peerID)

	m.mu.Lock()
	m.peers[peerName] = link
	for key := range m.ourSubs {
		link.sendSubscription(key.Network, key.Tag)
	}
	m.mu.Unlock()

	m.cfg.metrics.IncrementPeersConnected()
	go m.readLoop(link, br)
	return link
}

func (m *Manager) readLoop(link *PeerLink, br *bufio.Reader) {
	for {
		frame, err := wire.ReadFrame(br)
		if err != nil {
			m.dropPeer(link.Name)
			return
		}
		m.cfg.metrics.IncrementFramesReceived()
		switch frame.Kind {
		case wire.KindSubscriptionAnnounce:
			sub, err := wire.UnmarshalSubscriptionAnnouncement(frame.Payload)
			if err != nil {
				m.cfg.log.WithError(err).Warn("meshnet: bad subscription announcement")
				continue
			}
			link.recordSubscription(sub.Network, sub.Tag)
		case wire.KindIBMessage:
			msg, err := wire.DecodeIBMessage(frame.Payload)
			if err != nil {
				m.cfg.log.WithError(err).Warn("meshnet: bad ib-message, closing link")
				m.dropPeer(link.Name)
				return
			}
			m.dispatchLocal(msg.Network, msg.Source, msg.Tag, msg.Body)
		default:
			m.cfg.log.WithField("kind", frame.Kind).Warn("meshnet: unexpected frame kind on peer link")
		}
	}
}

func (m *Manager) dropPeer(name string) {
	m.mu.Lock()
	link, ok := m.peers[name]
	if ok {
		delete(m.peers, name)
	}
	fn := m.departedFn
	m.mu.Unlock()
	if !ok {
		return
	}
	link.conn.Close()
	m.cfg.metrics.IncrementPeersDisconnected()
	if fn != nil {
		fn(name)
	}
}

// Subscribe registers a local endpoint's interest in (network, tag) and
// announces it to every current and future peer.
func (m *Manager) Subscribe(network string, tag wire.MessageTag, endpointID uint64, handler Handler) {
	key := subKey{Network: network, Tag: tag}

	m.mu.Lock()
	m.routes[key] = append(m.routes[key], route{endpointID: endpointID, handler: handler})
	isNew := false
	if _, ok := m.ourSubs[key]; !ok {
		m.ourSubs[key] = struct{}{}
		isNew = true
	}
	peers := make([]*PeerLink, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	if isNew {
		for _, p := range peers {
			p.sendSubscription(network, tag)
		}
	}
}

func (m *Manager) dispatchLocal(network string, src wire.EndpointAddress, tag wire.MessageTag, body []byte) {
	key := subKey{Network: network, Tag: tag}
	m.mu.RLock()
	routes := append([]route(nil), m.routes[key]...)
	m.mu.RUnlock()
	for _, r := range routes {
		r.handler(src, tag, body)
	}
}

// Send transmits an ib-message: first to every local subscriber in-process,
// then over the wire to every peer that has declared interest in (network, tag).
func (m *Manager) Send(network string, src wire.EndpointAddress, tag wire.MessageTag, body []byte) {
	m.dispatchLocal(network, src, tag, body)

	key := subKey{Network: network, Tag: tag}
	frame := wire.Frame{Kind: wire.KindIBMessage, Payload: wire.EncodeIBMessage(wire.IBMessage{
		Network: network, Source: src, Tag: tag, Body: body,
	})}

	m.mu.RLock()
	targets := make([]*PeerLink, 0, len(m.peers))
	for _, p := range m.peers {
		if p.interestedIn(key) {
			targets = append(targets, p)
		}
	}
	m.mu.RUnlock()

	for _, p := range targets {
		if err := p.writeFrame(frame); err != nil {
			m.cfg.log.WithError(err).WithField("peer", p.Name).Warn("meshnet: write failed")
			m.dropPeer(p.Name)
			continue
		}
		m.cfg.metrics.IncrementFramesSent()
		m.cfg.metrics.IncrementBytesSent(int64(len(frame.Payload)))
	}
}

// Peers returns the names of currently connected peers.
func (m *Manager) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.peers))
	for name := range m.peers {
		names = append(names, name)
	}
	return names
}
