package registry

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"github.com/vbus-sim/vbus/wire"
)

// Server is the registry process (spec §4.3): it accepts one connection per
// participant, replies with the known-peers snapshot, and broadcasts
// join/departure across the liveness connections it holds open.
type Server struct {
	cfg   *Config
	store Store

	mu   sync.Mutex
	live map[string]*liveConn // participant name -> liveness connection
}

type liveConn struct {
	conn net.Conn
	wmu  sync.Mutex
}

func (c *liveConn) writeFrame(f wire.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wire.WriteFrame(c.conn, f)
}

// NewServer constructs a registry backed by store (registry.NewDefault() for
// an in-memory roster, or an alternate Store for restartable deployments).
func NewServer(store Store, opts ...Option) *Server {
	return &Server{
		cfg:   applyConfig(opts),
		store: store,
		live:  make(map[string]*liveConn),
	}
}

// Serve accepts connections from ln until ctx is done or Accept fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
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
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	log := s.cfg.log
	br := bufio.NewReader(conn)

	frame, err := wire.ReadFrame(br)
	if err != nil {
		conn.Close()
		return
	}
	if frame.Kind != wire.KindHandshake {
		conn.Close()
		return
	}
	req, err := wire.UnmarshalRegistryJoinRequest(frame.Payload)
	if err != nil {
		conn.Close()
		return
	}

	version, negErr := wire.Negotiate(wire.CurrentVersion, req.ProtocolVersion)
	if negErr != nil {
		_ = wire.WriteFrame(conn, wire.Frame{Kind: wire.KindHandshake, Payload: wire.RegistryJoinResponse{
			RejectReason: wire.RejectVersionTooOld,
		}.Marshal()})
		conn.Close()
		return
	}

	existing, err := s.store.List(ctx)
	if err != nil {
		conn.Close()
		return
	}

	id, err := s.store.NextID(ctx)
	if err != nil {
		conn.Close()
		return
	}
	peer := Peer{Name: req.ParticipantName, ID: id, Address: req.ListenAddress}
	if err := s.store.Add(ctx, peer); err != nil {
		reason := wire.RejectDuplicateName
		if !errors.Is(err, ErrDuplicateName) {
			reason = wire.RejectUnknown
		}
		_ = wire.WriteFrame(conn, wire.Frame{Kind: wire.KindHandshake, Payload: wire.RegistryJoinResponse{
			RejectReason: reason,
		}.Marshal()})
		conn.Close()
		return
	}

	if err := wire.WriteFrame(conn, wire.Frame{Kind: wire.KindHandshake, Payload: wire.RegistryJoinResponse{
		Accepted: true, ParticipantID: id, AcceptedVersion: version,
	}.Marshal()}); err != nil {
		conn.Close()
		return
	}

	known := make([]wire.KnownPeer, len(existing))
	for i, p := range existing {
		known[i] = wire.KnownPeer{Name: p.Name, ID: p.ID, Address: p.Address}
	}
	if err := wire.WriteFrame(conn, wire.Frame{Kind: wire.KindKnownPeers, Payload: wire.KnownPeersMessage{Peers: known}.Marshal()}); err != nil {
		conn.Close()
		return
	}

	lc := &liveConn{conn: conn}
	s.mu.Lock()
	s.live[peer.Name] = lc
	s.mu.Unlock()
	s.cfg.metrics.IncrementPeersConnected()

	s.broadcastExcept(peer.Name, wire.Frame{
		Kind: wire.KindPeerJoined,
		Payload: wire.PeerJoinedAnnouncement{Peer: wire.KnownPeer{
			Name: peer.Name, ID: peer.ID, Address: peer.Address,
		}}.Marshal(),
	})

	log.WithField("participant", peer.Name).Info("registry: participant joined")

	// The connection is held open purely as a liveness channel (spec §4.3);
	// any further frames are drained and discarded until it closes.
	for {
		if _, err := wire.ReadFrame(br); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.live, peer.Name)
	s.mu.Unlock()
	_ = s.store.Remove(context.Background(), peer.Name)
	s.cfg.metrics.IncrementPeersDisconnected()
	conn.Close()

	s.broadcastExcept(peer.Name, wire.Frame{
		Kind:    wire.KindPeerDeparted,
		Payload: wire.PeerDepartedAnnouncement{Name: peer.Name}.Marshal(),
	})
	log.WithField("participant", peer.Name).Info("registry: participant departed")
}

func (s *Server) broadcastExcept(except string, f wire.Frame) {
	s.mu.Lock()
	targets := make([]*liveConn, 0, len(s.live))
	for name, lc := range s.live {
		if name == except {
			continue
		}
		targets = append(targets, lc)
	}
	s.mu.Unlock()
	for _, lc := range targets {
		_ = lc.writeFrame(f)
	}
}
