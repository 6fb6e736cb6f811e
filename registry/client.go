package registry

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/vbus-sim/vbus/wire"
)

// ErrJoinRejected is returned by Join when the registry refuses the
// participant (duplicate name or a version below its floor).
type ErrJoinRejected struct{ Reason byte }

func (e *ErrJoinRejected) Error() string {
	switch e.Reason {
	case wire.RejectVersionTooOld:
		return "registry: join rejected: protocol version too old"
	case wire.RejectDuplicateName:
		return "registry: join rejected: duplicate participant name"
	default:
		return "registry: join rejected"
	}
}

// Client is a joined participant's handle on the registry's liveness
// connection. PeerJoined and PeerDeparted deliver roster changes for as
// long as the connection stays open.
type Client struct {
	conn            net.Conn
	cfg             *Config
	ParticipantID   uint64
	AcceptedVersion uint32

	PeerJoined   <-chan wire.KnownPeer
	PeerDeparted <-chan string

	closeOnce sync.Once
}

// Join performs the registry handshake over an already-established
// connection (dialed by the caller via transport.Dial so the choice of
// substrate stays with the connection manager) and starts the background
// reader that feeds PeerJoined/PeerDeparted.
func Join(ctx context.Context, conn net.Conn, participantName, listenAddress string, opts ...Option) (*Client, []Peer, error) {
	cfg := applyConfig(opts)
	br := bufio.NewReader(conn)

	req := wire.RegistryJoinRequest{
		ProtocolVersion: wire.CurrentVersion,
		ParticipantName: participantName,
		ListenAddress:   listenAddress,
	}
	if err := wire.WriteFrame(conn, wire.Frame{Kind: wire.KindHandshake, Payload: req.Marshal()}); err != nil {
		return nil, nil, fmt.Errorf("registry: send join request: %w", err)
	}

	respFrame, err := wire.ReadFrame(br)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: read join response: %w", err)
	}
	resp, err := wire.UnmarshalRegistryJoinResponse(respFrame.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: decode join response: %w", err)
	}
	if !resp.Accepted {
		return nil, nil, &ErrJoinRejected{Reason: resp.RejectReason}
	}

	knownFrame, err := wire.ReadFrame(br)
	if err != nil || knownFrame.Kind != wire.KindKnownPeers {
		return nil, nil, fmt.Errorf("registry: expected known-peers message: %w", err)
	}
	known, err := wire.UnmarshalKnownPeersMessage(knownFrame.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: decode known-peers message: %w", err)
	}

	peers := make([]Peer, len(known.Peers))
	for i, p := range known.Peers {
		peers[i] = Peer{Name: p.Name, ID: p.ID, Address: p.Address}
	}

	joined := make(chan wire.KnownPeer, 16)
	departed := make(chan string, 16)
	c := &Client{
		conn:            conn,
		cfg:             cfg,
		ParticipantID:   resp.ParticipantID,
		AcceptedVersion: resp.AcceptedVersion,
		PeerJoined:      joined,
		PeerDeparted:    departed,
	}
	go c.readLoop(br, joined, departed)

	return c, peers, nil
}

func (c *Client) readLoop(br *bufio.Reader, joined chan<- wire.KnownPeer, departed chan<- string) {
	defer close(joined)
	defer close(departed)
	for {
		frame, err := wire.ReadFrame(br)
		if err != nil {
			return
		}
		switch frame.Kind {
		case wire.KindPeerJoined:
			m, err := wire.UnmarshalPeerJoinedAnnouncement(frame.Payload)
			if err != nil {
				continue
			}
			joined <- m.Peer
		case wire.KindPeerDeparted:
			m, err := wire.UnmarshalPeerDepartedAnnouncement(frame.Payload)
			if err != nil {
				continue
			}
			departed <- m.Name
		default:
			c.cfg.log.WithField("kind", frame.Kind).Warn("registry: unexpected frame on liveness connection")
		}
	}
}

// Close closes the liveness connection, causing the registry to broadcast
// this participant's departure.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}
