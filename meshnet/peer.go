package meshnet

import (
	"net"
	"sync"

	"github.com/vbus-sim/vbus/wire"
)

// PeerLink is one established mesh connection to another participant.
type PeerLink struct {
	Name string
	ID   uint64

	conn net.Conn
	wmu  sync.Mutex

	mu   sync.RWMutex
	subs map[subKey]struct{} // (network, tag) this peer has told us it wants
}

func newPeerLink(conn net.Conn, name string, id uint64) *PeerLink {
	return &PeerLink{
		Name: name,
		ID:   id,
		conn: conn,
		subs: make(map[subKey]struct{}),
	}
}

func (p *PeerLink) recordSubscription(network string, tag wire.MessageTag) {
	key := subKey{Network: network, Tag: tag}
	p.mu.Lock()
	p.subs[key] = struct{}{}
	p.mu.Unlock()
}

func (p *PeerLink) interestedIn(key subKey) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.subs[key]
	return ok
}

func (p *PeerLink) writeFrame(f wire.Frame) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return wire.WriteFrame(p.conn, f)
}

func (p *PeerLink) sendSubscription(network string, tag wire.MessageTag) {
	_ = p.writeFrame(wire.Frame{
		Kind: wire.KindSubscriptionAnnounce,
		Payload: wire.SubscriptionAnnouncement{
			Network: network,
			Tag:     tag,
		}.Marshal(),
	})
}
