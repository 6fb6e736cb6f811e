package controller

import (
	"time"

	"github.com/vbus-sim/vbus/discovery"
	"github.com/vbus-sim/vbus/wire"
)

// CanFrameHandler observes CAN frames from the facade's current backend.
type CanFrameHandler func(src wire.EndpointAddress, frame wire.CanFrameEvent)

// CanAckHandler observes transmit acknowledgements for frames this
// controller sent.
type CanAckHandler func(ack wire.CanTransmitAck)

// CanController is a typed CAN controller bound to one network. It holds a
// second facade, on a distinct tag, for transmit acknowledgements: acks are
// addressed back to the sender only and must never be confused with an
// ordinary inbound frame on the shared frame tag.
type CanController struct {
	frames        *Facade
	acks          *Facade
	participantID uint64
	endpointID    uint64
}

// NewCanController wraps facade with CAN-specific marshaling. It derives its
// ack-channel facade from facade's own mesh/resolver/network so callers only
// ever construct one Facade per CAN controller.
func NewCanController(facade *Facade, participantID, endpointID uint64) *CanController {
	acks := NewFacade(facade.network, wire.TagCanTransmitAck, facade.endpointID, facade.mesh, facade.resolve)
	return &CanController{frames: facade, acks: acks, participantID: participantID, endpointID: endpointID}
}

// OnFrame registers a typed CAN frame handler.
func (c *CanController) OnFrame(h CanFrameHandler) {
	c.frames.OnMessage(func(src wire.EndpointAddress, body []byte) {
		frame, err := wire.UnmarshalCanFrameEvent(body)
		if err != nil {
			return
		}
		h(src, frame)
	})
}

// OnAck registers a handler for transmit acknowledgements.
func (c *CanController) OnAck(h CanAckHandler) {
	c.acks.OnMessage(func(_ wire.EndpointAddress, body []byte) {
		ack, err := wire.UnmarshalCanTransmitAck(body)
		if err != nil {
			return
		}
		h(ack)
	})
}

// SendFrame transmits a CAN frame through the current backend. While the
// trivial backend serves this controller, the frame is acknowledged
// immediately and locally as Transmitted (spec §8 S2) — the trivial backend
// is an in-process simulator, not a proxy, so there is no remote party to
// wait on.
func (c *CanController) SendFrame(frame wire.CanFrameEvent, userContext uint64) {
	addr := wire.EndpointAddress{ParticipantID: c.participantID, EndpointID: c.endpointID}
	c.frames.Send(addr, frame.Marshal())
	if c.frames.Backend() == BackendTrivial {
		ack := wire.CanTransmitAck{UserContext: userContext, TimestampNs: time.Now().UnixNano(), Status: wire.TransmitStatusTransmitted}
		c.acks.deliverLocal(addr, ack.Marshal())
	}
}

// Backend reports which backend currently serves this controller.
func (c *CanController) Backend() BackendKind { return c.frames.Backend() }

// HandleDiscoveryEvent forwards a discovery event to both the frame and ack
// facades, so they switch backend together.
func (c *CanController) HandleDiscoveryEvent(ev discovery.Event) {
	c.frames.HandleDiscoveryEvent(ev)
	c.acks.HandleDiscoveryEvent(ev)
}
