package controller

import (
	"sync"

	"github.com/vbus-sim/vbus/wire"
)

// PublishHandler observes a generic pub-sub message.
type PublishHandler func(src wire.EndpointAddress, msg wire.GenericPublishMessage)

// pubsubReplayDepth bounds how many past publishes a late-joining handler on
// the trivial backend can catch up on, grounded on GenericPublisherReplay.hpp.
const pubsubReplayDepth = 16

type replayedPublish struct {
	src  wire.EndpointAddress
	body []byte
}

// PubSubController is the generic publisher/subscriber facade used for
// Ethernet payloads and any other untyped topic traffic (spec §1's
// "…" bus families beyond CAN/LIN/FlexRay). While the trivial backend
// serves it, it keeps a small in-memory replay buffer of recent publishes
// so a handler registered after traffic has already flowed still sees it,
// the same late-join guarantee GenericPublisherReplay.hpp gives its topic.
type PubSubController struct {
	facade        *Facade
	participantID uint64
	endpointID    uint64

	mu     sync.Mutex
	replay []replayedPublish
}

// NewPubSubController wraps facade with generic-publish marshaling.
func NewPubSubController(facade *Facade, participantID, endpointID uint64) *PubSubController {
	return &PubSubController{facade: facade, participantID: participantID, endpointID: endpointID}
}

// OnMessage registers h for live traffic, then, if the trivial backend is
// serving this controller, immediately replays whatever is still buffered
// so a late subscriber doesn't miss messages published before it joined.
func (c *PubSubController) OnMessage(h PublishHandler) {
	c.facade.OnMessage(func(src wire.EndpointAddress, body []byte) {
		msg, err := wire.UnmarshalGenericPublishMessage(body)
		if err != nil {
			return
		}
		h(src, msg)
	})

	if c.facade.Backend() != BackendTrivial {
		return
	}
	c.mu.Lock()
	buffered := append([]replayedPublish(nil), c.replay...)
	c.mu.Unlock()
	for _, r := range buffered {
		msg, err := wire.UnmarshalGenericPublishMessage(r.body)
		if err != nil {
			continue
		}
		h(r.src, msg)
	}
}

// Publish sends msg through the current backend and, while trivial, retains
// it in the replay buffer for handlers that register afterward.
func (c *PubSubController) Publish(msg wire.GenericPublishMessage) {
	addr := wire.EndpointAddress{ParticipantID: c.participantID, EndpointID: c.endpointID}
	body := msg.Marshal()
	c.facade.Send(addr, body)

	if c.facade.Backend() != BackendTrivial {
		return
	}
	c.mu.Lock()
	c.replay = append(c.replay, replayedPublish{src: addr, body: body})
	if len(c.replay) > pubsubReplayDepth {
		c.replay = c.replay[len(c.replay)-pubsubReplayDepth:]
	}
	c.mu.Unlock()
}
