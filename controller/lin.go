package controller

import "github.com/vbus-sim/vbus/wire"

// LinTransmissionHandler observes master-initiated LIN transmissions.
type LinTransmissionHandler func(src wire.EndpointAddress, t wire.LinTransmission)

// LinResponseHandler observes a slave's response to a LIN transmission.
type LinResponseHandler func(src wire.EndpointAddress, r wire.LinFrameResponse)

// LinController is a typed LIN controller bound to one network.
type LinController struct {
	facade        *Facade
	participantID uint64
	endpointID    uint64
}

// NewLinController wraps facade with LIN-specific marshaling.
func NewLinController(facade *Facade, participantID, endpointID uint64) *LinController {
	return &LinController{facade: facade, participantID: participantID, endpointID: endpointID}
}

// OnTransmission registers a handler for master-initiated transmissions. LIN
// shares one (network, tag) channel across both message shapes; callers that
// care about only one register only that handler.
func (c *LinController) OnTransmission(h LinTransmissionHandler) {
	c.facade.OnMessage(func(src wire.EndpointAddress, body []byte) {
		t, err := wire.UnmarshalLinTransmission(body)
		if err != nil {
			return
		}
		h(src, t)
	})
}

// SendTransmission issues a master LIN transmission.
func (c *LinController) SendTransmission(t wire.LinTransmission) {
	c.facade.Send(wire.EndpointAddress{ParticipantID: c.participantID, EndpointID: c.endpointID}, t.Marshal())
}

// lin response facade is a second Facade instance (distinct tag) so
// transmissions and responses can be subscribed to independently.
type LinResponseController struct {
	facade        *Facade
	participantID uint64
	endpointID    uint64
}

func NewLinResponseController(facade *Facade, participantID, endpointID uint64) *LinResponseController {
	return &LinResponseController{facade: facade, participantID: participantID, endpointID: endpointID}
}

func (c *LinResponseController) OnResponse(h LinResponseHandler) {
	c.facade.OnMessage(func(src wire.EndpointAddress, body []byte) {
		r, err := wire.UnmarshalLinFrameResponse(body)
		if err != nil {
			return
		}
		h(src, r)
	})
}

func (c *LinResponseController) SendResponse(r wire.LinFrameResponse) {
	c.facade.Send(wire.EndpointAddress{ParticipantID: c.participantID, EndpointID: c.endpointID}, r.Marshal())
}
