package controller

import (
	"fmt"
	"sync"

	"github.com/vbus-sim/vbus/discovery"
	"github.com/vbus-sim/vbus/wire"
)

// FlexrayFrameHandler observes frames observed on a FlexRay cycle.
type FlexrayFrameHandler func(src wire.EndpointAddress, f wire.FlexrayFrameEvent)

// FlexrayPocHandler observes protocol-operation-control state transitions.
type FlexrayPocHandler func(src wire.EndpointAddress, s wire.FlexrayPocStatusEvent)

// FlexraySymbolHandler observes bus symbols (wakeup patterns, etc).
type FlexraySymbolHandler func(src wire.EndpointAddress, s wire.FlexraySymbolEvent)

// FlexrayController is a typed FlexRay controller bound to one network. It
// holds three facades because frame events, POC status, and symbols are
// independently subscribable channels (spec §8 S3). While the trivial
// backend serves it, the controller runs its own protocol-operation-control
// state machine locally, driving Wakeup/AllowColdstart/Run through the exact
// DefaultConfig → Ready → Wakeup → Ready → NormalActive sequence spec §8 S3
// requires, and emits the configured first-frame payload on reaching
// NormalActive.
type FlexrayController struct {
	frames        *Facade
	poc           *Facade
	symbols       *Facade
	participantID uint64
	endpointID    uint64

	mu               sync.Mutex
	pocState         wire.FlexrayPocState
	coldstartAllowed bool
}

// NewFlexrayController wraps three per-channel facades with FlexRay-specific
// marshaling. The local POC state machine starts in DefaultConfig.
func NewFlexrayController(frames, poc, symbols *Facade, participantID, endpointID uint64) *FlexrayController {
	return &FlexrayController{
		frames: frames, poc: poc, symbols: symbols,
		participantID: participantID, endpointID: endpointID,
		pocState: wire.FlexrayPocDefaultConfig,
	}
}

// Configure transitions DefaultConfig → Ready, the baseline state a
// controller sits in before a coldstart is attempted. Call it once handlers
// are registered.
func (c *FlexrayController) Configure() {
	c.setPoc(wire.FlexrayPocReady)
}

// Wakeup drives the Ready → Wakeup → Ready transition (spec §8 S3): the
// trivial backend treats the wakeup pattern as instantaneous since there is
// no real bus to observe it settle on.
func (c *FlexrayController) Wakeup() {
	c.setPoc(wire.FlexrayPocWakeup)
	c.setPoc(wire.FlexrayPocReady)
}

// AllowColdstart gates Run: a coldstart only proceeds to NormalActive once
// this has been called, mirroring the real controller's coldstart-inhibit
// flag.
func (c *FlexrayController) AllowColdstart() {
	c.mu.Lock()
	c.coldstartAllowed = true
	c.mu.Unlock()
}

// Run drives Ready → NormalActive once AllowColdstart has been called, and,
// while the trivial backend serves this controller, emits the first frame
// event at buffer 0 carrying the configured payload pattern (spec §8 S3).
func (c *FlexrayController) Run() {
	c.mu.Lock()
	allowed := c.coldstartAllowed
	c.mu.Unlock()
	if !allowed {
		return
	}
	c.setPoc(wire.FlexrayPocNormalActive)

	if c.frames.Backend() != BackendTrivial {
		return
	}
	addr := wire.EndpointAddress{ParticipantID: c.participantID, EndpointID: c.endpointID}
	first := wire.FlexrayFrameEvent{Channel: 0, BufferID: 0, Data: []byte(fmt.Sprintf("FlexrayFrameEvent#%04d", 0))}
	c.frames.deliverLocal(addr, first.Marshal())
}

func (c *FlexrayController) setPoc(s wire.FlexrayPocState) {
	c.mu.Lock()
	c.pocState = s
	c.mu.Unlock()
	if c.poc.Backend() != BackendTrivial {
		return
	}
	addr := wire.EndpointAddress{ParticipantID: c.participantID, EndpointID: c.endpointID}
	c.poc.deliverLocal(addr, wire.FlexrayPocStatusEvent{State: s}.Marshal())
}

// PocState reports the locally tracked protocol-operation-control state.
func (c *FlexrayController) PocState() wire.FlexrayPocState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pocState
}

// HandleDiscoveryEvent forwards a discovery event to all three facades, so
// they switch backend together.
func (c *FlexrayController) HandleDiscoveryEvent(ev discovery.Event) {
	c.frames.HandleDiscoveryEvent(ev)
	c.poc.HandleDiscoveryEvent(ev)
	c.symbols.HandleDiscoveryEvent(ev)
}

func (c *FlexrayController) OnFrame(h FlexrayFrameHandler) {
	c.frames.OnMessage(func(src wire.EndpointAddress, body []byte) {
		f, err := wire.UnmarshalFlexrayFrameEvent(body)
		if err != nil {
			return
		}
		h(src, f)
	})
}

func (c *FlexrayController) OnPocStatus(h FlexrayPocHandler) {
	c.poc.OnMessage(func(src wire.EndpointAddress, body []byte) {
		s, err := wire.UnmarshalFlexrayPocStatusEvent(body)
		if err != nil {
			return
		}
		h(src, s)
	})
}

func (c *FlexrayController) OnSymbol(h FlexraySymbolHandler) {
	c.symbols.OnMessage(func(src wire.EndpointAddress, body []byte) {
		s, err := wire.UnmarshalFlexraySymbolEvent(body)
		if err != nil {
			return
		}
		h(src, s)
	})
}

func (c *FlexrayController) SendFrame(f wire.FlexrayFrameEvent) {
	c.frames.Send(wire.EndpointAddress{ParticipantID: c.participantID, EndpointID: c.endpointID}, f.Marshal())
}

func (c *FlexrayController) SendPocStatus(s wire.FlexrayPocStatusEvent) {
	c.poc.Send(wire.EndpointAddress{ParticipantID: c.participantID, EndpointID: c.endpointID}, s.Marshal())
}

func (c *FlexrayController) SendSymbol(s wire.FlexraySymbolEvent) {
	c.symbols.Send(wire.EndpointAddress{ParticipantID: c.participantID, EndpointID: c.endpointID}, s.Marshal())
}
