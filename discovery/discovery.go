// Package discovery implements service announcement and diffing (spec §4.5):
// each participant broadcasts its full service set on every change, and
// every receiver diffs the new snapshot against the previous one it holds
// for that originator to derive created/removed events.
package discovery

import (
	"sync"

	"github.com/vbus-sim/vbus/wire"
)

// EventKind distinguishes a created from a removed service.
type EventKind int

const (
	EventCreated EventKind = iota
	EventRemoved
)

// Event is delivered to a registered Handler.
type Event struct {
	Kind       EventKind
	Descriptor wire.ServiceDescriptor
}

// Handler observes discovery events, called synchronously on the thread
// that processed the triggering announcement (spec §4.5).
type Handler func(Event)

// Sender delivers an outbound service announcement to every peer. meshnet's
// Manager.Send over the reserved discovery network/tag satisfies this, but
// Engine takes the narrower interface so it does not depend on meshnet.
type Sender interface {
	Send(network string, src wire.EndpointAddress, tag wire.MessageTag, body []byte)
}

// DiscoveryNetwork and DiscoveryTag identify the reserved channel service
// announcements travel over, distinct from any user-defined bus network.
const DiscoveryNetwork = "$discovery"

var DiscoveryTag wire.MessageTag = 0xFFFF

// Engine tracks this participant's own service set, rebroadcasts it on
// every change, and diffs incoming snapshots from every other participant.
type Engine struct {
	participantName string
	sender          Sender

	mu       sync.Mutex
	own      []wire.ServiceDescriptor
	previous map[string]map[string]wire.ServiceDescriptor // originator -> descriptor key -> descriptor
	handlers []Handler
}

// NewEngine constructs a discovery engine that announces as participantName
// over sender.
func NewEngine(participantName string, sender Sender) *Engine {
	return &Engine{
		participantName: participantName,
		sender:          sender,
		previous:        make(map[string]map[string]wire.ServiceDescriptor),
	}
}

// OnEvent registers a handler. A handler receives only events fired after
// it was registered; past events are not replayed to late registrants.
func (e *Engine) OnEvent(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// AddService adds one service descriptor to this participant's announcement
// and rebroadcasts the full snapshot.
func (e *Engine) AddService(d wire.ServiceDescriptor) {
	e.mu.Lock()
	e.own = append(e.own, d)
	snapshot := append([]wire.ServiceDescriptor(nil), e.own...)
	e.mu.Unlock()
	e.broadcast(snapshot)
}

// RemoveService drops a service descriptor (by Key) from this participant's
// announcement and rebroadcasts.
func (e *Engine) RemoveService(d wire.ServiceDescriptor) {
	key := d.Key()
	e.mu.Lock()
	kept := e.own[:0]
	for _, s := range e.own {
		if s.Key() != key {
			kept = append(kept, s)
		}
	}
	e.own = kept
	snapshot := append([]wire.ServiceDescriptor(nil), e.own...)
	e.mu.Unlock()
	e.broadcast(snapshot)
}

func (e *Engine) broadcast(snapshot []wire.ServiceDescriptor) {
	body := wire.ServiceAnnouncement{ParticipantName: e.participantName, Services: snapshot}.Marshal()
	e.sender.Send(DiscoveryNetwork, wire.EndpointAddress{}, DiscoveryTag, body)
}

// HandleAnnouncement processes a received ServiceAnnouncement body (the
// body of an ib-message on DiscoveryNetwork/DiscoveryTag, as broadcast sends it):
// diffs it against the previous snapshot held for its originator and fires
// handlers for every created/removed descriptor.
func (e *Engine) HandleAnnouncement(body []byte) error {
	ann, err := wire.UnmarshalServiceAnnouncement(body)
	if err != nil {
		return err
	}

	next := make(map[string]wire.ServiceDescriptor, len(ann.Services))
	for _, d := range ann.Services {
		next[d.Key()] = d
	}

	e.mu.Lock()
	prev := e.previous[ann.ParticipantName]
	e.previous[ann.ParticipantName] = next
	handlers := append([]Handler(nil), e.handlers...)
	e.mu.Unlock()

	for key, d := range next {
		if _, existed := prev[key]; !existed {
			fire(handlers, Event{Kind: EventCreated, Descriptor: d})
		}
	}
	for key, d := range prev {
		if _, stillPresent := next[key]; !stillPresent {
			fire(handlers, Event{Kind: EventRemoved, Descriptor: d})
		}
	}
	return nil
}

func fire(handlers []Handler, ev Event) {
	for _, h := range handlers {
		h(ev)
	}
}

// Services returns a snapshot of this participant's currently announced
// services.
func (e *Engine) Services() []wire.ServiceDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]wire.ServiceDescriptor(nil), e.own...)
}
