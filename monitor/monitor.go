// Package monitor implements system state aggregation and the system
// controller (spec §4.7): it subscribes to participant status from every
// required participant, recomputes the system state on each arrival, and
// issues broadcast system commands that each lifecycle service independently
// decides whether to act on.
package monitor

import (
	"sync"

	"github.com/vbus-sim/vbus/wire"
)

// stateOrder is the total order from spec §3, used for both "at least X"
// comparisons and the minimum-state fallback.
var stateOrder = map[wire.ParticipantState]int{
	wire.StateInvalid:                   0,
	wire.StateServicesCreated:           1,
	wire.StateCommunicationInitializing: 2,
	wire.StateCommunicationInitialized:  3,
	wire.StateReadyToRun:                4,
	wire.StateRunning:                   5,
	wire.StatePaused:                    5,
	wire.StateStopping:                  6,
	wire.StateStopped:                   7,
	wire.StateShuttingDown:              8,
	wire.StateShutdown:                  9,
	wire.StateReinitializing:            3,
	wire.StateError:                     -1,
	wire.StateAborting:                  -1,
}

// CommandSender broadcasts a system command to every participant.
type CommandSender interface {
	Send(network string, src wire.EndpointAddress, tag wire.MessageTag, body []byte)
}

// SystemNetwork, StatusTag and CommandTag identify the reserved channel
// participant status and system commands travel over.
const SystemNetwork = "$system"

var StatusTag wire.MessageTag = 0xFFFE
var CommandTag wire.MessageTag = 0xFFFD

// SystemStateHandler observes system state recomputation.
type SystemStateHandler func(wire.ParticipantState)

// Monitor aggregates participant status into a system state (spec §4.7).
type Monitor struct {
	mu       sync.Mutex
	required map[string]bool // participant name -> required
	last     map[string]wire.ParticipantState
	handlers []SystemStateHandler
	state    wire.ParticipantState
}

// NewMonitor constructs a monitor with no participants registered yet;
// AddParticipant/RemoveParticipant maintain the required set as participants
// join and leave the mesh.
func NewMonitor() *Monitor {
	return &Monitor{
		required: make(map[string]bool),
		last:     make(map[string]wire.ParticipantState),
		state:    wire.StateInvalid,
	}
}

// AddParticipant registers a participant's required-ness for aggregation.
func (m *Monitor) AddParticipant(name string, required bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.required[name] = required
}

// RemoveParticipant drops a participant (e.g. on peer departure).
func (m *Monitor) RemoveParticipant(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.required, name)
	delete(m.last, name)
}

// OnSystemState registers a handler fired whenever the aggregate changes.
func (m *Monitor) OnSystemState(h SystemStateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// State returns the current aggregate system state.
func (m *Monitor) State() wire.ParticipantState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HandleStatus ingests one participant's status and recomputes the system
// state, firing handlers if it changed.
func (m *Monitor) HandleStatus(status wire.ParticipantStatus) {
	m.mu.Lock()
	if !m.required[status.ParticipantName] {
		// Status from a non-required (or not-yet-registered) participant
		// does not affect aggregation, but is tracked for when it becomes
		// required (spec §4.7 scopes aggregation to required participants).
		m.last[status.ParticipantName] = status.State
		m.mu.Unlock()
		return
	}
	m.last[status.ParticipantName] = status.State
	next := m.compute()
	changed := next != m.state
	m.state = next
	handlers := append([]SystemStateHandler(nil), m.handlers...)
	m.mu.Unlock()

	if changed {
		for _, h := range handlers {
			h(next)
		}
	}
}

// compute must be called with m.mu held.
func (m *Monitor) compute() wire.ParticipantState {
	var states []wire.ParticipantState
	for name := range m.required {
		if !m.required[name] {
			continue
		}
		s, ok := m.last[name]
		if !ok {
			s = wire.StateInvalid
		}
		states = append(states, s)
	}
	if len(states) == 0 {
		return wire.StateInvalid
	}

	anyErr, anyAborting := false, false
	allShutdown, allAtLeastStopped, allAtLeastRunning := true, true, true
	min := states[0]
	for _, s := range states {
		if s == wire.StateError {
			anyErr = true
		}
		if s == wire.StateAborting {
			anyAborting = true
		}
		if s != wire.StateShutdown {
			allShutdown = false
		}
		if stateOrder[s] < stateOrder[wire.StateStopped] {
			allAtLeastStopped = false
		}
		if stateOrder[s] < stateOrder[wire.StateRunning] || stateOrder[s] > stateOrder[wire.StateStopped] {
			allAtLeastRunning = false
		}
		if stateOrder[s] < stateOrder[min] {
			min = s
		}
	}

	switch {
	case anyErr:
		return wire.StateError
	case anyAborting:
		return wire.StateAborting
	case allShutdown:
		return wire.StateShutdown
	case allAtLeastStopped:
		return wire.StateStopped
	case allAtLeastRunning:
		return wire.StateRunning
	default:
		return min
	}
}

// Controller issues system commands (spec §4.7): Initialize is targeted at
// one participant; the rest broadcast, leaving each lifecycle service to
// decide whether it applies.
type Controller struct {
	sender CommandSender
}

// NewController wraps sender with the system-command vocabulary.
func NewController(sender CommandSender) *Controller {
	return &Controller{sender: sender}
}

func (c *Controller) broadcast(kind wire.SystemCommandKind, target uint64) {
	body := wire.SystemCommand{Kind: kind, TargetParticipantID: target}.Marshal()
	c.sender.Send(SystemNetwork, wire.EndpointAddress{}, CommandTag, body)
}

// Initialize targets one participant by id.
func (c *Controller) Initialize(participantID uint64) { c.broadcast(wire.CmdInitialize, participantID) }

// Run broadcasts the Run command.
func (c *Controller) Run() { c.broadcast(wire.CmdRun, 0) }

// Stop broadcasts the Stop command.
func (c *Controller) Stop() { c.broadcast(wire.CmdStop, 0) }

// Shutdown broadcasts the Shutdown command.
func (c *Controller) Shutdown() { c.broadcast(wire.CmdShutdown, 0) }

// AbortSimulation broadcasts the AbortSimulation command.
func (c *Controller) AbortSimulation() { c.broadcast(wire.CmdAbortSimulation, 0) }

// PrepareColdReinitialize broadcasts the PrepareColdReinitialize command.
func (c *Controller) PrepareColdReinitialize() { c.broadcast(wire.CmdPrepareColdReinitialize, 0) }
