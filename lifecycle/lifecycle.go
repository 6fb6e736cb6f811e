// Package lifecycle implements the per-participant state machine (spec
// §4.8): fourteen states, driven by system commands and local triggers,
// with user handlers invoked on the goroutine that processed the
// triggering command and any handler panic/error converted to Error.
package lifecycle

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vbus-sim/vbus/wire"
)

// CommunicationReadyHandler runs once communication is initialized.
type CommunicationReadyHandler func() error

// StopHandler runs while transitioning Running → Stopping → Stopped.
type StopHandler func() error

// ShutdownHandler runs while transitioning Stopped → ShuttingDown → Shutdown.
type ShutdownHandler func() error

// ReinitializeHandler runs during an optional coordinated reinitialize.
type ReinitializeHandler func() error

// StateChange is delivered on the Service's state channel.
type StateChange struct {
	State  wire.ParticipantState
	Reason string
}

// Service is one participant's lifecycle state machine.
type Service struct {
	participantName string
	hasStart        bool // hasCoordinatedSimulationStart
	hasStop         bool // hasCoordinatedSimulationStop
	isRequired      bool
	log             logrus.FieldLogger

	mu    sync.Mutex
	state wire.ParticipantState
	done  bool

	onCommReady  CommunicationReadyHandler
	onStop       StopHandler
	onShutdown   ShutdownHandler
	onReinit     ReinitializeHandler
	watchers     []chan<- StateChange
	resultWaiter []chan wire.ParticipantState
}

// Option configures a Service at construction.
type Option func(*Service)

// WithCoordinatedStart sets the hasCoordinatedSimulationStart flag reported
// by HasCoordinatedStart. The Service itself does not consult it: with or
// without it, every transition happens only when the caller invokes the
// matching method, and the Service never advances on its own.
func WithCoordinatedStart() Option { return func(s *Service) { s.hasStart = true } }

// WithCoordinatedStop sets the hasCoordinatedSimulationStop flag reported by
// HasCoordinatedStop. The Service does not consult it; Running→Stopping
// happens only when the caller invokes Stop.
func WithCoordinatedStop() Option { return func(s *Service) { s.hasStop = true } }

// WithRequired marks this participant as counted in system state
// aggregation (C7); the default is required.
func WithRequired(required bool) Option { return func(s *Service) { s.isRequired = required } }

// WithLogger overrides the default logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService constructs a lifecycle service in state Invalid.
func NewService(participantName string, opts ...Option) *Service {
	s := &Service{
		participantName: participantName,
		isRequired:      true,
		log:             logrus.StandardLogger(),
		state:           wire.StateInvalid,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HasCoordinatedStart reports the configured start-coordination mode.
func (s *Service) HasCoordinatedStart() bool { return s.hasStart }

// HasCoordinatedStop reports the configured stop-coordination mode.
func (s *Service) HasCoordinatedStop() bool { return s.hasStop }

// IsRequired reports whether this participant counts toward system state.
func (s *Service) IsRequired() bool { return s.isRequired }

// OnCommunicationReady registers the handler run on entering
// CommunicationInitialized.
func (s *Service) OnCommunicationReady(h CommunicationReadyHandler) { s.onCommReady = h }

// OnStop registers the handler run while Stopping.
func (s *Service) OnStop(h StopHandler) { s.onStop = h }

// OnShutdown registers the handler run while ShuttingDown.
func (s *Service) OnShutdown(h ShutdownHandler) { s.onShutdown = h }

// OnReinitialize registers the handler run during a coordinated reinit.
func (s *Service) OnReinitialize(h ReinitializeHandler) { s.onReinit = h }

// Watch registers a channel that receives every state transition. Delivery
// does not block: a transition is dropped for a watcher whose channel is
// full at that moment. The channel is never closed by Watch; callers that
// only care about the terminal state should use Result instead.
func (s *Service) Watch(ch chan<- StateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, ch)
}

// Result returns a channel that receives exactly once, with the terminal
// state: Shutdown (also after an abort, since Aborting passes on to
// Shutdown) or Error, mirroring the future ExecuteLifecycle… returns to the user (spec §7).
func (s *Service) Result() <-chan wire.ParticipantState {
	ch := make(chan wire.ParticipantState, 1)
	s.mu.Lock()
	if s.done {
		ch <- s.state
		s.mu.Unlock()
		return ch
	}
	s.resultWaiter = append(s.resultWaiter, ch)
	s.mu.Unlock()
	return ch
}

// State returns the current state.
func (s *Service) State() wire.ParticipantState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

var transitions = map[wire.ParticipantState]map[wire.ParticipantState]bool{
	wire.StateInvalid:                   {wire.StateServicesCreated: true},
	wire.StateServicesCreated:           {wire.StateCommunicationInitializing: true},
	wire.StateCommunicationInitializing: {wire.StateCommunicationInitialized: true},
	wire.StateCommunicationInitialized:  {wire.StateReadyToRun: true},
	wire.StateReadyToRun:                {wire.StateRunning: true},
	wire.StateRunning:                   {wire.StatePaused: true, wire.StateStopping: true},
	wire.StatePaused:                    {wire.StateRunning: true},
	wire.StateStopping:                  {wire.StateStopped: true},
	wire.StateStopped:                   {wire.StateShuttingDown: true, wire.StateReinitializing: true},
	wire.StateShuttingDown:              {wire.StateShutdown: true},
	wire.StateReinitializing:            {wire.StateCommunicationInitialized: true},
	wire.StateAborting:                  {wire.StateShutdown: true},
}

func (s *Service) transition(next wire.ParticipantState, reason string) error {
	s.mu.Lock()
	if s.state == wire.StateShutdown || s.state == wire.StateError {
		s.mu.Unlock()
		return fmt.Errorf("lifecycle: %s: already terminal at %s", s.participantName, s.state)
	}
	allowed := next == wire.StateError || next == wire.StateAborting || transitions[s.state][next]
	if !allowed {
		s.mu.Unlock()
		return fmt.Errorf("lifecycle: %s: illegal transition %s -> %s", s.participantName, s.state, next)
	}
	s.state = next
	terminal := next == wire.StateShutdown || next == wire.StateError
	s.done = terminal
	watchers := append([]chan<- StateChange(nil), s.watchers...)
	var waiters []chan wire.ParticipantState
	if terminal {
		waiters = s.resultWaiter
		s.resultWaiter = nil
	}
	s.mu.Unlock()

	for _, w := range watchers {
		select {
		case w <- StateChange{State: next, Reason: reason}:
		default:
		}
	}
	for _, w := range waiters {
		w <- next
		close(w)
	}
	return nil
}

func (s *Service) runHandler(name string, run func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("handler", name).WithField("panic", r).Error("lifecycle: handler panicked")
			_ = s.transition(wire.StateError, fmt.Sprintf("%s panicked: %v", name, r))
		}
	}()
	if run == nil {
		return
	}
	if err := run(); err != nil {
		_ = s.transition(wire.StateError, err.Error())
	}
}

// ServicesCreated is the autonomous first transition, invoked once all
// local controllers have been constructed.
func (s *Service) ServicesCreated() error {
	return s.transition(wire.StateServicesCreated, "controller creation completed")
}

// CommunicationReady drives ServicesCreated → CommunicationInitializing →
// CommunicationInitialized, invoking the registered handler in between.
func (s *Service) CommunicationReady() {
	if err := s.transition(wire.StateCommunicationInitializing, "system CommunicationReady"); err != nil {
		s.log.WithError(err).Warn("lifecycle: CommunicationReady ignored")
		return
	}
	s.runHandler("CommunicationReady", s.onCommReady)
	if s.State() == wire.StateCommunicationInitializing {
		_ = s.transition(wire.StateCommunicationInitialized, "handler returned")
	}
}

// ReadyToRun drives CommunicationInitialized → ReadyToRun.
func (s *Service) ReadyToRun() error {
	return s.transition(wire.StateReadyToRun, "system ReadyToRun")
}

// Run drives ReadyToRun → Running, or Paused → Running on Continue.
func (s *Service) Run() error {
	return s.transition(wire.StateRunning, "system Run")
}

// Pause drives Running → Paused.
func (s *Service) Pause(reason string) error {
	return s.transition(wire.StatePaused, reason)
}

// Stop drives Running → Stopping → Stopped, invoking the Stop handler
// during Stopping.
func (s *Service) Stop(reason string) {
	if err := s.transition(wire.StateStopping, reason); err != nil {
		s.log.WithError(err).Warn("lifecycle: Stop ignored")
		return
	}
	s.runHandler("Stop", s.onStop)
	if s.State() == wire.StateStopping {
		_ = s.transition(wire.StateStopped, "stop handler returned")
	}
}

// Shutdown drives Stopped → ShuttingDown → Shutdown, invoking the Shutdown
// handler during ShuttingDown.
func (s *Service) Shutdown(reason string) {
	if err := s.transition(wire.StateShuttingDown, reason); err != nil {
		s.log.WithError(err).Warn("lifecycle: Shutdown ignored")
		return
	}
	s.runHandler("Shutdown", s.onShutdown)
	if s.State() == wire.StateShuttingDown {
		_ = s.transition(wire.StateShutdown, "shutdown handler returned")
	}
}

// Reinitialize drives Stopped → Reinitializing → CommunicationInitialized,
// invoking the Reinitialize handler during Reinitializing.
func (s *Service) Reinitialize(reason string) {
	if err := s.transition(wire.StateReinitializing, reason); err != nil {
		s.log.WithError(err).Warn("lifecycle: Reinitialize ignored")
		return
	}
	s.runHandler("Reinitialize", s.onReinit)
	if s.State() == wire.StateReinitializing {
		_ = s.transition(wire.StateCommunicationInitialized, "reinitialize handler returned")
	}
}

// ReportError forces a transition to Error from any state, for local faults
// unrelated to a handler invocation (e.g. a peer departure while required).
func (s *Service) ReportError(reason string) {
	_ = s.transition(wire.StateError, reason)
}

// AbortSimulation drives any non-terminal state → Aborting → Shutdown.
func (s *Service) AbortSimulation(reason string) {
	if err := s.transition(wire.StateAborting, reason); err != nil {
		s.log.WithError(err).Warn("lifecycle: AbortSimulation ignored")
		return
	}
	_ = s.transition(wire.StateShutdown, "aborted")
}
