package monitor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vbus-sim/vbus/monitor"
	"github.com/vbus-sim/vbus/wire"
)

func status(name string, state wire.ParticipantState) wire.ParticipantStatus {
	return wire.ParticipantStatus{ParticipantName: name, State: state}
}

func TestAnyErrorDominates(t *testing.T) {
	m := monitor.NewMonitor()
	m.AddParticipant("a", true)
	m.AddParticipant("b", true)

	m.HandleStatus(status("a", wire.StateRunning))
	m.HandleStatus(status("b", wire.StateError))

	require.Equal(t, wire.StateError, m.State())
}

func TestAllAtLeastRunningIsRunning(t *testing.T) {
	m := monitor.NewMonitor()
	m.AddParticipant("a", true)
	m.AddParticipant("b", true)

	m.HandleStatus(status("a", wire.StateRunning))
	m.HandleStatus(status("b", wire.StateRunning))

	require.Equal(t, wire.StateRunning, m.State())
}

func TestMixedStatesFallBackToMinimum(t *testing.T) {
	m := monitor.NewMonitor()
	m.AddParticipant("a", true)
	m.AddParticipant("b", true)

	m.HandleStatus(status("a", wire.StateReadyToRun))
	m.HandleStatus(status("b", wire.StateRunning))

	require.Equal(t, wire.StateReadyToRun, m.State())
}

func TestAllShutdownIsShutdown(t *testing.T) {
	m := monitor.NewMonitor()
	m.AddParticipant("a", true)
	m.HandleStatus(status("a", wire.StateShutdown))
	require.Equal(t, wire.StateShutdown, m.State())
}

func TestNonRequiredParticipantIgnored(t *testing.T) {
	m := monitor.NewMonitor()
	m.AddParticipant("a", true)
	m.AddParticipant("b", false)

	m.HandleStatus(status("a", wire.StateRunning))
	m.HandleStatus(status("b", wire.StateError))

	require.Equal(t, wire.StateRunning, m.State())
}

func TestHandlerFiresOnlyOnChange(t *testing.T) {
	m := monitor.NewMonitor()
	m.AddParticipant("a", true)

	var fires int
	m.OnSystemState(func(wire.ParticipantState) { fires++ })

	m.HandleStatus(status("a", wire.StateRunning))
	m.HandleStatus(status("a", wire.StateRunning))
	require.Equal(t, 1, fires)
}
