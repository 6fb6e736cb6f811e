package lifecycle_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vbus-sim/vbus/lifecycle"
	"github.com/vbus-sim/vbus/wire"
)

func requireResult(t *testing.T, s *lifecycle.Service, want wire.ParticipantState) {
	t.Helper()
	select {
	case got := <-s.Result():
		require.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for terminal state")
	}
}

// TestFullHappyPathMatchesSpecS1 walks the sequence from spec §8 S1.
func TestFullHappyPathMatchesSpecS1(t *testing.T) {
	s := lifecycle.NewService("TestUnit")
	require.NoError(t, s.ServicesCreated())
	require.Equal(t, wire.StateServicesCreated, s.State())

	s.CommunicationReady()
	require.Equal(t, wire.StateCommunicationInitialized, s.State())

	require.NoError(t, s.ReadyToRun())
	require.NoError(t, s.Run())
	require.Equal(t, wire.StateRunning, s.State())

	s.Stop("system Stop")
	require.Equal(t, wire.StateStopped, s.State())

	s.Shutdown("system Shutdown")
	requireResult(t, s, wire.StateShutdown)
}

func TestHandlerErrorConvertsToError(t *testing.T) {
	s := lifecycle.NewService("x")
	require.NoError(t, s.ServicesCreated())
	s.OnCommunicationReady(func() error { return errors.New("boom") })

	s.CommunicationReady()
	requireResult(t, s, wire.StateError)
}

func TestHandlerPanicConvertsToError(t *testing.T) {
	s := lifecycle.NewService("x")
	require.NoError(t, s.ServicesCreated())
	s.OnCommunicationReady(func() error { panic("kaboom") })

	s.CommunicationReady()
	requireResult(t, s, wire.StateError)
}

func TestIllegalTransitionRejected(t *testing.T) {
	s := lifecycle.NewService("x")
	err := s.ReadyToRun()
	require.Error(t, err)
	require.Equal(t, wire.StateInvalid, s.State())
}

func TestAbortFromRunningReachesShutdown(t *testing.T) {
	s := lifecycle.NewService("x")
	require.NoError(t, s.ServicesCreated())
	s.CommunicationReady()
	require.NoError(t, s.ReadyToRun())
	require.NoError(t, s.Run())

	s.AbortSimulation("operator abort")
	requireResult(t, s, wire.StateShutdown)
}

func TestWatchSeesEveryTransition(t *testing.T) {
	s := lifecycle.NewService("x")
	ch := make(chan lifecycle.StateChange, 16)
	s.Watch(ch)

	require.NoError(t, s.ServicesCreated())
	s.CommunicationReady()

	require.Equal(t, wire.StateServicesCreated, (<-ch).State)
	require.Equal(t, wire.StateCommunicationInitializing, (<-ch).State)
	require.Equal(t, wire.StateCommunicationInitialized, (<-ch).State)
}
