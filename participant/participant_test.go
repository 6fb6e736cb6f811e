package participant_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vbus-sim/vbus/controller"
	"github.com/vbus-sim/vbus/discovery"
	"github.com/vbus-sim/vbus/participant"
	"github.com/vbus-sim/vbus/registry"
	"github.com/vbus-sim/vbus/wire"
)

func startRegistry(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := registry.NewServer(registry.NewDefault())
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	return ln.Addr().String()
}

// TestTwoParticipantsDiscoverEachOthersServices mirrors spec §8 S2/S4:
// a controller announced by one participant is observed, created, by the
// other once both have joined and discovery has converged.
func TestTwoParticipantsDiscoverEachOthersServices(t *testing.T) {
	registryAddr := startRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	alice, err := participant.New(ctx, "alice",
		participant.WithRegistry("tcp", registryAddr),
		participant.WithListenAddress("tcp", "127.0.0.1:0"))
	require.NoError(t, err)
	t.Cleanup(func() { alice.Close() })

	bob, err := participant.New(ctx, "bob",
		participant.WithRegistry("tcp", registryAddr),
		participant.WithListenAddress("tcp", "127.0.0.1:0"))
	require.NoError(t, err)
	t.Cleanup(func() { bob.Close() })

	require.Eventually(t, func() bool { return len(alice.Mesh().Peers()) == 1 }, 2*time.Second, 20*time.Millisecond)

	var events []discovery.Event
	bob.Discovery().OnEvent(func(ev discovery.Event) { events = append(events, ev) })

	alice.Discovery().AddService(wire.ServiceDescriptor{
		ParticipantName: "alice",
		NetworkName:     "CAN1",
		ServiceName:     "can0",
		ServiceType:     wire.ServiceController,
		EndpointID:      1,
	})

	require.Eventually(t, func() bool { return len(events) == 1 }, 2*time.Second, 20*time.Millisecond)
	require.Equal(t, discovery.EventCreated, events[0].Kind)
	require.Equal(t, "alice", events[0].Descriptor.ParticipantName)
}

func TestCanControllerRoundTripsOverMesh(t *testing.T) {
	registryAddr := startRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	alice, err := participant.New(ctx, "alice", participant.WithRegistry("tcp", registryAddr), participant.WithListenAddress("tcp", "127.0.0.1:0"))
	require.NoError(t, err)
	t.Cleanup(func() { alice.Close() })

	bob, err := participant.New(ctx, "bob", participant.WithRegistry("tcp", registryAddr), participant.WithListenAddress("tcp", "127.0.0.1:0"))
	require.NoError(t, err)
	t.Cleanup(func() { bob.Close() })

	require.Eventually(t, func() bool { return len(alice.Mesh().Peers()) == 1 }, 2*time.Second, 20*time.Millisecond)

	aliceFacade := controller.NewFacade("CAN1", wire.TagCanFrameEvent, 1, alice.Mesh(), alice.Resolver())
	bobFacade := controller.NewFacade("CAN1", wire.TagCanFrameEvent, 2, bob.Mesh(), bob.Resolver())
	aliceCan := controller.NewCanController(aliceFacade, alice.ID, 1)
	bobCan := controller.NewCanController(bobFacade, bob.ID, 2)

	received := make(chan wire.CanFrameEvent, 1)
	bobCan.OnFrame(func(src wire.EndpointAddress, frame wire.CanFrameEvent) {
		received <- frame
	})
	acked := make(chan wire.CanTransmitAck, 1)
	aliceCan.OnAck(func(ack wire.CanTransmitAck) {
		acked <- ack
	})

	time.Sleep(50 * time.Millisecond) // let subscription announcements cross

	const userContext = 0xBEEF
	aliceCan.SendFrame(wire.CanFrameEvent{CanID: 0x123, Data: []byte{1, 2, 3}}, userContext)

	select {
	case frame := <-received:
		require.Equal(t, uint32(0x123), frame.CanID)
		require.Equal(t, []byte{1, 2, 3}, frame.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CAN frame")
	}

	// spec §8 S2: the trivial backend acknowledges every sent frame locally.
	select {
	case ack := <-acked:
		require.Equal(t, wire.TransmitStatusTransmitted, ack.Status)
		require.Equal(t, uint64(userContext), ack.UserContext)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CAN transmit ack")
	}
}
