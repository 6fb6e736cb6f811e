package meshnet_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vbus-sim/vbus/meshnet"
	"github.com/vbus-sim/vbus/wire"
)

func newManagerPair(t *testing.T) (*meshnet.Manager, *meshnet.Manager) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	a := meshnet.NewManager("alice", 1)
	b := meshnet.NewManager("bob", 2)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, err = b.DialPeer(conn, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(a.Peers()) == 1 }, time.Second, 10*time.Millisecond)

	return a, b
}

func TestSubscribedMessageIsDelivered(t *testing.T) {
	alice, bob := newManagerPair(t)

	received := make(chan []byte, 1)
	alice.Subscribe("CAN1", wire.TagCanFrameEvent, 7, func(src wire.EndpointAddress, tag wire.MessageTag, body []byte) {
		received <- body
	})

	require.Eventually(t, func() bool {
		for _, p := range bob.Peers() {
			if p == "alice" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	// Give alice's subscription announcement time to cross the wire.
	time.Sleep(50 * time.Millisecond)

	bob.Send("CAN1", wire.EndpointAddress{ParticipantID: 2, EndpointID: 1}, wire.TagCanFrameEvent, []byte("hello"))

	select {
	case body := <-received:
		require.Equal(t, []byte("hello"), body)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribed message")
	}
}

func TestUnsubscribedMessageIsNotDelivered(t *testing.T) {
	alice, bob := newManagerPair(t)

	received := make(chan []byte, 1)
	alice.Subscribe("CAN1", wire.TagCanFrameEvent, 7, func(wire.EndpointAddress, wire.MessageTag, []byte) {
		received <- nil
	})
	time.Sleep(50 * time.Millisecond)

	bob.Send("CAN1", wire.EndpointAddress{ParticipantID: 2, EndpointID: 1}, wire.TagLinTransmission, []byte("nope"))

	select {
	case <-received:
		t.Fatal("handler fired for an unsubscribed tag")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLocalFanOutDoesNotRequireWire(t *testing.T) {
	alice, _ := newManagerPair(t)

	received := make(chan []byte, 1)
	alice.Subscribe("CAN1", wire.TagCanFrameEvent, 1, func(wire.EndpointAddress, wire.MessageTag, []byte) {
		received <- []byte("local")
	})

	alice.Send("CAN1", wire.EndpointAddress{ParticipantID: 1, EndpointID: 2}, wire.TagCanFrameEvent, []byte("x"))

	select {
	case body := <-received:
		require.Equal(t, []byte("local"), body)
	case <-time.After(time.Second):
		t.Fatal("local fan-out did not fire")
	}
}
