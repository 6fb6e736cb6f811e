package registry_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vbus-sim/vbus/registry"
)

func startServer(t *testing.T) (net.Listener, *registry.Server) {
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
	return ln, srv
}

func dialAndJoin(t *testing.T, addr, name string) (*registry.Client, []registry.Peer) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	c, peers, err := registry.Join(context.Background(), conn, name, "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, peers
}

func TestJoinFirstParticipantSeesEmptyRoster(t *testing.T) {
	ln, _ := startServer(t)
	_, peers := dialAndJoin(t, ln.Addr().String(), "alice")
	require.Empty(t, peers)
}

func TestSecondJoinSeesFirstAndFirstIsNotified(t *testing.T) {
	ln, _ := startServer(t)
	alice, _ := dialAndJoin(t, ln.Addr().String(), "alice")

	_, peers := dialAndJoin(t, ln.Addr().String(), "bob")
	require.Len(t, peers, 1)
	require.Equal(t, "alice", peers[0].Name)

	select {
	case joined := <-alice.PeerJoined:
		require.Equal(t, "bob", joined.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PeerJoined")
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	ln, _ := startServer(t)
	dialAndJoin(t, ln.Addr().String(), "alice")

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, _, err = registry.Join(context.Background(), conn, "alice", "127.0.0.1:0")
	require.Error(t, err)
	var rejected *registry.ErrJoinRejected
	require.ErrorAs(t, err, &rejected)
}

func TestDepartureBroadcast(t *testing.T) {
	ln, _ := startServer(t)
	alice, _ := dialAndJoin(t, ln.Addr().String(), "alice")
	bob, _ := dialAndJoin(t, ln.Addr().String(), "bob")

	select {
	case <-alice.PeerJoined:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bob's join notice")
	}

	require.NoError(t, bob.Close())

	select {
	case departed := <-alice.PeerDeparted:
		require.Equal(t, "bob", departed)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PeerDeparted")
	}
}
