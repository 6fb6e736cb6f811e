package discovery_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vbus-sim/vbus/discovery"
	"github.com/vbus-sim/vbus/wire"
)

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) Send(network string, src wire.EndpointAddress, tag wire.MessageTag, body []byte) {
	f.sent = append(f.sent, body)
}

func descriptor(name string, id uint64) wire.ServiceDescriptor {
	return wire.ServiceDescriptor{
		ParticipantName: "producer",
		NetworkName:     "CAN1",
		ServiceName:     name,
		ServiceType:     wire.ServiceController,
		EndpointID:      id,
	}
}

func TestAddServiceBroadcastsSnapshot(t *testing.T) {
	sender := &fakeSender{}
	e := discovery.NewEngine("producer", sender)

	e.AddService(descriptor("can0", 1))
	require.Len(t, sender.sent, 1)

	ann, err := wire.UnmarshalServiceAnnouncement(sender.sent[0])
	require.NoError(t, err)
	require.Equal(t, "producer", ann.ParticipantName)
	require.Len(t, ann.Services, 1)
}

func TestHandleAnnouncementFiresCreatedThenRemoved(t *testing.T) {
	sender := &fakeSender{}
	e := discovery.NewEngine("consumer", sender)

	var events []discovery.Event
	e.OnEvent(func(ev discovery.Event) { events = append(events, ev) })

	body := wire.ServiceAnnouncement{ParticipantName: "producer", Services: []wire.ServiceDescriptor{descriptor("can0", 1)}}.Marshal()
	require.NoError(t, e.HandleAnnouncement(body))
	require.Len(t, events, 1)
	require.Equal(t, discovery.EventCreated, events[0].Kind)

	// Identical re-announcement produces no event (spec §8 S4).
	events = nil
	require.NoError(t, e.HandleAnnouncement(body))
	require.Empty(t, events)

	// Empty snapshot now diffs to one removal.
	empty := wire.ServiceAnnouncement{ParticipantName: "producer"}.Marshal()
	require.NoError(t, e.HandleAnnouncement(empty))
	require.Len(t, events, 1)
	require.Equal(t, discovery.EventRemoved, events[0].Kind)
}

func TestHandleAnnouncementTracksOriginatorsIndependently(t *testing.T) {
	sender := &fakeSender{}
	e := discovery.NewEngine("consumer", sender)

	var created int
	e.OnEvent(func(ev discovery.Event) {
		if ev.Kind == discovery.EventCreated {
			created++
		}
	})

	a := wire.ServiceAnnouncement{ParticipantName: "a", Services: []wire.ServiceDescriptor{descriptor("x", 1)}}.Marshal()
	b := wire.ServiceAnnouncement{ParticipantName: "b", Services: []wire.ServiceDescriptor{descriptor("y", 2)}}.Marshal()

	require.NoError(t, e.HandleAnnouncement(a))
	require.NoError(t, e.HandleAnnouncement(b))
	require.Equal(t, 2, created)
}
