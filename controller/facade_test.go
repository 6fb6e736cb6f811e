package controller_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vbus-sim/vbus/controller"
	"github.com/vbus-sim/vbus/discovery"
	"github.com/vbus-sim/vbus/meshnet"
	"github.com/vbus-sim/vbus/wire"
)

type fakeMesh struct {
	handler meshnet.Handler
	sent    int
}

func (m *fakeMesh) Send(network string, src wire.EndpointAddress, tag wire.MessageTag, body []byte) {
	m.sent++
}

func (m *fakeMesh) Subscribe(network string, tag wire.MessageTag, endpointID uint64, handler meshnet.Handler) {
	m.handler = handler
}

func TestFacadeStartsTrivialAndDeliversAnySource(t *testing.T) {
	mesh := &fakeMesh{}
	f := controller.NewFacade("CAN1", wire.TagCanFrameEvent, 1, mesh, func(string) (uint64, bool) { return 0, false })

	var got wire.EndpointAddress
	f.OnMessage(func(src wire.EndpointAddress, body []byte) { got = src })

	require.Equal(t, controller.BackendTrivial, f.Backend())
	mesh.handler(wire.EndpointAddress{ParticipantID: 42}, wire.TagCanFrameEvent, nil)
	require.Equal(t, uint64(42), got.ParticipantID)
}

func TestFacadeSwitchesToProxyAndDropsNonSimulatorTraffic(t *testing.T) {
	mesh := &fakeMesh{}
	resolve := func(name string) (uint64, bool) {
		if name == "netsim" {
			return 99, true
		}
		return 0, false
	}
	f := controller.NewFacade("CAN1", wire.TagCanFrameEvent, 1, mesh, resolve)

	var deliveries int
	f.OnMessage(func(wire.EndpointAddress, []byte) { deliveries++ })

	f.HandleDiscoveryEvent(discovery.Event{
		Kind:       discovery.EventCreated,
		Descriptor: controller.SimulatorDescriptor("netsim", "CAN1", 5),
	})
	require.Equal(t, controller.BackendProxy, f.Backend())

	mesh.handler(wire.EndpointAddress{ParticipantID: 7}, wire.TagCanFrameEvent, nil)
	require.Equal(t, 0, deliveries, "non-simulator traffic must be dropped once proxied")

	mesh.handler(wire.EndpointAddress{ParticipantID: 99}, wire.TagCanFrameEvent, nil)
	require.Equal(t, 1, deliveries)

	f.HandleDiscoveryEvent(discovery.Event{
		Kind:       discovery.EventRemoved,
		Descriptor: controller.SimulatorDescriptor("netsim", "CAN1", 5),
	})
	require.Equal(t, controller.BackendTrivial, f.Backend())
}

func TestHandlerRegistrationOrderIndependentAcrossSwitch(t *testing.T) {
	mesh := &fakeMesh{}
	resolve := func(string) (uint64, bool) { return 99, true }
	f := controller.NewFacade("CAN1", wire.TagCanFrameEvent, 1, mesh, resolve)

	var before, after int
	f.OnMessage(func(wire.EndpointAddress, []byte) { before++ })

	f.HandleDiscoveryEvent(discovery.Event{Kind: discovery.EventCreated, Descriptor: controller.SimulatorDescriptor("netsim", "CAN1", 5)})

	f.OnMessage(func(wire.EndpointAddress, []byte) { after++ })

	mesh.handler(wire.EndpointAddress{ParticipantID: 99}, wire.TagCanFrameEvent, nil)
	require.Equal(t, 1, before)
	require.Equal(t, 1, after)
}
