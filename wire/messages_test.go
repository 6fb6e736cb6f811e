package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Kind: KindIBMessage, Payload: []byte("hello world")}
	require.NoError(t, WriteFrame(&buf, f))

	got, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestFrameRejectsOversizedLength(t *testing.T) {
	var hdr [FrameHeaderSize]byte
	hdr[0], hdr[1], hdr[2], hdr[3] = 0xff, 0xff, 0xff, 0xff
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(hdr[:])))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestCanFrameEventRoundTrip(t *testing.T) {
	orig := CanFrameEvent{CanID: 42, Data: []byte("Test Message 42")}
	got, err := UnmarshalCanFrameEvent(orig.Marshal())
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestCanTransmitAckRoundTrip(t *testing.T) {
	orig := CanTransmitAck{UserContext: 7, TimestampNs: 1000, Status: TransmitStatusTransmitted}
	got, err := UnmarshalCanTransmitAck(orig.Marshal())
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestServiceDescriptorRoundTripAndEquality(t *testing.T) {
	orig := ServiceAnnouncement{
		ParticipantName: "Node0",
		Services: []ServiceDescriptor{
			{
				ParticipantName: "Node0",
				NetworkName:     "PowerTrain1",
				ServiceName:     "CAN1",
				ServiceType:     ServiceController,
				EndpointID:      1,
				Attributes:      map[string]string{"z": "1", "a": "2"},
			},
		},
	}
	got, err := UnmarshalServiceAnnouncement(orig.Marshal())
	require.NoError(t, err)
	require.Len(t, got.Services, 1)
	assert.True(t, orig.Services[0].Equal(got.Services[0]))
	assert.Equal(t, orig.Services[0].Key(), got.Services[0].Key())

	// Byte-exact round trip regardless of original map iteration order.
	assert.Equal(t, orig.Marshal(), got.Marshal())
}

func TestNextSimTaskRoundTrip(t *testing.T) {
	orig := NextSimTask{NowNs: 5_000_000, DurationNs: 1_000_000}
	got, err := UnmarshalNextSimTask(orig.Marshal())
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestSystemCommandRoundTrip(t *testing.T) {
	orig := SystemCommand{Kind: CmdInitialize, TargetParticipantID: 9}
	got, err := UnmarshalSystemCommand(orig.Marshal())
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestParticipantStatusRoundTrip(t *testing.T) {
	orig := ParticipantStatus{ParticipantName: "TestUnit", State: StateRunning, EnterReason: "ok", TimestampNs: 123}
	got, err := UnmarshalParticipantStatus(orig.Marshal())
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestIBMessageEnvelopeRoundTrip(t *testing.T) {
	body := CanFrameEvent{CanID: 1, Data: []byte("x")}.Marshal()
	orig := IBMessage{Network: "PowerTrain1", Source: EndpointAddress{ParticipantID: 1, EndpointID: 2}, Tag: TagCanFrameEvent, Body: body}
	got, err := DecodeIBMessage(EncodeIBMessage(orig))
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestNegotiateRejectsBelowMinimum(t *testing.T) {
	_, err := Negotiate(CurrentVersion, MinSupportedVersion-1)
	assert.Error(t, err)
}

func TestNegotiatePicksLower(t *testing.T) {
	v, err := Negotiate(3, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v)
}
