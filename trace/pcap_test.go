package trace_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vbus-sim/vbus/trace"
)

type nopCloserBuf struct{ *bytes.Buffer }

func (nopCloserBuf) Close() error { return nil }

func TestFileSinkWritesValidGlobalHeader(t *testing.T) {
	buf := &bytes.Buffer{}
	sink, err := trace.NewFileSink(nopCloserBuf{buf}, trace.LinkTypeCAN)
	require.NoError(t, err)

	require.NoError(t, sink.Write(1, 2, []byte("frame")))
	require.NoError(t, sink.Close())

	raw := buf.Bytes()
	require.GreaterOrEqual(t, len(raw), 24+16+5)

	magic := binary.LittleEndian.Uint32(raw[0:4])
	require.Equal(t, uint32(0xA1B23C4D), magic)

	major := binary.LittleEndian.Uint16(raw[4:6])
	minor := binary.LittleEndian.Uint16(raw[6:8])
	require.Equal(t, uint16(2), major)
	require.Equal(t, uint16(4), minor)

	snaplen := binary.LittleEndian.Uint32(raw[16:20])
	require.Equal(t, uint32(65535), snaplen)

	linkType := binary.LittleEndian.Uint32(raw[20:24])
	require.Equal(t, uint32(trace.LinkTypeCAN), linkType)

	record := raw[24:]
	tsSec := binary.LittleEndian.Uint32(record[0:4])
	tsUsec := binary.LittleEndian.Uint32(record[4:8])
	inclLen := binary.LittleEndian.Uint32(record[8:12])
	origLen := binary.LittleEndian.Uint32(record[12:16])
	require.Equal(t, uint32(1), tsSec)
	require.Equal(t, uint32(2), tsUsec)
	require.Equal(t, uint32(5), inclLen)
	require.Equal(t, uint32(5), origLen)
	require.Equal(t, []byte("frame"), record[16:21])
}

func TestMultipleRecordsAppend(t *testing.T) {
	buf := &bytes.Buffer{}
	sink, err := trace.NewFileSink(nopCloserBuf{buf}, trace.LinkTypeEthernet)
	require.NoError(t, err)

	require.NoError(t, sink.Write(1, 0, []byte("a")))
	require.NoError(t, sink.Write(2, 0, []byte("bb")))

	expected := 24 + (16 + 1) + (16 + 2)
	require.Equal(t, expected, buf.Len())
}
