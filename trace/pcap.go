// Package trace implements the packet-capture sink format named in spec §6:
// a .pcap GlobalHeader followed by per-frame records. It is generic over any
// controller's traffic, not just Ethernet — each network's frames are
// tunneled in under a link-type chosen to identify the bus family, mirroring
// Wireshark's LINKTYPE_* registry for non-Ethernet captures.
package trace

import (
	"encoding/binary"
	"io"
	"sync"
)

const (
	pcapMagic      uint32 = 0xA1B23C4D
	pcapVersionMaj uint16 = 2
	pcapVersionMin uint16 = 4
	pcapSnaplen    uint32 = 65535
)

// LinkType identifies the bus family a capture file's frames belong to.
// Ethernet uses the standard value; the bus-specific values are private
// allocations (per Wireshark's convention for vendor/experimental link
// types) since CAN/LIN/FlexRay are tunneled rather than natively captured.
type LinkType uint32

const (
	LinkTypeEthernet LinkType = 1
	LinkTypeCAN      LinkType = 0xE000 + 1
	LinkTypeLIN      LinkType = 0xE000 + 2
	LinkTypeFlexray  LinkType = 0xE000 + 3
)

// GlobalHeader is the fixed 24-byte .pcap file header (spec §6).
type GlobalHeader struct {
	Magic      uint32
	Major      uint16
	Minor      uint16
	ThisZone   int32
	SigFigs    uint32
	SnapLen    uint32
	LinkType   LinkType
}

func newGlobalHeader(link LinkType) GlobalHeader {
	return GlobalHeader{
		Magic:    pcapMagic,
		Major:    pcapVersionMaj,
		Minor:    pcapVersionMin,
		SnapLen:  pcapSnaplen,
		LinkType: link,
	}
}

func (h GlobalHeader) writeTo(w io.Writer) error {
	var buf [24]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Major)
	binary.LittleEndian.PutUint16(buf[6:8], h.Minor)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.ThisZone))
	binary.LittleEndian.PutUint32(buf[12:16], h.SigFigs)
	binary.LittleEndian.PutUint32(buf[16:20], h.SnapLen)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(h.LinkType))
	_, err := w.Write(buf[:])
	return err
}

// Record is one captured frame.
type Record struct {
	TimestampSec  uint32
	TimestampUsec uint32
	Data          []byte
}

func (r Record) writeTo(w io.Writer) error {
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:4], r.TimestampSec)
	binary.LittleEndian.PutUint32(hdr[4:8], r.TimestampUsec)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(r.Data)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(r.Data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(r.Data)
	return err
}

// Sink is a generic attachable capture destination: any controller can
// write frames to it without knowing where they end up (local file, blob).
type Sink interface {
	Write(tsSec, tsUsec uint32, data []byte) error
	Close() error
}

// FileSink writes directly to an io.WriteCloser (typically an *os.File).
type FileSink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewFileSink writes the GlobalHeader for link immediately, then returns a
// Sink ready for Write calls.
func NewFileSink(w io.WriteCloser, link LinkType) (*FileSink, error) {
	if err := newGlobalHeader(link).writeTo(w); err != nil {
		return nil, err
	}
	return &FileSink{w: w}, nil
}

func (s *FileSink) Write(tsSec, tsUsec uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Record{TimestampSec: tsSec, TimestampUsec: tsUsec, Data: data}.writeTo(s.w)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

var _ Sink = (*FileSink)(nil)
