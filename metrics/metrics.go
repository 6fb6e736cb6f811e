// Package metrics provides the counters the registry server and the mesh
// connection manager report through, generalized from
// the teacher's per-connection Metrics interface into mesh-wide counters.
package metrics

import "sync/atomic"

// Collector is implemented by anything that wants to observe mesh activity.
// Increment* are called from the hot path; Get* are for exposition.
type Collector interface {
	IncrementFramesSent()
	IncrementFramesReceived()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)
	IncrementPeersConnected()
	IncrementPeersDisconnected()
	ObserveBarrierWait(nanos int64)

	GetFramesSent() int64
	GetFramesReceived() int64
	GetBytesSent() int64
	GetBytesReceived() int64
	GetActivePeers() int64
	GetBarrierWaitNanos() int64
}

// Default is an atomic-counter Collector, the zero-dependency default used
// when a caller does not install a Prometheus-backed one.
type Default struct {
	framesSent, framesReceived     int64
	bytesSent, bytesReceived       int64
	peersConnected, peersDeparted  int64
	barrierWaitNanos               int64
}

func NewDefault() *Default { return &Default{} }

func (m *Default) IncrementFramesSent()       { atomic.AddInt64(&m.framesSent, 1) }
func (m *Default) IncrementFramesReceived()   { atomic.AddInt64(&m.framesReceived, 1) }
func (m *Default) IncrementBytesSent(n int64) { atomic.AddInt64(&m.bytesSent, n) }
func (m *Default) IncrementBytesReceived(n int64) {
	atomic.AddInt64(&m.bytesReceived, n)
}
func (m *Default) IncrementPeersConnected()    { atomic.AddInt64(&m.peersConnected, 1) }
func (m *Default) IncrementPeersDisconnected() { atomic.AddInt64(&m.peersDeparted, 1) }
func (m *Default) ObserveBarrierWait(nanos int64) {
	atomic.StoreInt64(&m.barrierWaitNanos, nanos)
}

func (m *Default) GetFramesSent() int64     { return atomic.LoadInt64(&m.framesSent) }
func (m *Default) GetFramesReceived() int64 { return atomic.LoadInt64(&m.framesReceived) }
func (m *Default) GetBytesSent() int64      { return atomic.LoadInt64(&m.bytesSent) }
func (m *Default) GetBytesReceived() int64  { return atomic.LoadInt64(&m.bytesReceived) }
func (m *Default) GetActivePeers() int64 {
	return atomic.LoadInt64(&m.peersConnected) - atomic.LoadInt64(&m.peersDeparted)
}
func (m *Default) GetBarrierWaitNanos() int64 { return atomic.LoadInt64(&m.barrierWaitNanos) }
