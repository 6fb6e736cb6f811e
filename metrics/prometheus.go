package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus adapts Collector onto the prometheus client so a hosting
// process can expose /metrics, grounded on the client_golang dependency
// carried by the luxfi-consensus example.
type Prometheus struct {
	*Default

	framesSent, framesReceived prometheus.Counter
	bytesSent, bytesReceived   prometheus.Counter
	activePeers                prometheus.Gauge
	barrierWait                prometheus.Gauge
}

// NewPrometheus registers vbus_* metrics on reg and returns a Collector that
// keeps the atomic Default counters (for in-process reads) in sync with them.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		Default: NewDefault(),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vbus_frames_sent_total", Help: "Frames written to peer links.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vbus_frames_received_total", Help: "Frames read from peer links.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vbus_bytes_sent_total", Help: "Bytes written to peer links.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vbus_bytes_received_total", Help: "Bytes read from peer links.",
		}),
		activePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vbus_active_peers", Help: "Currently connected peer links.",
		}),
		barrierWait: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vbus_barrier_wait_nanoseconds", Help: "Most recent time-sync barrier wait.",
		}),
	}
	reg.MustRegister(p.framesSent, p.framesReceived, p.bytesSent, p.bytesReceived, p.activePeers, p.barrierWait)
	return p
}

func (p *Prometheus) IncrementFramesSent() {
	p.Default.IncrementFramesSent()
	p.framesSent.Inc()
}

func (p *Prometheus) IncrementFramesReceived() {
	p.Default.IncrementFramesReceived()
	p.framesReceived.Inc()
}

func (p *Prometheus) IncrementBytesSent(n int64) {
	p.Default.IncrementBytesSent(n)
	p.bytesSent.Add(float64(n))
}

func (p *Prometheus) IncrementBytesReceived(n int64) {
	p.Default.IncrementBytesReceived(n)
	p.bytesReceived.Add(float64(n))
}

func (p *Prometheus) IncrementPeersConnected() {
	p.Default.IncrementPeersConnected()
	p.activePeers.Set(float64(p.GetActivePeers()))
}

func (p *Prometheus) IncrementPeersDisconnected() {
	p.Default.IncrementPeersDisconnected()
	p.activePeers.Set(float64(p.GetActivePeers()))
}

func (p *Prometheus) ObserveBarrierWait(nanos int64) {
	p.Default.ObserveBarrierWait(nanos)
	p.barrierWait.Set(float64(nanos))
}
