// Package metrics exposes rampart's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the sidecar. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Multiplexer
	PacketsReceived *prometheus.CounterVec
	PacketsDropped  prometheus.Counter
	PacketsSent     *prometheus.CounterVec

	// Admin engine
	CommandsExecuted *prometheus.CounterVec
	PlayersConnected prometheus.Gauge

	// Sound manager
	Downloads      *prometheus.CounterVec
	DownloadQueue  prometheus.Gauge
	PlaybackActive prometheus.Gauge
	VoiceFrames    prometheus.Counter
	DecodeDuration prometheus.Histogram
}

// NewMetrics creates all collectors on a private registry so several
// instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rampart_packets_received_total",
			Help: "Well-formed datagrams routed, by packet tag",
		}, []string{"tag"}),
		PacketsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rampart_packets_dropped_total",
			Help: "Datagrams dropped as malformed",
		}),
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rampart_packets_sent_total",
			Help: "Datagrams sent to the engine, by packet tag",
		}, []string{"tag"}),

		CommandsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rampart_admin_commands_total",
			Help: "Admin commands handled, by command and result",
		}, []string{"command", "result"}),
		PlayersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rampart_players_connected",
			Help: "Players currently in the registry",
		}),

		Downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rampart_downloads_total",
			Help: "Finished downloads, by outcome",
		}, []string{"outcome"}),
		DownloadQueue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rampart_download_queue",
			Help: "Downloads currently in flight",
		}),
		PlaybackActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rampart_playback_active",
			Help: "1 while a clip is streaming",
		}),
		VoiceFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "rampart_voice_frames_total",
			Help: "Opus frames sent",
		}),
		DecodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rampart_decode_duration_seconds",
			Help:    "Time spent decoding a clip before playback",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPacket counts a routed datagram.
func (m *Metrics) RecordPacket(tag string) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(tag).Inc()
}

// RecordDrop counts a malformed datagram.
func (m *Metrics) RecordDrop() {
	if m == nil {
		return
	}
	m.PacketsDropped.Inc()
}

// RecordSent counts an outbound datagram.
func (m *Metrics) RecordSent(tag string) {
	if m == nil {
		return
	}
	m.PacketsSent.WithLabelValues(tag).Inc()
}

// RecordCommand counts an admin command outcome.
func (m *Metrics) RecordCommand(command, result string) {
	if m == nil {
		return
	}
	m.CommandsExecuted.WithLabelValues(command, result).Inc()
}

// SetPlayers sets the connected player gauge.
func (m *Metrics) SetPlayers(n int) {
	if m == nil {
		return
	}
	m.PlayersConnected.Set(float64(n))
}

// RecordDownload counts a finished download.
func (m *Metrics) RecordDownload(outcome string) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(outcome).Inc()
}

// SetDownloadQueue sets the in-flight download gauge.
func (m *Metrics) SetDownloadQueue(n int) {
	if m == nil {
		return
	}
	m.DownloadQueue.Set(float64(n))
}

// SetPlayback sets the playback gauge.
func (m *Metrics) SetPlayback(active bool) {
	if m == nil {
		return
	}
	if active {
		m.PlaybackActive.Set(1)
	} else {
		m.PlaybackActive.Set(0)
	}
}

// RecordVoiceFrame counts an emitted Opus frame.
func (m *Metrics) RecordVoiceFrame() {
	if m == nil {
		return
	}
	m.VoiceFrames.Inc()
}

// ObserveDecode records clip decode time in seconds.
func (m *Metrics) ObserveDecode(seconds float64) {
	if m == nil {
		return
	}
	m.DecodeDuration.Observe(seconds)
}
