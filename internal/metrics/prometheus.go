package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the receiver.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Connection metrics
	ConnectAttempts *prometheus.CounterVec
	ConnectionsLost *prometheus.CounterVec
	Connected       *prometheus.GaugeVec

	// Frame metrics
	FramesReceived *prometheus.CounterVec
	BytesReceived  *prometheus.CounterVec
	UnknownFrames  *prometheus.CounterVec
	MessageSize    *prometheus.HistogramVec

	// Decode metrics
	DecodeErrors   *prometheus.CounterVec
	DecodeDuration *prometheus.HistogramVec

	// Sink metrics
	SamplesDelivered *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	SyncPoints       *prometheus.CounterVec
	SamplesRecorded  prometheus.Counter
	SamplesPublished prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Connection metrics
		ConnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ray_connect_attempts_total",
			Help: "Total number of device connection attempts",
		}, []string{"pipeline"}),
		ConnectionsLost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ray_connections_lost_total",
			Help: "Total number of established connections that were lost or dropped",
		}, []string{"pipeline"}),
		Connected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ray_connected",
			Help: "1 while the pipeline holds a live device connection",
		}, []string{"pipeline"}),

		// Frame metrics
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ray_frames_received_total",
			Help: "Total number of complete frames demultiplexed",
		}, []string{"pipeline"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ray_payload_bytes_received_total",
			Help: "Total number of frame payload bytes received",
		}, []string{"pipeline"}),
		UnknownFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ray_unknown_frames_total",
			Help: "Total number of frame headers that did not match the expected shape",
		}, []string{"pipeline"}),
		MessageSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ray_message_size_bytes",
			Help:    "Size of received message payloads",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~8MB
		}, []string{"pipeline"}),

		// Decode metrics
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ray_decode_errors_total",
			Help: "Total number of messages that failed to decode",
		}, []string{"pipeline", "kind"}),
		DecodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ray_decode_duration_seconds",
			Help:    "Time spent decoding one message",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
		}, []string{"pipeline"}),

		// Sink metrics
		SamplesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ray_samples_delivered_total",
			Help: "Total number of decoded samples delivered to the sink",
		}, []string{"pipeline"}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ray_sink_errors_total",
			Help: "Total number of sink delivery errors",
		}, []string{"pipeline"}),
		SyncPoints: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ray_sync_points_total",
			Help: "Total number of pacing synchronization points reached",
		}, []string{"pipeline"}),
		SamplesRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "ray_samples_recorded_total",
			Help: "Total number of samples written to the recording file",
		}),
		SamplesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "ray_samples_published_total",
			Help: "Total number of samples published to Redis",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ray_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ray_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ray_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordConnectAttempt increments the connection attempts counter
func (m *Metrics) RecordConnectAttempt(pipeline string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(pipeline).Inc()
}

// SetConnected sets the connected gauge for a pipeline
func (m *Metrics) SetConnected(pipeline string, connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1
	}
	m.Connected.WithLabelValues(pipeline).Set(value)
}

// RecordConnectionLost increments the lost connections counter
func (m *Metrics) RecordConnectionLost(pipeline string) {
	if m == nil {
		return
	}
	m.ConnectionsLost.WithLabelValues(pipeline).Inc()
}

// RecordFrame records one complete frame and its payload size
func (m *Metrics) RecordFrame(pipeline string, sizeBytes int) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(pipeline).Inc()
	m.BytesReceived.WithLabelValues(pipeline).Add(float64(sizeBytes))
	m.MessageSize.WithLabelValues(pipeline).Observe(float64(sizeBytes))
}

// RecordUnknownFrame increments the unknown frames counter
func (m *Metrics) RecordUnknownFrame(pipeline string) {
	if m == nil {
		return
	}
	m.UnknownFrames.WithLabelValues(pipeline).Inc()
}

// RecordDecode records the time spent decoding one message
func (m *Metrics) RecordDecode(pipeline string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.DecodeDuration.WithLabelValues(pipeline).Observe(durationSeconds)
}

// RecordDecodeError increments the decode errors counter for the given kind
func (m *Metrics) RecordDecodeError(pipeline, kind string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(pipeline, kind).Inc()
}

// RecordDelivered increments the delivered samples counter
func (m *Metrics) RecordDelivered(pipeline string) {
	if m == nil {
		return
	}
	m.SamplesDelivered.WithLabelValues(pipeline).Inc()
}

// RecordSinkError increments the sink errors counter
func (m *Metrics) RecordSinkError(pipeline string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(pipeline).Inc()
}

// RecordSyncPoint increments the synchronization points counter
func (m *Metrics) RecordSyncPoint(pipeline string) {
	if m == nil {
		return
	}
	m.SyncPoints.WithLabelValues(pipeline).Inc()
}

// RecordSampleRecorded increments the recorded samples counter
func (m *Metrics) RecordSampleRecorded() {
	if m == nil {
		return
	}
	m.SamplesRecorded.Inc()
}

// RecordSamplePublished increments the published samples counter
func (m *Metrics) RecordSamplePublished() {
	if m == nil {
		return
	}
	m.SamplesPublished.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
