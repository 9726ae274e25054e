package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons recorded by the bridge pipelines.
const (
	DropDecode       = "decode"
	DropChatter      = "chatter"
	DropEmpty        = "empty"
	DropHousekeeping = "housekeeping"
	DropUntranslated = "untranslated"
	DropNotConnected = "not_connected"
	DropStore        = "store"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clawbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawbridge",
			Subsystem: "conn",
			Name:      "frames_total",
			Help:      "Frames moved per channel and direction.",
		},
		[]string{"channel", "direction"},
	)
	reconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawbridge",
			Subsystem: "conn",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts per channel and outcome.",
		},
		[]string{"channel", "success"},
	)
	connectedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clawbridge",
			Subsystem: "conn",
			Name:      "connected",
			Help:      "1 while the channel is connected.",
		},
		[]string{"channel"},
	)
	droppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawbridge",
			Subsystem: "bridge",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped by the bridge per channel and reason.",
		},
		[]string{"channel", "reason"},
	)
	translatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawbridge",
			Subsystem: "bridge",
			Name:      "translated_total",
			Help:      "Downstream messages emitted by the translator per type.",
		},
		[]string{"type"},
	)
	storeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clawbridge",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Session store operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			framesTotal,
			reconnectsTotal,
			connectedGauge,
			droppedTotal,
			translatedTotal,
			storeDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(channel, direction string) {
	RegisterMetrics()
	framesTotal.WithLabelValues(channel, direction).Inc()
}

func RecordConnectAttempt(channel string, success bool) {
	RegisterMetrics()
	reconnectsTotal.WithLabelValues(channel, strconv.FormatBool(success)).Inc()
}

func SetConnected(channel string, connected bool) {
	RegisterMetrics()
	v := 0.0
	if connected {
		v = 1
	}
	connectedGauge.WithLabelValues(channel).Set(v)
}

func RecordDrop(channel, reason string) {
	RegisterMetrics()
	droppedTotal.WithLabelValues(channel, reason).Inc()
}

func RecordTranslated(kind string) {
	RegisterMetrics()
	translatedTotal.WithLabelValues(kind).Inc()
}

func RecordStoreOp(op string, duration time.Duration, success bool) {
	RegisterMetrics()
	storeDuration.WithLabelValues(op, strconv.FormatBool(success)).Observe(duration.Seconds())
}
