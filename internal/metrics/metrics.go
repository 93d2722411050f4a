package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "medevent_ws_connections",
		Help: "Current number of active websocket connections",
	})
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medevent_chat_messages_total",
		Help: "Chat messages persisted and broadcast, by transport",
	}, []string{"transport"})
	MessageFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medevent_chat_message_failures_total",
		Help: "Chat sends rejected, by transport and reason",
	}, []string{"transport", "reason"})
	DuplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medevent_chat_duplicates_total",
		Help: "Chat sends suppressed as duplicates of an earlier client message id",
	})
	FallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medevent_chat_fallback_broadcasts_total",
		Help: "Broadcasts of a draft because the store returned no row",
	})
	PayloadShapesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medevent_chat_payload_shapes_total",
		Help: "Decoded send payloads, by transport and field naming convention",
	}, []string{"transport", "shape"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, MessagesTotal, MessageFailuresTotal, DuplicatesTotal,
		FallbacksTotal, PayloadShapesTotal, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware records request count and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
