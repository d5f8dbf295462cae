package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RealtimeSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rundy_realtime_subscriptions",
		Help: "Open realtime subscriptions",
	})
	RealtimeEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rundy_realtime_events_dropped_total",
		Help: "Realtime events dropped because a subscriber buffer was full",
	})
	ChatMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rundy_chat_messages_total",
		Help: "Chat messages accepted by the store",
	})
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rundy_ws_connections",
		Help: "Open chat websocket connections",
	})
	MatchOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rundy_match_operations_total",
		Help: "Match mutations by operation and outcome",
	}, []string{"op", "result"})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		RealtimeSubscriptions,
		RealtimeEventsDropped,
		ChatMessagesTotal,
		WsConnections,
		MatchOperations,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ObserveMatchOp counts one match mutation.
func ObserveMatchOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	MatchOperations.WithLabelValues(op, result).Inc()
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
		HTTPRequestsTotal.With(labels).Inc()
		HTTPRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
