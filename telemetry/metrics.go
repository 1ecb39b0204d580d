// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesObserved prometheus.Counter
	DispatchOutcomes *prometheus.CounterVec // label: outcome
	CommandsExecuted *prometheus.CounterVec // label: command
	RepliesFailed    prometheus.Counter
	HTTPRequests     *prometheus.CounterVec // labels: method, route, status

	// Histograms (seconds)
	HandlerDuration *prometheus.HistogramVec // label: command
	HTTPDuration    *prometheus.HistogramVec // label: route

	// Gauges
	CooldownEntries    prometheus.Gauge
	ChatConnectedGauge prometheus.Gauge // 1=connected,0=disconnected
	DBOpenConnections  prometheus.Gauge
	DBInUseConnections prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesObserved = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_chat_messages_total", Help: "Chat messages observed (echo excluded)"})
		DispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_dispatch_outcomes_total", Help: "Dispatch results by outcome"}, []string{"outcome"})
		CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_commands_executed_total", Help: "Successful command executions"}, []string{"command"})
		RepliesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_replies_failed_total", Help: "Replies that could not be sent to chat"})
		HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_http_requests_total", Help: "HTTP requests served"}, []string{"method", "route", "status"})
		HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streambot_handler_duration_seconds",
			Help:    "Command handler duration seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"command"})
		HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "streambot_http_request_duration_seconds", Help: "HTTP request duration seconds", Buckets: prometheus.DefBuckets}, []string{"route"})
		CooldownEntries = promauto.NewGauge(prometheus.GaugeOpts{Name: "streambot_cooldown_entries", Help: "Live cooldown entries held in memory"})
		ChatConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streambot_chat_connected", Help: "Chat connection up=1 down=0"})
		DBOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{Name: "streambot_db_open_connections", Help: "Open database connections"})
		DBInUseConnections = promauto.NewGauge(prometheus.GaugeOpts{Name: "streambot_db_in_use_connections", Help: "Database connections in use"})
	})
}

// RecordOutcome counts one dispatch result.
func RecordOutcome(outcome string) {
	if DispatchOutcomes != nil {
		DispatchOutcomes.WithLabelValues(outcome).Inc()
	}
}

// RecordMessage counts one observed chat message.
func RecordMessage() {
	if MessagesObserved != nil {
		MessagesObserved.Inc()
	}
}

// RecordCommand counts a successful execution of name.
func RecordCommand(name string) {
	if CommandsExecuted != nil {
		CommandsExecuted.WithLabelValues(name).Inc()
	}
}

// RecordReplyFailure counts a reply the transport rejected.
func RecordReplyFailure() {
	if RepliesFailed != nil {
		RepliesFailed.Inc()
	}
}

// ObserveHandler records how long the handler for name ran.
func ObserveHandler(name string, d time.Duration) {
	if HandlerDuration != nil {
		HandlerDuration.WithLabelValues(name).Observe(d.Seconds())
	}
}

// ObserveHTTP records a served request.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	if HTTPRequests != nil {
		HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	}
	if HTTPDuration != nil {
		HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// SetCooldownEntries records the tracker size.
func SetCooldownEntries(n int) {
	if CooldownEntries != nil {
		CooldownEntries.Set(float64(n))
	}
}

// UpdateChatConnected sets gauge to 1 if connected else 0.
func UpdateChatConnected(up bool) {
	if ChatConnectedGauge == nil {
		return
	}
	if up {
		ChatConnectedGauge.Set(1)
	} else {
		ChatConnectedGauge.Set(0)
	}
}

// UpdateDatabasePoolMetrics records sql.DBStats style pool numbers.
func UpdateDatabasePoolMetrics(open, inUse int) {
	if DBOpenConnections != nil {
		DBOpenConnections.Set(float64(open))
	}
	if DBInUseConnections != nil {
		DBInUseConnections.Set(float64(inUse))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
