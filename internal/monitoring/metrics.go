package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 入站处理指标，outcome 取值：
	// stored / duplicate / dropped_unresolvable / dropped_unknown /
	// dropped_disabled / failed
	IngestOutcomes *prometheus.CounterVec
	IngestPolls    prometheus.Counter

	// 投递指标，outcome 取值：
	// delivered / skipped_processed / skipped_migration / failed
	DeliveryOutcomes *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
	SendAttempts     prometheus.Counter

	// 摘要指标
	SummariesGenerated prometheus.Counter
	SummaryFallbacks   prometheus.Counter

	// 别名指标
	AliasesProvisioned prometheus.Counter
	AliasesDisabled    prometheus.Counter
	AliasesMigrated    prometheus.Counter

	// 清理指标
	RecordsReaped prometheus.Counter

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailecho_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailecho_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		IngestOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailecho_ingest_messages_total",
				Help: "Inbound messages processed by outcome",
			},
			[]string{"outcome"},
		),
		IngestPolls: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailecho_ingest_polls_total",
				Help: "Total number of mailbox poll runs",
			},
		),
		DeliveryOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailecho_delivery_messages_total",
				Help: "Delivery attempts by outcome",
			},
			[]string{"outcome"},
		),
		DeliveryDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailecho_delivery_duration_seconds",
				Help:    "Time spent delivering one message end to end",
				Buckets: prometheus.DefBuckets,
			},
		),
		SendAttempts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailecho_telegram_send_attempts_total",
				Help: "Total Telegram sendMessage attempts including retries",
			},
		),
		SummariesGenerated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailecho_summaries_generated_total",
				Help: "Summaries produced by the summarizer",
			},
		),
		SummaryFallbacks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailecho_summary_fallbacks_total",
				Help: "Deliveries that fell back to a body excerpt",
			},
		),
		AliasesProvisioned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailecho_aliases_provisioned_total",
				Help: "Total number of aliases provisioned",
			},
		),
		AliasesDisabled: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailecho_aliases_disabled_total",
				Help: "Total number of aliases disabled",
			},
		),
		AliasesMigrated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailecho_aliases_migrated_total",
				Help: "Aliases rebound to the current bot",
			},
		),
		RecordsReaped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailecho_records_reaped_total",
				Help: "Expired message records removed by the reaper",
			},
		),
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailecho_errors_total",
				Help: "Total number of errors by type and component",
			},
			[]string{"type", "component"},
		),
		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailecho_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录一次 HTTP 请求。
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordIngestOutcome 记录一封入站邮件的处理结果。
func (m *Metrics) RecordIngestOutcome(outcome string) {
	m.IngestOutcomes.WithLabelValues(outcome).Inc()
}

// RecordDeliveryOutcome 记录一次投递结果。
func (m *Metrics) RecordDeliveryOutcome(outcome string, duration time.Duration) {
	m.DeliveryOutcomes.WithLabelValues(outcome).Inc()
	m.DeliveryDuration.Observe(duration.Seconds())
}

// RecordError 记录错误。
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic。
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// Handler 返回 Prometheus 指标的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
