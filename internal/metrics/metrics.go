// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// テレメトリシンク、楽観的更新ストア、オンボーディングサービス、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordClassifiedError(provider, code, severity string)
	RecordRetry(provider, code string)
	RecordRecovered(provider string)
	RecordOptimisticMutation(operation, outcome string)
	RecordOnboardingTransition(step string)
	RecordHTTPStatus(statusCode int)
	RecordOperationLatency(operation string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	classifiedErrors *prometheus.CounterVec
	retries          *prometheus.CounterVec
	recovered        *prometheus.CounterVec
	mutations        *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	opLatency        *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		classifiedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tminus_classified_errors_total",
			Help: "分類済みエラーの合計数",
		}, []string{"provider", "code", "severity"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tminus_retries_total",
			Help: "一時的な失敗によるリトライの合計数",
		}, []string{"provider", "code"}),
		recovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tminus_recovered_total",
			Help: "リトライ後に成功した操作の合計数",
		}, []string{"provider"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tminus_optimistic_mutations_total",
			Help: "楽観的更新の結果別の合計数（confirmed, rolled_back, dropped）",
		}, []string{"operation", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tminus_onboarding_transitions_total",
			Help: "オンボーディングセッションの段階別の遷移数",
		}, []string{"step"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tminus_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tminus_operation_latency_seconds",
			Help:    "外部呼び出しを含む操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.classifiedErrors,
		c.retries,
		c.recovered,
		c.mutations,
		c.transitions,
		c.httpStatus,
		c.opLatency,
	)

	return c
}

// RecordClassifiedError は分類済みエラーを記録する。
func (c *Collector) RecordClassifiedError(provider, code, severity string) {
	c.classifiedErrors.WithLabelValues(provider, code, severity).Inc()
}

// RecordRetry はリトライを記録する。
func (c *Collector) RecordRetry(provider, code string) {
	c.retries.WithLabelValues(provider, code).Inc()
}

// RecordRecovered はリトライ後の成功を記録する。
func (c *Collector) RecordRecovered(provider string) {
	c.recovered.WithLabelValues(provider).Inc()
}

// RecordOptimisticMutation は楽観的更新の結果を記録する。
func (c *Collector) RecordOptimisticMutation(operation, outcome string) {
	c.mutations.WithLabelValues(operation, outcome).Inc()
}

// RecordOnboardingTransition はセッションの遷移先段階を記録する。
func (c *Collector) RecordOnboardingTransition(step string) {
	c.transitions.WithLabelValues(step).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordOperationLatency は操作のレイテンシを記録する。
func (c *Collector) RecordOperationLatency(operation string, duration time.Duration) {
	c.opLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordClassifiedError(string, string, string) {}
func (Nop) RecordRetry(string, string)                   {}
func (Nop) RecordRecovered(string)                       {}
func (Nop) RecordOptimisticMutation(string, string)      {}
func (Nop) RecordOnboardingTransition(string)            {}
func (Nop) RecordHTTPStatus(int)                         {}
func (Nop) RecordOperationLatency(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// Acceptヘッダーに応じてOpenMetrics形式でも応答する。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
