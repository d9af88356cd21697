// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// トークンリフレッシュ、イベント抽出、カレンダー登録の各外部呼び出しを計測する。
type Collector struct {
	refreshSuccess prometheus.Counter
	refreshFail    *prometheus.CounterVec
	refreshLatency prometheus.Histogram
	httpStatus     *prometheus.CounterVec
	eventsCreated  prometheus.Counter
	extractFail    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calendo_token_refresh_success_total",
			Help: "トークンリフレッシュ成功の合計数",
		}),
		refreshFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendo_token_refresh_fail_total",
			Help: "トークンリフレッシュ失敗の合計数（理由別）",
		}, []string{"reason"}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calendo_token_refresh_latency_seconds",
			Help:    "トークンリフレッシュのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendo_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		eventsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calendo_events_created_total",
			Help: "カレンダーに登録されたイベントの合計数",
		}),
		extractFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calendo_extraction_fail_total",
			Help: "イベント抽出失敗の合計数",
		}),
	}

	reg.MustRegister(
		c.refreshSuccess,
		c.refreshFail,
		c.refreshLatency,
		c.httpStatus,
		c.eventsCreated,
		c.extractFail,
	)

	return c
}

// RecordRefreshSuccess はトークンリフレッシュ成功を記録する。
func (c *Collector) RecordRefreshSuccess() {
	c.refreshSuccess.Inc()
}

// RecordRefreshFailure はトークンリフレッシュ失敗を理由付きで記録する。
func (c *Collector) RecordRefreshFailure(reason string) {
	c.refreshFail.WithLabelValues(reason).Inc()
}

// RecordRefreshLatency はトークンリフレッシュのレイテンシを記録する。
func (c *Collector) RecordRefreshLatency(duration time.Duration) {
	c.refreshLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordEventCreated はカレンダーへのイベント登録成功を記録する。
func (c *Collector) RecordEventCreated() {
	c.eventsCreated.Inc()
}

// RecordExtractionFailure はイベント抽出失敗を記録する。
func (c *Collector) RecordExtractionFailure() {
	c.extractFail.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
