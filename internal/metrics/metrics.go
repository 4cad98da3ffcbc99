// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン・リフレッシュの結果ラベル。
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// 縮退モードに入った理由ラベル。
const (
	DegradedNoVerifier         = "no_verifier"
	DegradedVerificationFailed = "verification_failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスとミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(method, outcome string)
	RecordDegraded(reason string)
	RecordRefresh(outcome string)
	RecordUserCreated()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	degraded       *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	usersCreated   prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hanumo_auth_logins_total",
			Help: "ログイン方式・結果別のセッション発行数",
		}, []string{"method", "outcome"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hanumo_auth_degraded_total",
			Help: "合成クレームで処理したログインの数",
		}, []string{"reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hanumo_auth_refresh_total",
			Help: "結果別のトークンリフレッシュ数",
		}, []string{"outcome"}),
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hanumo_auth_users_created_total",
			Help: "新規作成されたユーザーの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hanumo_auth_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hanumo_auth_request_latency_seconds",
			Help:    "APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.degraded,
		c.refreshes,
		c.usersCreated,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordLogin はセッション発行の結果を記録する。
func (c *Collector) RecordLogin(method, outcome string) {
	c.logins.WithLabelValues(method, outcome).Inc()
}

// RecordDegraded は縮退モードでの処理を記録する。
func (c *Collector) RecordDegraded(reason string) {
	c.degraded.WithLabelValues(reason).Inc()
}

// RecordRefresh はリフレッシュの結果を記録する。
func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

// RecordUserCreated はユーザー新規作成を記録する。
func (c *Collector) RecordUserCreated() {
	c.usersCreated.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordLogin(string, string)         {}
func (Nop) RecordDegraded(string)              {}
func (Nop) RecordRefresh(string)               {}
func (Nop) RecordUserCreated()                 {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
