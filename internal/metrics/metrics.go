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
// HTTPクライアントやサービス層から利用する。
type MetricsCollector interface {
	RecordAPIRequest(method string, statusCode int, duration time.Duration)
	RecordAPIError(kind string)
	RecordToggle(outcome string)
	RecordLogin(outcome string)
	RecordTourCompletion(tourName string)
	RecordActiveSessions(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiRequests    *prometheus.CounterVec
	apiErrors      *prometheus.CounterVec
	apiLatency     prometheus.Histogram
	toggles        *prometheus.CounterVec
	logins         *prometheus.CounterVec
	tourComplete   *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serifu_api_requests_total",
			Help: "リモートAPIへのリクエスト数（メソッド・ステータスコード別）",
		}, []string{"method", "status_code"}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serifu_api_errors_total",
			Help: "リモートAPI呼び出しの失敗数（種別ごと）",
		}, []string{"kind"}),
		apiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "serifu_api_latency_seconds",
			Help:    "リモートAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serifu_favorite_toggles_total",
			Help: "お気に入りトグルの結果数（成功・失敗・スキップ別）",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serifu_logins_total",
			Help: "ログイン試行の結果数",
		}, []string{"outcome"}),
		tourComplete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serifu_tour_completions_total",
			Help: "ガイドツアー完了数（ツアー名別）",
		}, []string{"tour"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "serifu_active_sessions",
			Help: "メモリ上のアクティブなブラウザセッション数",
		}),
	}

	reg.MustRegister(
		c.apiRequests,
		c.apiErrors,
		c.apiLatency,
		c.toggles,
		c.logins,
		c.tourComplete,
		c.activeSessions,
	)

	return c
}

// RecordAPIRequest はリモートAPI呼び出しを記録する。
// apiclient.Recorderを実装する。
func (c *Collector) RecordAPIRequest(method string, statusCode int, duration time.Duration) {
	c.apiRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.apiLatency.Observe(duration.Seconds())
}

// RecordAPIError はリモートAPI呼び出しの失敗を種別付きで記録する。
func (c *Collector) RecordAPIError(kind string) {
	c.apiErrors.WithLabelValues(kind).Inc()
}

// RecordToggle はお気に入りトグルの結果を記録する。
func (c *Collector) RecordToggle(outcome string) {
	c.toggles.WithLabelValues(outcome).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordTourCompletion はツアー完了を記録する。
func (c *Collector) RecordTourCompletion(tourName string) {
	c.tourComplete.WithLabelValues(tourName).Inc()
}

// RecordActiveSessions はアクティブなブラウザセッション数を記録する。
func (c *Collector) RecordActiveSessions(count int) {
	c.activeSessions.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
