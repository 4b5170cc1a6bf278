// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッション管理、バックエンドクライアント、ワーカーから利用する。
type MetricsCollector interface {
	RecordSignIn(method string, success bool)
	RecordRefresh(success bool)
	RecordSignOut(globalSignOutFailed bool)
	RecordBackendStatus(statusCode int)
	RecordBackendLatency(duration time.Duration)
	RecordStoragePurged(count int64)
	SetLiveSessions(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIn         *prometheus.CounterVec
	refresh        *prometheus.CounterVec
	signOut        *prometheus.CounterVec
	backendStatus  *prometheus.CounterVec
	backendLatency prometheus.Histogram
	storagePurged  prometheus.Counter
	liveSessions   prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billdash_signin_total",
			Help: "サインイン試行の合計数",
		}, []string{"method", "result"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billdash_token_refresh_total",
			Help: "トークンリフレッシュの合計数",
		}, []string{"result"}),
		signOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billdash_signout_total",
			Help: "サインアウトの合計数",
		}, []string{"global_signout"}),
		backendStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billdash_backend_status_total",
			Help: "バックエンドAPIのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		backendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "billdash_backend_latency_seconds",
			Help:    "バックエンドAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		storagePurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billdash_storage_purged_total",
			Help: "クリーンアップで削除された保存データの合計数",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "billdash_live_sessions",
			Help: "プロセス内で保持しているセッション数",
		}),
	}

	reg.MustRegister(
		c.signIn,
		c.refresh,
		c.signOut,
		c.backendStatus,
		c.backendLatency,
		c.storagePurged,
		c.liveSessions,
	)

	return c
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordSignIn はサインイン結果を記録する。methodは "callback" または "password"。
func (c *Collector) RecordSignIn(method string, success bool) {
	c.signIn.WithLabelValues(method, resultLabel(success)).Inc()
}

// RecordRefresh はトークンリフレッシュ結果を記録する。
func (c *Collector) RecordRefresh(success bool) {
	c.refresh.WithLabelValues(resultLabel(success)).Inc()
}

// RecordSignOut はサインアウトを記録する。
func (c *Collector) RecordSignOut(globalSignOutFailed bool) {
	c.signOut.WithLabelValues(resultLabel(!globalSignOutFailed)).Inc()
}

// RecordBackendStatus はバックエンドAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordBackendStatus(statusCode int) {
	c.backendStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordBackendLatency はバックエンドAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordBackendLatency(duration time.Duration) {
	c.backendLatency.Observe(duration.Seconds())
}

// RecordStoragePurged はクリーンアップで削除された件数を記録する。
func (c *Collector) RecordStoragePurged(count int64) {
	c.storagePurged.Add(float64(count))
}

// SetLiveSessions はプロセス内のセッション数を設定する。
func (c *Collector) SetLiveSessions(count int) {
	c.liveSessions.Set(float64(count))
}

// NewRegistry はGoランタイムとプロセスのコレクターを登録済みのレジストリを返す。
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集エラーはレスポンスを失敗させず、取得できたメトリクスのみ返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordSignIn(string, bool)          {}
func (Nop) RecordRefresh(bool)                 {}
func (Nop) RecordSignOut(bool)                 {}
func (Nop) RecordBackendStatus(int)            {}
func (Nop) RecordBackendLatency(time.Duration) {}
func (Nop) RecordStoragePurged(int64)          {}
func (Nop) SetLiveSessions(int)                {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
