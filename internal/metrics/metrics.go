// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はフィード同期ワーカーと取り込み処理が使うメトリクスのインターフェース。
type MetricsCollector interface {
	RecordSyncSuccess(novelID string)
	RecordSyncFailure(novelID string, reason string)
	RecordParseFailure(novelID string)
	RecordFetchLatency(duration time.Duration)
	RecordChaptersImported(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncSuccess      prometheus.Counter
	syncFail         *prometheus.CounterVec
	parseFail        prometheus.Counter
	fetchLatency     prometheus.Histogram
	chaptersImported prometheus.Counter
	httpStatus       *prometheus.CounterVec
	gateDecisions    *prometheus.CounterVec
	authEvents       *prometheus.CounterVec
	signIns          *prometheus.CounterVec
	activeClients    prometheus.GaugeFunc
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
// activeClientsには管理中のクライアント数を返す関数を渡す。nilなら登録しない。
func NewCollector(reg prometheus.Registerer, activeClients func() int) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novelshelf_sync_success_total",
			Help: "フィード同期成功の合計数",
		}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "novelshelf_sync_fail_total",
			Help: "フィード同期失敗の合計数",
		}, []string{"reason"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novelshelf_parse_fail_total",
			Help: "フィードパース失敗の合計数",
		}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "novelshelf_fetch_latency_seconds",
			Help:    "フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		chaptersImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novelshelf_chapters_imported_total",
			Help: "フィードから取り込んだ章の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "novelshelf_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "novelshelf_gate_decisions_total",
			Help: "認可ゲートの判定数",
		}, []string{"policy", "status", "reason"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "novelshelf_auth_events_total",
			Help: "受信した認証状態変化通知の数",
		}, []string{"event"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "novelshelf_sign_in_total",
			Help: "サインイン試行の結果別件数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncFail,
		c.parseFail,
		c.fetchLatency,
		c.chaptersImported,
		c.httpStatus,
		c.gateDecisions,
		c.authEvents,
		c.signIns,
	)

	if activeClients != nil {
		c.activeClients = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "novelshelf_active_clients",
			Help: "セッション状態を保持しているブラウザクライアント数",
		}, func() float64 { return float64(activeClients()) })
		reg.MustRegister(c.activeClients)
	}

	return c
}

// RecordSyncSuccess は同期成功を記録する。
func (c *Collector) RecordSyncSuccess(novelID string) {
	c.syncSuccess.Inc()
}

// RecordSyncFailure は同期失敗を記録する。
func (c *Collector) RecordSyncFailure(novelID string, reason string) {
	c.syncFail.WithLabelValues(reason).Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(novelID string) {
	c.parseFail.Inc()
}

// RecordFetchLatency はフィード取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordChaptersImported は取り込んだ章数を記録する。
func (c *Collector) RecordChaptersImported(count int) {
	c.chaptersImported.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordGateDecision は認可ゲートの判定を記録する。
func (c *Collector) RecordGateDecision(policy, status, reason string) {
	c.gateDecisions.WithLabelValues(policy, status, reason).Inc()
}

// RecordAuthEvent は認証状態変化通知を記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordSignIn はサインイン結果を記録する。
func (c *Collector) RecordSignIn(result string) {
	c.signIns.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewStatusMiddleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func NewStatusMiddleware(c *Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			c.RecordHTTPStatus(rec.status)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}
