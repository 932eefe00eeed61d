package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry 应用自己的指标注册表
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakedao",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stakedao",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	ledgerOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakedao",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Staking ledger operations by type and result.",
		},
		[]string{"op", "result"},
	)

	governanceOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakedao",
			Subsystem: "governance",
			Name:      "operations_total",
			Help:      "Governance operations (create, vote, resolve, execute) by result.",
		},
		[]string{"op", "result"},
	)

	txRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakedao",
			Subsystem: "db",
			Name:      "tx_retries_total",
			Help:      "Transactions retried after a transient storage error.",
		},
		[]string{"name"},
	)

	outboxSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakedao",
			Subsystem: "outbox",
			Name:      "messages_total",
			Help:      "Outbox messages relayed to Kafka by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		ledgerOps,
		governanceOps,
		txRetries,
		outboxSent,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware 记录 HTTP 请求数和耗时，path 使用路由模板避免基数爆炸
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func RecordLedgerOp(op string, err error) {
	ledgerOps.WithLabelValues(op, result(err)).Inc()
}

func RecordGovernanceOp(op string, err error) {
	governanceOps.WithLabelValues(op, result(err)).Inc()
}

func RecordTxRetry(name string) {
	txRetries.WithLabelValues(name).Inc()
}

func RecordOutbox(err error) {
	outboxSent.WithLabelValues(result(err)).Inc()
}

// result 业务错误按类别打标签，其他错误统一为 error
func result(err error) string {
	if err == nil {
		return "ok"
	}
	var ke interface{ ErrorKind() string }
	if errors.As(err, &ke) {
		return strings.ToLower(ke.ErrorKind())
	}
	return "error"
}
