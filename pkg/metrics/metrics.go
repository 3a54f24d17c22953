// Package metrics 定义了 PII 审计服务的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NERRequests 按结果（ok、timeout、bad_status 等）统计 NER 调用次数
	NERRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pii_audit_ner_requests_total",
		Help: "Total entity recognition calls by outcome",
	}, []string{"outcome"})

	// NERLatency 统计实际发出的 NER 请求耗时
	NERLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pii_audit_ner_request_duration_seconds",
		Help:    "Duration of entity recognition HTTP calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// FindingsDetected 按风险等级统计 PII 命中数
	FindingsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pii_audit_findings_total",
		Help: "Total PII findings by risk level",
	}, []string{"risk"})

	// DetectionsPersisted 统计写入的检测结果条数
	DetectionsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pii_audit_detections_persisted_total",
		Help: "Total PII detection results persisted",
	})

	// RetentionAudits 按结果统计每个租户的保留审计
	RetentionAudits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pii_audit_retention_audits_total",
		Help: "Per-tenant retention audit runs by status",
	}, []string{"status"})

	// ExportBundles 按结果统计合规导出包
	ExportBundles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pii_audit_export_bundles_total",
		Help: "Compliance export bundles by status",
	}, []string{"status"})
)

// ObserveNER 记录一次 NER 调用的结果与耗时，未发出请求时 d 为 0。
func ObserveNER(outcome string, d time.Duration) {
	NERRequests.WithLabelValues(outcome).Inc()
	if d > 0 {
		NERLatency.Observe(d.Seconds())
	}
}

// AddFinding 记录一条 PII 命中。
func AddFinding(risk string) {
	FindingsDetected.WithLabelValues(risk).Inc()
}
