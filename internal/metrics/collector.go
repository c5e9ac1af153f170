// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 管线指标
	pipelineRequestsTotal   *prometheus.CounterVec
	pipelineRequestDuration *prometheus.HistogramVec

	// 检索策略指标
	strategyCandidates *prometheus.HistogramVec
	strategyFailures   *prometheus.CounterVec

	// LLM 指标
	llmCallsTotal   *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec

	// 重排序指标
	rerankFallbacks prometheus.Counter

	// 压缩指标
	compressionDroppedChunks prometheus.Histogram
	compressionOverflows     prometheus.Counter

	// 批处理指标
	batchSummaryFailures prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 管线指标
	c.pipelineRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_requests_total",
			Help:      "Total number of retrieval pipeline executions",
		},
		[]string{"mode", "status"},
	)

	c.pipelineRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_request_duration_seconds",
			Help:      "Retrieval pipeline duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// 检索策略指标
	c.strategyCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "strategy_candidates",
			Help:      "Number of candidates produced by a retrieval strategy",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		},
		[]string{"strategy"},
	)

	c.strategyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_failures_total",
			Help:      "Total number of retrieval strategy failures",
		},
		[]string{"strategy"},
	)

	// LLM 指标
	c.llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Total number of completion/embedding service calls",
		},
		[]string{"kind", "status"},
	)

	c.llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Completion/embedding service call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// 重排序指标
	c.rerankFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_fallbacks_total",
			Help:      "Total number of rerank calls that fell back to retrieval ordering",
		},
	)

	// 压缩指标
	c.compressionDroppedChunks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compression_dropped_chunks",
			Help:      "Number of chunks dropped by the adaptive compressor",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		},
	)

	c.compressionOverflows = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compression_overflows_total",
			Help:      "Total number of contexts that could not fit the token budget",
		},
	)

	// 批处理指标
	c.batchSummaryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_summary_failures_total",
			Help:      "Total number of batch summaries replaced with stubs",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 指标记录
// =============================================================================

// RecordPipelineRequest 记录一次管线执行
func (c *Collector) RecordPipelineRequest(mode, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.pipelineRequestsTotal.WithLabelValues(mode, status).Inc()
	c.pipelineRequestDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordStrategy 记录一次检索策略执行
func (c *Collector) RecordStrategy(strategy string, candidates int) {
	if c == nil {
		return
	}
	c.strategyCandidates.WithLabelValues(strategy).Observe(float64(candidates))
}

// RecordStrategyFailure 记录一次检索策略失败
func (c *Collector) RecordStrategyFailure(strategy string) {
	if c == nil {
		return
	}
	c.strategyFailures.WithLabelValues(strategy).Inc()
}

// RecordLLMCall 记录一次外部模型服务调用
func (c *Collector) RecordLLMCall(kind, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.llmCallsTotal.WithLabelValues(kind, status).Inc()
	c.llmCallDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRerankFallback 记录一次重排序回退
func (c *Collector) RecordRerankFallback() {
	if c == nil {
		return
	}
	c.rerankFallbacks.Inc()
}

// RecordCompression 记录一次压缩结果
func (c *Collector) RecordCompression(droppedChunks int) {
	if c == nil {
		return
	}
	c.compressionDroppedChunks.Observe(float64(droppedChunks))
}

// RecordCompressionOverflow 记录一次压缩溢出
func (c *Collector) RecordCompressionOverflow() {
	if c == nil {
		return
	}
	c.compressionOverflows.Inc()
}

// RecordBatchSummaryFailure 记录一次批摘要失败
func (c *Collector) RecordBatchSummaryFailure() {
	if c == nil {
		return
	}
	c.batchSummaryFailures.Inc()
}
