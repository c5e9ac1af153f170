package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.pipelineRequestsTotal)
	assert.NotNil(t, collector.pipelineRequestDuration)
	assert.NotNil(t, collector.strategyCandidates)
	assert.NotNil(t, collector.llmCallsTotal)
	assert.NotNil(t, collector.rerankFallbacks)
}

func TestNewCollector_NilLogger(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	assert.NotNil(t, collector)
	// 记录一次确认不会 panic
	collector.RecordPipelineRequest("search", "ok", 10*time.Millisecond)
}

func TestCollector_RecordPipelineRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordPipelineRequest("search", "ok", 100*time.Millisecond)

	count := testutil.CollectAndCount(collector.pipelineRequestsTotal)
	assert.Greater(t, count, 0)
}

func TestCollector_RecordStrategy(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordStrategy("hybrid", 12)
	collector.RecordStrategyFailure("hybrid")

	assert.Greater(t, testutil.CollectAndCount(collector.strategyCandidates), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.strategyFailures), 0)
}

func TestCollector_NilReceiver(t *testing.T) {
	var collector *Collector

	// nil 收集器下所有记录方法都是空操作
	collector.RecordPipelineRequest("search", "ok", time.Millisecond)
	collector.RecordStrategy("hybrid", 3)
	collector.RecordStrategyFailure("hybrid")
	collector.RecordLLMCall("completion", "ok", time.Millisecond)
	collector.RecordRerankFallback()
	collector.RecordCompression(2)
	collector.RecordCompressionOverflow()
	collector.RecordBatchSummaryFailure()
}
