package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/docrag/config"
	"github.com/BaSui01/docrag/internal/metrics"
	"github.com/BaSui01/docrag/types"
)

// ====== 批量摘要合成器 ======

// BatchSynthesizer 超长文档的 map-reduce 摘要：文档切成连续批次，
// 逐批摘要，最后一次合成调用把全部批摘要合并为答案基础。
type BatchSynthesizer struct {
	client  *ProviderClient
	cfg     config.SynthesisConfig
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewBatchSynthesizer 创建批量合成器
func NewBatchSynthesizer(client *ProviderClient, cfg config.SynthesisConfig, collector *metrics.Collector, logger *zap.Logger) *BatchSynthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchSynthesizer{
		client:  client,
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "batch_synthesizer")),
	}
}

// Batch 一个连续的文档批次。StartChar/EndChar 是在拼接全文上的
// 半开区间 [StartChar, EndChar)，全部批次恰好划分整个文档。
type Batch struct {
	Index     int           `json:"index"`
	StartChar int           `json:"start_char"`
	EndChar   int           `json:"end_char"`
	Chunks    []types.Chunk `json:"chunks"`
}

// SynthesisResult 批量合成结果
type SynthesisResult struct {
	Summary       string   `json:"summary"`
	BatchCount    int      `json:"batch_count"`
	FailedBatches int      `json:"failed_batches"`
	Warnings      []string `json:"warnings,omitempty"`
}

// PartitionBatches 把有序分块切成连续批次。
// 批次在分块边界上对齐，目标大小 batchChars；字符范围无缝隙、
// 无重叠地覆盖整个文档。单个超大分块独占一个批次。
func PartitionBatches(chunks []types.Chunk, batchChars int) []Batch {
	if len(chunks) == 0 {
		return []Batch{}
	}

	batches := make([]Batch, 0, 1)
	current := Batch{Index: 0, StartChar: 0}
	offset := 0

	for _, chunk := range chunks {
		size := len(chunk.Content)
		if len(current.Chunks) > 0 && offset+size-current.StartChar > batchChars {
			current.EndChar = offset
			batches = append(batches, current)
			current = Batch{Index: len(batches), StartChar: offset}
		}
		current.Chunks = append(current.Chunks, chunk)
		offset += size
	}

	current.EndChar = offset
	batches = append(batches, current)
	return batches
}

// Synthesize 分批摘要并合成。批次之间是取消检查点；失败的批摘要
// 重试一次后用占位说明替代，合成继续进行而不是中断整个请求。
func (s *BatchSynthesizer) Synthesize(ctx context.Context, query string, chunks []types.Chunk) (*SynthesisResult, error) {
	batches := PartitionBatches(chunks, s.cfg.BatchChars)
	if len(batches) == 0 {
		return nil, types.NewError(types.ErrBatchSynthesisPartial, "document has no chunks to synthesize")
	}

	s.logger.Info("batch synthesis started",
		zap.Int("batches", len(batches)),
		zap.Int("chunks", len(chunks)))

	result := &SynthesisResult{BatchCount: len(batches)}
	summaries := make([]string, 0, len(batches))

	for _, batch := range batches {
		// 批次间取消检查点
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		summary, err := s.summarizeBatch(ctx, query, batch)
		if err != nil {
			s.logger.Warn("batch summary failed after retry, inserting stub",
				zap.Int("batch", batch.Index),
				zap.Error(err))
			s.metrics.RecordBatchSummaryFailure()
			result.FailedBatches++
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("batch %d [%d,%d) summary failed: %v", batch.Index, batch.StartChar, batch.EndChar, err))
			summary = fmt.Sprintf("[Часть %d документа (символы %d–%d) опущена: не удалось получить резюме.]",
				batch.Index+1, batch.StartChar, batch.EndChar)
		}
		summaries = append(summaries, summary)
	}

	if result.FailedBatches == len(batches) {
		return nil, types.NewError(types.ErrBatchSynthesisPartial, "all batch summaries failed")
	}

	combined, err := s.combineSummaries(ctx, query, summaries)
	if err != nil {
		// 合成失败时退回批摘要的拼接，保留可用信息
		s.logger.Warn("final synthesis failed, returning concatenated batch summaries", zap.Error(err))
		result.Warnings = append(result.Warnings, fmt.Sprintf("final synthesis failed: %v", err))
		combined = strings.Join(summaries, "\n\n")
	}

	result.Summary = combined
	return result, nil
}

// summarizeBatch 摘要单个批次，失败重试一次
func (s *BatchSynthesizer) summarizeBatch(ctx context.Context, query string, batch Batch) (string, error) {
	var sb strings.Builder
	for _, chunk := range batch.Chunks {
		sb.WriteString(chunk.Content)
		sb.WriteString("\n")
	}

	prompt := fmt.Sprintf(`Summarize the document fragment below, keeping everything relevant to the question. Answer in the language of the fragment.

Question: %s

Fragment:
%s

Summary:`, query, sb.String())

	opts := CompleteOptions{
		MaxTokens:   s.cfg.SummaryMaxTokens,
		Temperature: 0.3,
	}

	summary, err := s.client.Complete(ctx, prompt, opts)
	if err == nil {
		return strings.TrimSpace(summary), nil
	}

	summary, retryErr := s.client.Complete(ctx, prompt, opts)
	if retryErr != nil {
		return "", retryErr
	}
	return strings.TrimSpace(summary), nil
}

// combineSummaries 把全部批摘要合并为一份连贯的答案基础
func (s *BatchSynthesizer) combineSummaries(ctx context.Context, query string, summaries []string) (string, error) {
	var sb strings.Builder
	for i, summary := range summaries {
		sb.WriteString(fmt.Sprintf("Part %d:\n%s\n\n", i+1, summary))
	}

	prompt := fmt.Sprintf(`Below are sequential summaries of parts of one document. Combine them into one coherent overview that answers the question. Answer in the language of the summaries.

Question: %s

%s

Combined overview:`, query, sb.String())

	combined, err := s.client.CompleteWithRetry(ctx, prompt, CompleteOptions{
		MaxTokens:   s.cfg.SummaryMaxTokens * 2,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(combined), nil
}
