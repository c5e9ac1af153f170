package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/docrag/config"
	"github.com/BaSui01/docrag/internal/metrics"
	"github.com/BaSui01/docrag/types"
)

// ====== LLM 重排序器 ======

// Reranker LLM 批量相关性重排序。
// 一次补全调用返回与候选顺序对齐的 JSON 分数数组；调用失败或
// 数组不合法时回退到候选的检索得分排序，绝不丢弃全部候选。
type Reranker struct {
	client  *ProviderClient
	cfg     config.RerankConfig
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewReranker 创建重排序器
func NewReranker(client *ProviderClient, cfg config.RerankConfig, collector *metrics.Collector, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{
		client:  client,
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "reranker")),
	}
}

// Rerank 重排序候选集并截取 top_k。永不失败：所有错误路径都回退
// 到检索得分排序。返回结果数 ≤ top_k。
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []types.Candidate) []types.RerankedResult {
	if len(candidates) == 0 {
		return []types.RerankedResult{}
	}

	// 先按检索得分截到送排上限
	sortCandidates(candidates)
	if len(candidates) > r.cfg.MaxCandidates {
		candidates = candidates[:r.cfg.MaxCandidates]
	}

	scores, err := r.scoreWithLLM(ctx, query, candidates)
	if err != nil {
		r.logger.Warn("rerank call failed, falling back to retrieval ordering",
			zap.Int("candidates", len(candidates)),
			zap.Error(err))
		r.metrics.RecordRerankFallback()
		return r.fallbackOrdering(candidates)
	}

	results := make([]types.RerankedResult, 0, len(candidates))
	for i, cand := range candidates {
		results = append(results, types.RerankedResult{
			Candidate:   cand,
			RerankScore: clampScore(scores[i]),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].RerankScore > results[j].RerankScore
	})

	if len(results) > r.cfg.TopK {
		results = results[:r.cfg.TopK]
	}
	return results
}

// scoreWithLLM 一次调用给全部候选打分
func (r *Reranker) scoreWithLLM(ctx context.Context, query string, candidates []types.Candidate) ([]float64, error) {
	prompt := buildRerankPrompt(query, candidates)

	response, err := r.client.Complete(ctx, prompt, CompleteOptions{
		MaxTokens:   200,
		Temperature: 0.0,
	})
	if err != nil {
		return nil, types.NewError(types.ErrRerank, "rerank scoring call failed").WithCause(err)
	}

	scores, err := parseRerankScores(response)
	if err != nil {
		return nil, types.NewError(types.ErrRerank, "rerank response unparsable").WithCause(err)
	}
	if len(scores) != len(candidates) {
		return nil, types.NewError(types.ErrRerank,
			fmt.Sprintf("rerank returned %d scores for %d candidates", len(scores), len(candidates)))
	}
	return scores, nil
}

// fallbackOrdering 回退路径：保持检索得分排序，分数沿用原得分
func (r *Reranker) fallbackOrdering(candidates []types.Candidate) []types.RerankedResult {
	results := make([]types.RerankedResult, 0, len(candidates))
	for _, cand := range candidates {
		results = append(results, types.RerankedResult{
			Candidate:   cand,
			RerankScore: clampScore(cand.Score()),
		})
	}
	if len(results) > r.cfg.TopK {
		results = results[:r.cfg.TopK]
	}
	return results
}

// buildRerankPrompt 构建批量打分提示词，分块内容截断以控制 token
func buildRerankPrompt(query string, candidates []types.Candidate) string {
	var sb strings.Builder

	sb.WriteString("Rate how relevant each passage is to the query, from 0.0 (irrelevant) to 1.0 (directly answers it).\n")
	sb.WriteString(fmt.Sprintf("Return ONLY a JSON array of %d numbers, one per passage, in order.\n\n", len(candidates)))
	sb.WriteString("Query: " + query + "\n\n")

	for i, cand := range candidates {
		sb.WriteString(fmt.Sprintf("Passage %d:\n%s\n\n", i+1, truncateText(cand.Content, 500)))
	}

	sb.WriteString("JSON array:")
	return sb.String()
}

// parseRerankScores 提取 JSON 数组并解析为分数
func parseRerankScores(response string) ([]float64, error) {
	arrStart := strings.Index(response, "[")
	arrEnd := strings.LastIndex(response, "]")
	if arrStart == -1 || arrEnd <= arrStart {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var scores []float64
	if err := json.Unmarshal([]byte(response[arrStart:arrEnd+1]), &scores); err != nil {
		return nil, fmt.Errorf("unmarshal scores: %w", err)
	}
	return scores, nil
}

// clampScore 把分数钳到 [0,1]
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// truncateText 按字符截断文本，保持 UTF-8 合法
func truncateText(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "..."
}
