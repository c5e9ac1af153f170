package rag

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/docrag/config"
	"github.com/BaSui01/docrag/internal/metrics"
	"github.com/BaSui01/docrag/types"
)

// ====== 检索执行器 ======

// Searcher 执行向量、混合及各组合检索策略。
// 策略集合是封闭的：分发表见 strategyHandlers，新增策略需要同时注册处理函数。
type Searcher struct {
	store       ChunkStore
	client      *ProviderClient
	transformer *QueryTransformer
	cfg         config.RetrievalConfig
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// NewSearcher 创建检索执行器
func NewSearcher(store ChunkStore, client *ProviderClient, cfg config.RetrievalConfig, collector *metrics.Collector, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	// 存储调用与模型调用使用同一个单次超时
	if client != nil {
		store = newTimeoutStore(store, client.timeout)
	}
	return &Searcher{
		store:       store,
		client:      client,
		transformer: NewQueryTransformer(client, logger),
		cfg:         cfg,
		metrics:     collector,
		logger:      logger.With(zap.String("component", "searcher")),
	}
}

// SearchResult 一次检索策略执行的结果
type SearchResult struct {
	Candidates      []types.Candidate `json:"candidates"`
	SubQueries      []string          `json:"sub_queries,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	AgentIterations int               `json:"agent_iterations,omitempty"`
}

// strategyHandler 单个检索策略的处理函数
type strategyHandler func(s *Searcher, ctx context.Context, query string, filter SearchFilter) (*SearchResult, error)

// strategyHandlers 策略分发表
var strategyHandlers = map[SearchStrategy]strategyHandler{
	StrategyVector:       (*Searcher).vectorStrategy,
	StrategyHybrid:       (*Searcher).hybridStrategy,
	StrategyHyDE:         (*Searcher).hydeStrategy,
	StrategyStepBack:     (*Searcher).stepBackStrategy,
	StrategyMultiQuery:   (*Searcher).multiQueryStrategy,
	StrategyHyDEStepBack: (*Searcher).hydeStepBackStrategy,
	StrategyAgentic:      (*Searcher).agenticStrategy,
}

// Run 按策略执行检索。策略级失败返回空候选集和警告，不中断管线。
func (s *Searcher) Run(ctx context.Context, strategy SearchStrategy, query string, filter SearchFilter) *SearchResult {
	handler, ok := strategyHandlers[strategy]
	if !ok {
		s.logger.Warn("unknown search strategy, falling back to hybrid",
			zap.String("strategy", string(strategy)))
		handler = (*Searcher).hybridStrategy
	}

	result, err := handler(s, ctx, query, filter)
	if err != nil {
		s.logger.Warn("search strategy failed",
			zap.String("strategy", string(strategy)),
			zap.String("query", query),
			zap.Error(err))
		s.metrics.RecordStrategyFailure(string(strategy))
		return &SearchResult{
			Candidates: []types.Candidate{},
			Warnings:   []string{fmt.Sprintf("strategy %s failed: %v", strategy, err)},
		}
	}

	s.metrics.RecordStrategy(string(strategy), len(result.Candidates))
	return result
}

// ====== 基础策略 ======

// vectorStrategy 纯向量检索
func (s *Searcher) vectorStrategy(ctx context.Context, query string, filter SearchFilter) (*SearchResult, error) {
	embedding, err := s.client.Embed(ctx, query)
	if err != nil {
		return nil, types.NewError(types.ErrRetrievalStrategy, "embed query").
			WithStrategy(string(StrategyVector)).WithCause(err)
	}

	candidates, err := s.vectorSearch(ctx, embedding, query, filter)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Candidates: candidates}, nil
}

// hybridStrategy 混合检索
func (s *Searcher) hybridStrategy(ctx context.Context, query string, filter SearchFilter) (*SearchResult, error) {
	candidates, err := s.HybridSearch(ctx, query, filter)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Candidates: candidates}, nil
}

// vectorSearch 用给定向量检索并转为候选，带上来源查询标注
func (s *Searcher) vectorSearch(ctx context.Context, embedding []float64, sourceQuery string, filter SearchFilter) ([]types.Candidate, error) {
	hits, err := s.store.VectorSearch(ctx, embedding, filter, s.cfg.SimilarityThreshold, s.cfg.TopN)
	if err != nil {
		return nil, types.NewError(types.ErrRetrievalStrategy, "vector search").
			WithStrategy(string(StrategyVector)).WithCause(err)
	}

	candidates := make([]types.Candidate, 0, len(hits))
	for _, hit := range hits {
		candidates = append(candidates, types.Candidate{
			ChunkID:         hit.ChunkID,
			DocumentID:      hit.Chunk.DocumentID,
			ChunkIndex:      hit.Chunk.Index,
			Content:         hit.Chunk.Content,
			ChapterLabel:    hit.Chunk.ChapterLabel,
			Similarity:      hit.Similarity,
			MatchingQueries: []string{sourceQuery},
		})
	}
	return candidates, nil
}

// HybridSearch 混合检索：combined = vector_weight × similarity + keyword_weight × keyword_score。
// 得分相同时相似度高者优先。只有关键词命中的分块单独补齐内容。
func (s *Searcher) HybridSearch(ctx context.Context, query string, filter SearchFilter) ([]types.Candidate, error) {
	embedding, err := s.client.Embed(ctx, query)
	if err != nil {
		return nil, types.NewError(types.ErrRetrievalStrategy, "embed query").
			WithStrategy(string(StrategyHybrid)).WithCause(err)
	}

	vectorHits, err := s.store.VectorSearch(ctx, embedding, filter, s.cfg.SimilarityThreshold, s.cfg.TopN)
	if err != nil {
		return nil, types.NewError(types.ErrRetrievalStrategy, "vector search").
			WithStrategy(string(StrategyHybrid)).WithCause(err)
	}

	keywordHits, err := s.store.KeywordSearch(ctx, query, filter, s.cfg.TopN)
	if err != nil {
		// 关键词检索失败时降级为纯向量结果
		s.logger.Warn("keyword search failed, degrading to vector-only",
			zap.String("query", query), zap.Error(err))
		keywordHits = nil
	}

	keywordScores := make(map[string]float64, len(keywordHits))
	for _, hit := range keywordHits {
		keywordScores[hit.ChunkID] = hit.Score
	}

	byID := make(map[string]*types.Candidate, len(vectorHits))
	order := make([]string, 0, len(vectorHits))
	for _, hit := range vectorHits {
		cand := types.Candidate{
			ChunkID:         hit.ChunkID,
			DocumentID:      hit.Chunk.DocumentID,
			ChunkIndex:      hit.Chunk.Index,
			Content:         hit.Chunk.Content,
			ChapterLabel:    hit.Chunk.ChapterLabel,
			Similarity:      hit.Similarity,
			KeywordScore:    keywordScores[hit.ChunkID],
			MatchingQueries: []string{query},
		}
		byID[hit.ChunkID] = &cand
		order = append(order, hit.ChunkID)
	}

	// 只有关键词命中的分块：批量补齐内容
	missingIDs := make([]string, 0)
	for _, hit := range keywordHits {
		if _, ok := byID[hit.ChunkID]; !ok {
			missingIDs = append(missingIDs, hit.ChunkID)
		}
	}
	if len(missingIDs) > 0 {
		chunks, err := s.store.GetChunksByID(ctx, missingIDs)
		if err != nil {
			s.logger.Warn("resolving keyword-only chunks failed", zap.Error(err))
		} else {
			for _, chunk := range chunks {
				id := ChunkID(chunk.DocumentID, chunk.Index)
				cand := types.Candidate{
					ChunkID:         id,
					DocumentID:      chunk.DocumentID,
					ChunkIndex:      chunk.Index,
					Content:         chunk.Content,
					ChapterLabel:    chunk.ChapterLabel,
					KeywordScore:    keywordScores[id],
					MatchingQueries: []string{query},
				}
				byID[id] = &cand
				order = append(order, id)
			}
		}
	}

	candidates := make([]types.Candidate, 0, len(order))
	for _, id := range order {
		cand := byID[id]
		cand.CombinedScore = s.cfg.VectorWeight*cand.Similarity + s.cfg.KeywordWeight*cand.KeywordScore
		candidates = append(candidates, *cand)
	}

	sortCandidates(candidates)

	if len(candidates) > s.cfg.TopN {
		candidates = candidates[:s.cfg.TopN]
	}
	return candidates, nil
}

// ====== 组合策略 ======

// hydeStrategy HyDE 检索：用假设回答的向量代替查询向量
func (s *Searcher) hydeStrategy(ctx context.Context, query string, filter SearchFilter) (*SearchResult, error) {
	hypothetical, err := s.transformer.GenerateHypothetical(ctx, query)
	if err != nil {
		return nil, types.NewError(types.ErrRetrievalStrategy, "hypothetical generation").
			WithStrategy(string(StrategyHyDE)).WithCause(err)
	}

	embedding, err := s.client.Embed(ctx, hypothetical)
	if err != nil {
		return nil, types.NewError(types.ErrRetrievalStrategy, "embed hypothetical").
			WithStrategy(string(StrategyHyDE)).WithCause(err)
	}

	candidates, err := s.vectorSearch(ctx, embedding, query, filter)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		Candidates: candidates,
		SubQueries: []string{hypothetical},
	}, nil
}

// stepBackStrategy Step-Back 检索：原查询 + 泛化查询并发混合检索后合并
func (s *Searcher) stepBackStrategy(ctx context.Context, query string, filter SearchFilter) (*SearchResult, error) {
	queries := []string{query}
	warnings := []string{}

	stepBack, err := s.transformer.GenerateStepBack(ctx, query)
	if err != nil {
		// 泛化失败时只用原查询，降级而不中断
		s.logger.Warn("step-back generation failed, searching original query only", zap.Error(err))
		warnings = append(warnings, fmt.Sprintf("step-back generation failed: %v", err))
	} else if stepBack != query {
		queries = append(queries, stepBack)
	}

	candidates, subWarnings := s.searchAll(ctx, queries, filter)
	return &SearchResult{
		Candidates: candidates,
		SubQueries: queries[1:],
		Warnings:   append(warnings, subWarnings...),
	}, nil
}

// multiQueryStrategy Multi-Query 检索：原查询 + N 个改写并发检索后合并。
// 覆盖面优先，是宽泛查询的默认策略。
func (s *Searcher) multiQueryStrategy(ctx context.Context, query string, filter SearchFilter) (*SearchResult, error) {
	queries := []string{query}
	warnings := []string{}

	generated, err := s.transformer.GenerateMultiQueries(ctx, query, s.cfg.MultiQueryCount)
	if err != nil {
		s.logger.Warn("multi-query generation failed, searching original query only", zap.Error(err))
		warnings = append(warnings, fmt.Sprintf("multi-query generation failed: %v", err))
	} else {
		for _, q := range generated {
			if q != query {
				queries = append(queries, q)
			}
		}
	}

	candidates, subWarnings := s.searchAll(ctx, queries, filter)
	return &SearchResult{
		Candidates: candidates,
		SubQueries: queries[1:],
		Warnings:   append(warnings, subWarnings...),
	}, nil
}

// hydeStepBackStrategy HyDE + Step-Back 组合：两种策略都执行后合并。
// 用于带精确出处要求的查询。
func (s *Searcher) hydeStepBackStrategy(ctx context.Context, query string, filter SearchFilter) (*SearchResult, error) {
	hydeResult, hydeErr := s.hydeStrategy(ctx, query, filter)
	stepBackResult, stepBackErr := s.stepBackStrategy(ctx, query, filter)

	// 两路都失败才算策略失败；单路失败降级为另一路的结果
	if hydeErr != nil && stepBackErr != nil {
		return nil, types.NewError(types.ErrRetrievalStrategy, "both hyde and step-back failed").
			WithStrategy(string(StrategyHyDEStepBack)).WithCause(hydeErr)
	}

	result := &SearchResult{Candidates: []types.Candidate{}}
	if hydeErr != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("hyde failed: %v", hydeErr))
	} else {
		result.Candidates = mergeCandidates(result.Candidates, hydeResult.Candidates)
		result.SubQueries = append(result.SubQueries, hydeResult.SubQueries...)
		result.Warnings = append(result.Warnings, hydeResult.Warnings...)
	}
	if stepBackErr != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("step-back failed: %v", stepBackErr))
	} else {
		result.Candidates = mergeCandidates(result.Candidates, stepBackResult.Candidates)
		result.SubQueries = append(result.SubQueries, stepBackResult.SubQueries...)
		result.Warnings = append(result.Warnings, stepBackResult.Warnings...)
	}

	sortCandidates(result.Candidates)
	return result, nil
}

// agenticStrategy Agentic 迭代检索，见 agentic.go
func (s *Searcher) agenticStrategy(ctx context.Context, query string, filter SearchFilter) (*SearchResult, error) {
	return s.AgenticSearch(ctx, query, filter)
}

// ====== 并发子查询与合并 ======

// searchAll 对每个子查询并发执行混合检索，合并去重。
// 单个子查询失败只记警告：部分失败意味着结果变少，而不是整体失败。
func (s *Searcher) searchAll(ctx context.Context, queries []string, filter SearchFilter) ([]types.Candidate, []string) {
	type subResult struct {
		candidates []types.Candidate
		err        error
	}

	results := make([]subResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)

	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			candidates, err := s.HybridSearch(gctx, q, filter)
			results[i] = subResult{candidates: candidates, err: err}
			return nil
		})
	}
	_ = g.Wait()

	merged := make([]types.Candidate, 0)
	warnings := make([]string, 0)
	for i, r := range results {
		if r.err != nil {
			warnings = append(warnings, fmt.Sprintf("sub-query %q failed: %v", queries[i], r.err))
			continue
		}
		merged = mergeCandidates(merged, r.candidates)
	}

	sortCandidates(merged)
	return merged, warnings
}

// mergeCandidates 按 chunk_id 去重合并，取各得分的最大值并合并来源查询
func mergeCandidates(base, extra []types.Candidate) []types.Candidate {
	index := make(map[string]int, len(base))
	for i, cand := range base {
		index[cand.ChunkID] = i
	}

	for _, cand := range extra {
		i, ok := index[cand.ChunkID]
		if !ok {
			index[cand.ChunkID] = len(base)
			base = append(base, cand)
			continue
		}

		existing := &base[i]
		if cand.Similarity > existing.Similarity {
			existing.Similarity = cand.Similarity
		}
		if cand.KeywordScore > existing.KeywordScore {
			existing.KeywordScore = cand.KeywordScore
		}
		if cand.CombinedScore > existing.CombinedScore {
			existing.CombinedScore = cand.CombinedScore
		}
		existing.MatchingQueries = unionQueries(existing.MatchingQueries, cand.MatchingQueries)
	}
	return base
}

// unionQueries 合并来源查询列表，保持出现顺序
func unionQueries(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, q := range a {
		seen[q] = true
	}
	for _, q := range b {
		if !seen[q] {
			seen[q] = true
			a = append(a, q)
		}
	}
	return a
}

// sortCandidates 按最优得分降序，得分相同时相似度高者优先
func sortCandidates(candidates []types.Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		si, sj := candidates[i].Score(), candidates[j].Score()
		if si != sj {
			return si > sj
		}
		return candidates[i].Similarity > candidates[j].Similarity
	})
}
