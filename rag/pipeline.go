package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/docrag/config"
	"github.com/BaSui01/docrag/internal/metrics"
	"github.com/BaSui01/docrag/types"
)

// ====== 检索管线 ======

// Request 一次检索请求。请求之间不共享任何可变状态。
type Request struct {
	Query      string `json:"query"`
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id,omitempty"`
	Model      string `json:"model"`
	DeepSearch bool   `json:"deep_search,omitempty"` // 显式要求 Agentic 深度检索
	Debug      bool   `json:"debug,omitempty"`       // 返回调试轨迹
}

// Pipeline 完整检索管线：意图分析 → 策略选择 → 检索 → 重排序 →
// 上下文构建 → 自适应压缩（超长整文档走批量合成）。
type Pipeline struct {
	store       ChunkStore
	client      *ProviderClient
	analyzer    *IntentAnalyzer
	searcher    *Searcher
	reranker    *Reranker
	builder     *ContextBuilder
	compressor  *Compressor
	synthesizer *BatchSynthesizer
	cfg         *config.Config
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// NewPipeline 创建检索管线
func NewPipeline(store ChunkStore, client *ProviderClient, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	store = newTimeoutStore(store, cfg.Providers.CallTimeout)
	return &Pipeline{
		store:       store,
		client:      client,
		analyzer:    NewIntentAnalyzer(client, logger),
		searcher:    NewSearcher(store, client, cfg.Retrieval, collector, logger),
		reranker:    NewReranker(client, cfg.Rerank, collector, logger),
		builder:     NewContextBuilder(logger),
		compressor:  NewCompressor(cfg.Compression, collector, logger),
		synthesizer: NewBatchSynthesizer(client, cfg.Synthesis, collector, logger),
		cfg:         cfg,
		metrics:     collector,
		logger:      logger.With(zap.String("component", "pipeline")),
	}
}

// Retrieve 执行一次完整检索。请求级对象（意图、候选、上下文）在
// 返回后全部丢弃；管线不持有跨请求状态。
func (p *Pipeline) Retrieve(ctx context.Context, req Request) (*types.RetrievalContext, error) {
	start := time.Now()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	// 未知模型是致命配置错误，入口处即失败
	if _, err := p.compressor.EffectiveLimit(req.Model); err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	trace := &types.DebugTrace{
		RequestID:     requestID,
		OriginalQuery: req.Query,
	}
	logger := p.logger.With(zap.String("request_id", requestID))

	logger.Info("retrieval started",
		zap.String("query", req.Query),
		zap.String("document_id", req.DocumentID),
		zap.String("model", req.Model))

	structure, err := p.store.GetDocumentStructure(ctx, req.DocumentID)
	if err != nil {
		logger.Warn("document structure unavailable", zap.Error(err))
		trace.Warnings = append(trace.Warnings, fmt.Sprintf("document structure unavailable: %v", err))
	}

	intent := p.analyzer.Analyze(ctx, req.Query, structure)
	plan := SelectStrategy(intent, req.DeepSearch)
	trace.Strategies = append(trace.Strategies, string(plan.Mode))

	logger.Info("strategy selected",
		zap.String("scope", string(intent.Scope)),
		zap.String("task", string(intent.Task)),
		zap.String("mode", string(plan.Mode)),
		zap.String("search", string(plan.Search)))

	// 阶段间取消检查点
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *types.RetrievalContext
	switch plan.Mode {
	case ModeFullDocument:
		result, err = p.retrieveFullDocument(ctx, req, intent, structure, trace, logger)
	case ModeChapter:
		result, err = p.retrieveChapters(ctx, req, intent, plan.Sections, structure, trace, logger)
	default:
		result, err = p.retrieveSearch(ctx, req, intent, plan.Search, trace, logger)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordPipelineRequest(string(plan.Mode), status, time.Since(start))

	if err != nil {
		logger.Error("retrieval failed", zap.Error(err))
		return nil, err
	}

	if req.Debug {
		result.DebugTrace = trace
	}

	logger.Info("retrieval finished",
		zap.Int("citations", len(result.Citations)),
		zap.Int("text_chars", len(result.Text)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// ====== 整文档模式 ======

func (p *Pipeline) retrieveFullDocument(ctx context.Context, req Request, intent types.Intent, structure *types.DocumentStructure, trace *types.DebugTrace, logger *zap.Logger) (*types.RetrievalContext, error) {
	if structure == nil {
		return nil, types.NewError(types.ErrRetrievalStrategy,
			"full-document mode requires document structure").WithStrategy(string(ModeFullDocument))
	}

	chunks, err := p.store.GetChunkRange(ctx, req.DocumentID, 0, structure.TotalChunks-1)
	if err != nil {
		return nil, types.NewError(types.ErrRetrievalStrategy, "load full document").
			WithStrategy(string(ModeFullDocument)).WithCause(err)
	}

	instruction := InstructionFor(intent.Task)

	// 超长文档走批量合成而不是整文加载
	if structure.TotalChars > p.cfg.Synthesis.OversizeCharLimit {
		logger.Info("document oversized, switching to batch synthesis",
			zap.Int("total_chars", structure.TotalChars),
			zap.Int("limit", p.cfg.Synthesis.OversizeCharLimit))
		trace.Strategies = append(trace.Strategies, "batch_synthesis")

		synthesis, err := p.synthesizer.Synthesize(ctx, req.Query, chunks)
		if err != nil {
			return nil, err
		}
		trace.BatchCount = synthesis.BatchCount
		trace.Warnings = append(trace.Warnings, synthesis.Warnings...)

		return &types.RetrievalContext{
			Text:      instruction + "\n\n" + synthesis.Summary,
			Citations: []types.Citation{},
		}, nil
	}

	built := p.builder.Build(resultsFromChunks(chunks), instruction)
	return p.compress(built, req.Model, trace)
}

// ====== 章节模式 ======

func (p *Pipeline) retrieveChapters(ctx context.Context, req Request, intent types.Intent, sections []string, structure *types.DocumentStructure, trace *types.DebugTrace, logger *zap.Logger) (*types.RetrievalContext, error) {
	if structure == nil {
		return nil, types.NewError(types.ErrRetrievalStrategy,
			"chapter mode requires document structure").WithStrategy(string(ModeChapter))
	}

	// 按用户引用顺序加载各章节并拼接
	chunks := make([]types.Chunk, 0)
	for _, section := range sections {
		chapter, ok := findChapter(structure, section)
		if !ok {
			logger.Warn("referenced section not found", zap.String("section", section))
			trace.Warnings = append(trace.Warnings, fmt.Sprintf("section %q not found", section))
			continue
		}

		chapterChunks, err := p.store.GetChunkRange(ctx, req.DocumentID, chapter.StartChunkIndex, chapter.EndChunkIndex)
		if err != nil {
			logger.Warn("chapter load failed",
				zap.String("section", section), zap.Error(err))
			trace.Warnings = append(trace.Warnings, fmt.Sprintf("chapter %q load failed: %v", section, err))
			continue
		}
		chunks = append(chunks, chapterChunks...)
	}

	if len(chunks) == 0 {
		return nil, types.NewError(types.ErrRetrievalStrategy,
			fmt.Sprintf("none of the referenced sections %v could be loaded", sections)).
			WithStrategy(string(ModeChapter))
	}

	built := p.builder.Build(resultsFromChunks(chunks), InstructionFor(intent.Task))
	return p.compress(built, req.Model, trace)
}

// findChapter 按章节标识定位章节。先做标签全等匹配，再把标识
// 当作章节号与标签中的数字比对。范围重叠时取第一个命中的章节。
func findChapter(structure *types.DocumentStructure, section string) (types.ChapterInfo, bool) {
	normalized := strings.ToLower(strings.TrimSpace(section))

	for _, chapter := range structure.Chapters {
		if strings.ToLower(strings.TrimSpace(chapter.Label)) == normalized {
			return chapter, true
		}
	}

	for _, chapter := range structure.Chapters {
		for _, num := range chapterNumberPattern.FindAllString(chapter.Label, -1) {
			if num == normalized {
				return chapter, true
			}
		}
	}
	return types.ChapterInfo{}, false
}

var chapterNumberPattern = regexp.MustCompile(`\d+`)

// ====== 检索模式 ======

func (p *Pipeline) retrieveSearch(ctx context.Context, req Request, intent types.Intent, strategy SearchStrategy, trace *types.DebugTrace, logger *zap.Logger) (*types.RetrievalContext, error) {
	trace.Strategies = append(trace.Strategies, string(strategy))

	query := intent.SearchQuery
	if query == "" {
		query = req.Query
	}
	filter := SearchFilter{UserID: req.UserID, DocumentID: req.DocumentID}

	searchResult := p.searcher.Run(ctx, strategy, query, filter)
	trace.SubQueries = append(trace.SubQueries, searchResult.SubQueries...)
	trace.Warnings = append(trace.Warnings, searchResult.Warnings...)
	trace.AgentIterations = searchResult.AgentIterations
	trace.CandidatesBeforeRerank = len(searchResult.Candidates)

	// 检索与重排序之间的取消检查点
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reranked := p.reranker.Rerank(ctx, query, searchResult.Candidates)
	trace.CandidatesAfterRerank = len(reranked)

	built := p.builder.Build(reranked, InstructionFor(intent.Task))
	return p.compress(built, req.Model, trace)
}

// ====== 公共收尾 ======

func (p *Pipeline) compress(built *BuiltContext, model string, trace *types.DebugTrace) (*types.RetrievalContext, error) {
	compressed, err := p.compressor.Compress(built, model)
	if err != nil {
		return nil, err
	}
	trace.DroppedChunks = compressed.DroppedChunks

	return &types.RetrievalContext{
		Text:      compressed.Text,
		Citations: compressed.Citations,
	}, nil
}

// resultsFromChunks 把确定性加载的分块包装为下游统一的结果形态。
// 得分按位置递减：压缩需要丢块时从文档尾部开始丢。
func resultsFromChunks(chunks []types.Chunk) []types.RerankedResult {
	results := make([]types.RerankedResult, 0, len(chunks))
	total := len(chunks)
	for i, chunk := range chunks {
		results = append(results, types.RerankedResult{
			Candidate: types.Candidate{
				ChunkID:      ChunkID(chunk.DocumentID, chunk.Index),
				DocumentID:   chunk.DocumentID,
				ChunkIndex:   chunk.Index,
				Content:      chunk.Content,
				ChapterLabel: chunk.ChapterLabel,
				Similarity:   1.0,
			},
			RerankScore: 1.0 - float64(i)/float64(total+1),
		})
	}
	return results
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return types.NewError(types.ErrInvalidConfig, "query must not be empty")
	}
	if req.DocumentID == "" {
		return types.NewError(types.ErrInvalidConfig, "document_id must not be empty")
	}
	if req.Model == "" {
		return types.NewError(types.ErrInvalidConfig, "model must not be empty")
	}
	return nil
}
