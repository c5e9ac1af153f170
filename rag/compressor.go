package rag

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/docrag/config"
	"github.com/BaSui01/docrag/internal/metrics"
	"github.com/BaSui01/docrag/tokenizer"
	"github.com/BaSui01/docrag/types"
)

// ====== 自适应压缩器 ======

// Compressor 按模型窗口预算压缩上下文。
// 有效预算 effective_limit = 窗口 × window_share − safety_buffer。
// 超预算时按重排得分从低到高丢弃整块并重新编号引用，
// 绝不截断块内文本；只剩一块仍超限时报 CONTEXT_OVERFLOW。
type Compressor struct {
	cfg     config.CompressionConfig
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewCompressor 创建压缩器
func NewCompressor(cfg config.CompressionConfig, collector *metrics.Collector, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "compressor")),
	}
}

// CompressedContext 压缩结果
type CompressedContext struct {
	Text          string           `json:"text"`
	Citations     []types.Citation `json:"citations"`
	DroppedChunks int              `json:"dropped_chunks"`
	Tokens        int              `json:"tokens"`
}

// EffectiveLimit 返回模型的有效 token 预算。
// 未知模型是配置错误，直接失败而不是静默用默认窗口。
func (c *Compressor) EffectiveLimit(model string) (int, error) {
	window, ok := c.cfg.ModelWindows[model]
	if !ok {
		return 0, types.NewError(types.ErrModelNotFound,
			fmt.Sprintf("no context window configured for model %q", model))
	}

	limit := int(float64(window)*c.cfg.WindowShare) - c.cfg.SafetyBuffer
	if limit <= 0 {
		return 0, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("effective limit for model %q is non-positive", model))
	}
	return limit, nil
}

// Compress 压缩上下文到模型预算内
func (c *Compressor) Compress(built *BuiltContext, model string) (*CompressedContext, error) {
	limit, err := c.EffectiveLimit(model)
	if err != nil {
		return nil, err
	}

	counter := tokenizer.GetTokenizerOrEstimator(model)
	dropped := 0

	for {
		text, citations := built.Render()

		tokens, err := counter.CountTokens(text)
		if err != nil {
			return nil, types.NewError(types.ErrTokenizer, "token counting failed").WithCause(err)
		}

		if tokens <= limit {
			if dropped > 0 {
				c.logger.Info("context compressed",
					zap.String("model", model),
					zap.Int("dropped_chunks", dropped),
					zap.Int("tokens", tokens),
					zap.Int("limit", limit))
			}
			c.metrics.RecordCompression(dropped)
			return &CompressedContext{
				Text:          text,
				Citations:     citations,
				DroppedChunks: dropped,
				Tokens:        tokens,
			}, nil
		}

		if len(built.Blocks) <= 1 {
			// 单块加任务指令仍超限：返回类型化失败，
			// 静默截断会比失败更糟
			c.metrics.RecordCompressionOverflow()
			return nil, types.NewError(types.ErrContextOverflow,
				fmt.Sprintf("context of %d tokens exceeds limit %d with a single chunk", tokens, limit))
		}

		built.Blocks = dropLowestScored(built.Blocks)
		dropped++
	}
}

// dropLowestScored 移除重排得分最低的块，保持其余块顺序不变
func dropLowestScored(blocks []ContextBlock) []ContextBlock {
	lowest := 0
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Result.RerankScore < blocks[lowest].Result.RerankScore {
			lowest = i
		}
	}
	return append(blocks[:lowest], blocks[lowest+1:]...)
}
