package rag

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/docrag/config"
	"github.com/BaSui01/docrag/internal/metrics"
	"github.com/BaSui01/docrag/types"
)

// CompleteOptions controls a single completion call.
type CompleteOptions struct {
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// CompletionProvider runs short completions for classification, query
// generation, agent decisions, reranking and summarization.
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error)
}

// EmbeddingProvider turns text into an embedding vector.
type EmbeddingProvider interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
}

// SearchFilter restricts chunk store lookups to one user/document.
type SearchFilter struct {
	UserID     string `json:"user_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// VectorHit is one vector similarity search result.
type VectorHit struct {
	Chunk      types.Chunk `json:"chunk"`
	ChunkID    string      `json:"chunk_id"`
	Similarity float64     `json:"similarity"`
}

// KeywordHit is one keyword search result. The store returns only the
// chunk ID and score; content is fetched separately when needed.
type KeywordHit struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// ChunkStore is the externally-owned document chunk storage. All methods
// are read-only; this subsystem never writes to the store.
type ChunkStore interface {
	// VectorSearch returns chunks whose embedding similarity to the given
	// vector is at or above threshold, ordered descending, at most limit.
	VectorSearch(ctx context.Context, embedding []float64, filter SearchFilter, threshold float64, limit int) ([]VectorHit, error)

	// KeywordSearch returns chunk IDs matching the query text with a
	// normalized score in [0,1], ordered descending, at most limit.
	KeywordSearch(ctx context.Context, query string, filter SearchFilter, limit int) ([]KeywordHit, error)

	// GetDocumentStructure returns chapter boundaries and size totals.
	GetDocumentStructure(ctx context.Context, documentID string) (*types.DocumentStructure, error)

	// GetChunkRange returns chunks with index in [start, end], ordered
	// by chunk index.
	GetChunkRange(ctx context.Context, documentID string, start, end int) ([]types.Chunk, error)

	// GetChunksByID resolves chunk IDs to full chunks. Unknown IDs are
	// silently skipped.
	GetChunksByID(ctx context.Context, ids []string) ([]types.Chunk, error)
}

// ====== 外部调用封装 ======

// ProviderClient wraps the completion and embedding providers with a
// per-call timeout, a completion rate limiter and call metrics. Single-shot
// calls retry once on upstream timeout; bounded loops call Complete
// directly and let their iteration budget absorb the failure.
type ProviderClient struct {
	completions CompletionProvider
	embeddings  EmbeddingProvider
	limiter     *rate.Limiter
	timeout     time.Duration
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// NewProviderClient creates a provider client from configuration.
func NewProviderClient(completions CompletionProvider, embeddings EmbeddingProvider, cfg config.ProviderConfig, collector *metrics.Collector, logger *zap.Logger) *ProviderClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.CompletionRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.CompletionRPS), cfg.CompletionBurst)
	}

	return &ProviderClient{
		completions: completions,
		embeddings:  embeddings,
		limiter:     limiter,
		timeout:     cfg.CallTimeout,
		metrics:     collector,
		logger:      logger.With(zap.String("component", "provider_client")),
	}
}

// Complete runs one completion call with timeout and rate limiting.
// No retry: callers in bounded loops absorb failures themselves.
func (c *ProviderClient) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", types.NewError(types.ErrUpstreamTimeout, "rate limiter wait aborted").WithCause(err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	text, err := c.completions.Complete(callCtx, prompt, opts)
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.RecordLLMCall("completion", "error", elapsed)
		if errors.Is(err, context.DeadlineExceeded) {
			return "", types.NewError(types.ErrUpstreamTimeout, "completion call timed out").
				WithCause(err).WithRetryable(true)
		}
		return "", err
	}

	c.metrics.RecordLLMCall("completion", "ok", elapsed)
	return text, nil
}

// CompleteWithRetry runs a single-shot completion, retrying once when the
// first attempt times out.
func (c *ProviderClient) CompleteWithRetry(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	text, err := c.Complete(ctx, prompt, opts)
	if err == nil || !types.IsRetryable(err) {
		return text, err
	}

	c.logger.Warn("completion timed out, retrying once", zap.Error(err))
	return c.Complete(ctx, prompt, opts)
}

// Embed embeds one text, retrying once on upstream timeout.
func (c *ProviderClient) Embed(ctx context.Context, text string) ([]float64, error) {
	vec, err := c.embedOnce(ctx, text)
	if err == nil || !types.IsRetryable(err) {
		return vec, err
	}

	c.logger.Warn("embedding call timed out, retrying once", zap.Error(err))
	return c.embedOnce(ctx, text)
}

func (c *ProviderClient) embedOnce(ctx context.Context, text string) ([]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	vec, err := c.embeddings.EmbedQuery(callCtx, text)
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.RecordLLMCall("embedding", "error", elapsed)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrUpstreamTimeout, "embedding call timed out").
				WithCause(err).WithRetryable(true)
		}
		return nil, err
	}

	c.metrics.RecordLLMCall("embedding", "ok", elapsed)
	return vec, nil
}

// ====== 分块存储调用封装 ======

// timeoutStore 给每次分块存储调用加上单次超时。存储挂起时调用方在
// 超时点拿到 UPSTREAM_TIMEOUT 错误并按策略级失败降级，而不是无限阻塞。
type timeoutStore struct {
	inner   ChunkStore
	timeout time.Duration
}

// newTimeoutStore 包装存储。已包装过或超时未配置时原样返回。
func newTimeoutStore(store ChunkStore, timeout time.Duration) ChunkStore {
	if store == nil || timeout <= 0 {
		return store
	}
	if wrapped, ok := store.(*timeoutStore); ok {
		store = wrapped.inner
	}
	return &timeoutStore{inner: store, timeout: timeout}
}

// callStore 在独立 goroutine 中执行存储调用并等待结果或超时。
// 存储实现不配合取消时调用方也能按时返回。
func callStore[T any](ctx context.Context, timeout time.Duration, what string, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(callCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-callCtx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			// 上游取消原样上抛，不包装为超时
			return zero, err
		}
		return zero, types.NewError(types.ErrUpstreamTimeout, what+" timed out").
			WithCause(callCtx.Err())
	case result := <-done:
		if result.err != nil && errors.Is(result.err, context.DeadlineExceeded) {
			var zero T
			return zero, types.NewError(types.ErrUpstreamTimeout, what+" timed out").
				WithCause(result.err)
		}
		return result.value, result.err
	}
}

func (t *timeoutStore) VectorSearch(ctx context.Context, embedding []float64, filter SearchFilter, threshold float64, limit int) ([]VectorHit, error) {
	return callStore(ctx, t.timeout, "vector search", func(callCtx context.Context) ([]VectorHit, error) {
		return t.inner.VectorSearch(callCtx, embedding, filter, threshold, limit)
	})
}

func (t *timeoutStore) KeywordSearch(ctx context.Context, query string, filter SearchFilter, limit int) ([]KeywordHit, error) {
	return callStore(ctx, t.timeout, "keyword search", func(callCtx context.Context) ([]KeywordHit, error) {
		return t.inner.KeywordSearch(callCtx, query, filter, limit)
	})
}

func (t *timeoutStore) GetDocumentStructure(ctx context.Context, documentID string) (*types.DocumentStructure, error) {
	return callStore(ctx, t.timeout, "document structure lookup", func(callCtx context.Context) (*types.DocumentStructure, error) {
		return t.inner.GetDocumentStructure(callCtx, documentID)
	})
}

func (t *timeoutStore) GetChunkRange(ctx context.Context, documentID string, start, end int) ([]types.Chunk, error) {
	return callStore(ctx, t.timeout, "chunk range load", func(callCtx context.Context) ([]types.Chunk, error) {
		return t.inner.GetChunkRange(callCtx, documentID, start, end)
	})
}

func (t *timeoutStore) GetChunksByID(ctx context.Context, ids []string) ([]types.Chunk, error) {
	return callStore(ctx, t.timeout, "chunk lookup", func(callCtx context.Context) ([]types.Chunk, error) {
		return t.inner.GetChunksByID(callCtx, ids)
	})
}
