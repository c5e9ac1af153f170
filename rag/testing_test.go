package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/docrag/config"
	"github.com/BaSui01/docrag/types"
)

// 模拟补全提供者：按提示词子串匹配返回预定义回复
type mockCompletionProvider struct {
	mu        sync.Mutex
	rules     []mockRule
	err       error
	errOn     map[string]int // 提示词子串 → 剩余失败次数
	callCount int
	prompts   []string
}

type mockRule struct {
	substr   string
	response string
}

func newMockCompletionProvider() *mockCompletionProvider {
	return &mockCompletionProvider{}
}

func (m *mockCompletionProvider) on(substr, response string) *mockCompletionProvider {
	m.rules = append(m.rules, mockRule{substr: substr, response: response})
	return m
}

func (m *mockCompletionProvider) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	m.prompts = append(m.prompts, prompt)

	if m.err != nil {
		return "", m.err
	}
	for substr, remaining := range m.errOn {
		if remaining > 0 && strings.Contains(prompt, substr) {
			m.errOn[substr]--
			return "", fmt.Errorf("injected failure for %q", substr)
		}
	}
	for _, rule := range m.rules {
		if strings.Contains(prompt, rule.substr) {
			return rule.response, nil
		}
	}
	return "default response", nil
}

func (m *mockCompletionProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// 模拟嵌入提供者：按文本内容返回确定性向量
type mockEmbeddingProvider struct {
	vectors map[string][]float64
	err     error
}

func newMockEmbeddingProvider() *mockEmbeddingProvider {
	return &mockEmbeddingProvider{vectors: make(map[string][]float64)}
}

func (m *mockEmbeddingProvider) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	if vec, ok := m.vectors[text]; ok {
		return vec, nil
	}
	// 默认向量由文本长度派生，保证确定性
	return []float64{float64(len(text)%7) + 1, 1, 1}, nil
}

// 模拟分块存储：返回预设的检索命中。delay 不响应取消，
// 用于模拟挂起的存储实现。
type mockChunkStore struct {
	vectorHits  []VectorHit
	keywordHits []KeywordHit
	chunks      map[string]types.Chunk
	structure   *types.DocumentStructure
	vectorErr   error
	keywordErr  error
	delay       time.Duration
}

func newMockChunkStore() *mockChunkStore {
	return &mockChunkStore{chunks: make(map[string]types.Chunk)}
}

func (m *mockChunkStore) VectorSearch(ctx context.Context, embedding []float64, filter SearchFilter, threshold float64, limit int) ([]VectorHit, error) {
	time.Sleep(m.delay)
	if m.vectorErr != nil {
		return nil, m.vectorErr
	}
	return m.vectorHits, nil
}

func (m *mockChunkStore) KeywordSearch(ctx context.Context, query string, filter SearchFilter, limit int) ([]KeywordHit, error) {
	time.Sleep(m.delay)
	if m.keywordErr != nil {
		return nil, m.keywordErr
	}
	return m.keywordHits, nil
}

func (m *mockChunkStore) GetDocumentStructure(ctx context.Context, documentID string) (*types.DocumentStructure, error) {
	time.Sleep(m.delay)
	if m.structure == nil {
		return nil, fmt.Errorf("document %s not found", documentID)
	}
	return m.structure, nil
}

func (m *mockChunkStore) GetChunkRange(ctx context.Context, documentID string, start, end int) ([]types.Chunk, error) {
	time.Sleep(m.delay)
	chunks := make([]types.Chunk, 0)
	for i := start; i <= end; i++ {
		if chunk, ok := m.chunks[ChunkID(documentID, i)]; ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func (m *mockChunkStore) GetChunksByID(ctx context.Context, ids []string) ([]types.Chunk, error) {
	time.Sleep(m.delay)
	chunks := make([]types.Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := m.chunks[id]; ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// ====== 构造辅助 ======

func testProviderConfig() config.ProviderConfig {
	return config.ProviderConfig{
		CallTimeout: 5 * time.Second,
	}
}

func newTestClient(completions CompletionProvider, embeddings EmbeddingProvider) *ProviderClient {
	return NewProviderClient(completions, embeddings, testProviderConfig(), nil, zap.NewNop())
}

func newTestSearcher(store ChunkStore, completions CompletionProvider, embeddings EmbeddingProvider) *Searcher {
	return NewSearcher(store, newTestClient(completions, embeddings), config.DefaultRetrievalConfig(), nil, zap.NewNop())
}

func makeVectorHit(docID string, index int, content string, similarity float64) VectorHit {
	return VectorHit{
		Chunk: types.Chunk{
			DocumentID: docID,
			Index:      index,
			Content:    content,
		},
		ChunkID:    ChunkID(docID, index),
		Similarity: similarity,
	}
}

func makeCandidate(docID string, index int, similarity float64) types.Candidate {
	return types.Candidate{
		ChunkID:    ChunkID(docID, index),
		DocumentID: docID,
		ChunkIndex: index,
		Content:    fmt.Sprintf("content of chunk %d", index),
		Similarity: similarity,
	}
}
