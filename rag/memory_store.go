package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/docrag/types"
)

// ====== 内存分块存储（用于测试和小规模应用）======

// MemoryChunkStore 内存分块存储
type MemoryChunkStore struct {
	docs   map[string]*memoryDocument
	byID   map[string]types.Chunk
	mu     sync.RWMutex
	logger *zap.Logger
}

type memoryDocument struct {
	chunks     []types.Chunk
	chapters   []types.ChapterInfo
	totalChars int
}

// NewMemoryChunkStore 创建内存分块存储
func NewMemoryChunkStore(logger *zap.Logger) *MemoryChunkStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryChunkStore{
		docs:   make(map[string]*memoryDocument),
		byID:   make(map[string]types.Chunk),
		logger: logger.With(zap.String("component", "memory_chunk_store")),
	}
}

// ChunkID 返回分块的存储 ID（文档 ID + 分块序号）
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s:%d", documentID, index)
}

// AddDocument 添加一个文档的全部分块和章节结构
func (s *MemoryChunkStore) AddDocument(ctx context.Context, documentID string, chunks []types.Chunk, chapters []types.ChapterInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := &memoryDocument{
		chunks:   make([]types.Chunk, len(chunks)),
		chapters: chapters,
	}
	copy(doc.chunks, chunks)

	// 按分块序号排序，保证范围查询有序
	sort.Slice(doc.chunks, func(i, j int) bool {
		return doc.chunks[i].Index < doc.chunks[j].Index
	})

	for _, chunk := range doc.chunks {
		doc.totalChars += len(chunk.Content)
		s.byID[ChunkID(documentID, chunk.Index)] = chunk
	}
	s.docs[documentID] = doc

	s.logger.Info("document added to chunk store",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
		zap.Int("chapters", len(chapters)))

	return nil
}

// VectorSearch 按余弦相似度检索分块
func (s *MemoryChunkStore) VectorSearch(ctx context.Context, embedding []float64, filter SearchFilter, threshold float64, limit int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]VectorHit, 0)
	for docID, doc := range s.docs {
		if filter.DocumentID != "" && filter.DocumentID != docID {
			continue
		}
		for _, chunk := range doc.chunks {
			if chunk.Embedding == nil {
				continue
			}
			similarity := cosineSimilarity(embedding, chunk.Embedding)
			if similarity < threshold {
				continue
			}
			hits = append(hits, VectorHit{
				Chunk:      chunk,
				ChunkID:    ChunkID(docID, chunk.Index),
				Similarity: similarity,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})

	if limit > 0 && limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

// KeywordSearch 按查询词命中比例检索分块
func (s *MemoryChunkStore) KeywordSearch(ctx context.Context, query string, filter SearchFilter, limit int) ([]KeywordHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return []KeywordHit{}, nil
	}

	hits := make([]KeywordHit, 0)
	for docID, doc := range s.docs {
		if filter.DocumentID != "" && filter.DocumentID != docID {
			continue
		}
		for _, chunk := range doc.chunks {
			content := strings.ToLower(chunk.Content)
			matched := 0
			for _, term := range terms {
				if strings.Contains(content, term) {
					matched++
				}
			}
			if matched == 0 {
				continue
			}
			hits = append(hits, KeywordHit{
				ChunkID: ChunkID(docID, chunk.Index),
				Score:   float64(matched) / float64(len(terms)),
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if limit > 0 && limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

// GetDocumentStructure 返回文档的章节结构和体量信息
func (s *MemoryChunkStore) GetDocumentStructure(ctx context.Context, documentID string) (*types.DocumentStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return nil, fmt.Errorf("document %s not found", documentID)
	}

	return &types.DocumentStructure{
		Chapters:    doc.chapters,
		TotalChunks: len(doc.chunks),
		TotalChars:  doc.totalChars,
	}, nil
}

// GetChunkRange 返回 [start, end] 序号范围内的分块，按序号升序
func (s *MemoryChunkStore) GetChunkRange(ctx context.Context, documentID string, start, end int) ([]types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return nil, fmt.Errorf("document %s not found", documentID)
	}

	chunks := make([]types.Chunk, 0)
	for _, chunk := range doc.chunks {
		if chunk.Index >= start && chunk.Index <= end {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// GetChunksByID 按存储 ID 批量解析分块，未知 ID 静默跳过
func (s *MemoryChunkStore) GetChunksByID(ctx context.Context, ids []string) ([]types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]types.Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := s.byID[id]; ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// ====== 功用函数 ======

// cosineSimilarity 计算余弦相似度
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// tokenizeQuery 把查询拆成小写词项，去掉标点
func tokenizeQuery(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !isWordRune(r)
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r >= 0x0400 && r <= 0x04FF: // Cyrillic
		return true
	case r >= 0x4E00 && r <= 0x9FFF: // CJK
		return true
	}
	return false
}
