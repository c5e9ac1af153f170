package rag

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/docrag/types"
)

func seededStore(t *testing.T) *MemoryChunkStore {
	t.Helper()
	store := NewMemoryChunkStore(zap.NewNop())

	chunks := []types.Chunk{
		{DocumentID: "doc", Index: 0, Content: "Общие положения договора.", ChapterLabel: "Глава 1", Embedding: []float64{1, 0, 0}},
		{DocumentID: "doc", Index: 1, Content: "Ответственность за неустойку.", ChapterLabel: "Глава 1", Embedding: []float64{0.9, 0.1, 0}},
		{DocumentID: "doc", Index: 2, Content: "Порядок расторжения.", ChapterLabel: "Глава 2", Embedding: []float64{0, 1, 0}},
	}
	chapters := []types.ChapterInfo{
		{Label: "Глава 1", StartChunkIndex: 0, EndChunkIndex: 1},
		{Label: "Глава 2", StartChunkIndex: 2, EndChunkIndex: 2},
	}
	if err := store.AddDocument(context.Background(), "doc", chunks, chapters); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	return store
}

func TestMemoryChunkStore_VectorSearch(t *testing.T) {
	store := seededStore(t)

	hits, err := store.VectorSearch(context.Background(), []float64{1, 0, 0}, SearchFilter{DocumentID: "doc"}, 0.5, 10)
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}

	if len(hits) != 2 {
		t.Fatalf("expected 2 hits above threshold, got %d", len(hits))
	}
	if hits[0].Chunk.Index != 0 {
		t.Errorf("expected exact-match chunk 0 first, got %d", hits[0].Chunk.Index)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Error("hits not ordered by similarity")
	}
}

func TestMemoryChunkStore_VectorSearchThreshold(t *testing.T) {
	store := seededStore(t)

	hits, err := store.VectorSearch(context.Background(), []float64{1, 0, 0}, SearchFilter{}, 0.99, 10)
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected only the exact match above 0.99, got %d", len(hits))
	}
}

func TestMemoryChunkStore_KeywordSearch(t *testing.T) {
	store := seededStore(t)

	hits, err := store.KeywordSearch(context.Background(), "неустойку ответственность", SearchFilter{DocumentID: "doc"}, 10)
	if err != nil {
		t.Fatalf("KeywordSearch failed: %v", err)
	}

	if len(hits) != 1 {
		t.Fatalf("expected 1 keyword hit, got %d", len(hits))
	}
	if hits[0].ChunkID != ChunkID("doc", 1) {
		t.Errorf("expected chunk 1, got %s", hits[0].ChunkID)
	}
	if hits[0].Score != 1.0 {
		t.Errorf("expected full term coverage score 1.0, got %f", hits[0].Score)
	}
}

func TestMemoryChunkStore_GetChunkRange(t *testing.T) {
	store := seededStore(t)

	chunks, err := store.GetChunkRange(context.Background(), "doc", 0, 1)
	if err != nil {
		t.Fatalf("GetChunkRange failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Index != 0 || chunks[1].Index != 1 {
		t.Error("chunks not in index order")
	}
}

func TestMemoryChunkStore_GetDocumentStructure(t *testing.T) {
	store := seededStore(t)

	structure, err := store.GetDocumentStructure(context.Background(), "doc")
	if err != nil {
		t.Fatalf("GetDocumentStructure failed: %v", err)
	}
	if structure.TotalChunks != 3 {
		t.Errorf("expected 3 chunks, got %d", structure.TotalChunks)
	}
	if len(structure.Chapters) != 2 {
		t.Errorf("expected 2 chapters, got %d", len(structure.Chapters))
	}

	if _, err := store.GetDocumentStructure(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown document")
	}
}

func TestMemoryChunkStore_GetChunksByID(t *testing.T) {
	store := seededStore(t)

	chunks, err := store.GetChunksByID(context.Background(), []string{
		ChunkID("doc", 2), "unknown:7", ChunkID("doc", 0),
	})
	if err != nil {
		t.Fatalf("GetChunksByID failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("expected 2 resolved chunks with unknown ID skipped, got %d", len(chunks))
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float64{1, 0}, []float64{1, 0}); got != 1.0 {
		t.Errorf("identical vectors: expected 1.0, got %f", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{0, 1}); got != 0.0 {
		t.Errorf("orthogonal vectors: expected 0.0, got %f", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{1, 0, 0}); got != 0.0 {
		t.Errorf("mismatched dimensions: expected 0.0, got %f", got)
	}
}
