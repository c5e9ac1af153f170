package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/docrag/config"
	"github.com/BaSui01/docrag/types"
)

func TestHybridSearch_WeightedCombination(t *testing.T) {
	// similarity=0.60, keyword=0.95 → 0.705 должен обойти
	// similarity=0.80, keyword=0.10 → 0.590
	store := newMockChunkStore()
	store.vectorHits = []VectorHit{
		makeVectorHit("doc", 1, "high similarity low keyword", 0.80),
		makeVectorHit("doc", 2, "low similarity high keyword", 0.60),
	}
	store.keywordHits = []KeywordHit{
		{ChunkID: ChunkID("doc", 2), Score: 0.95},
		{ChunkID: ChunkID("doc", 1), Score: 0.10},
	}

	searcher := newTestSearcher(store, newMockCompletionProvider(), newMockEmbeddingProvider())
	candidates, err := searcher.HybridSearch(context.Background(), "query", SearchFilter{})
	if err != nil {
		t.Fatalf("HybridSearch failed: %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].ChunkIndex != 2 {
		t.Errorf("expected chunk 2 (combined 0.705) first, got chunk %d", candidates[0].ChunkIndex)
	}
	if math.Abs(candidates[0].CombinedScore-0.705) > 1e-9 {
		t.Errorf("expected combined score 0.705, got %f", candidates[0].CombinedScore)
	}
	if math.Abs(candidates[1].CombinedScore-0.590) > 1e-9 {
		t.Errorf("expected combined score 0.590, got %f", candidates[1].CombinedScore)
	}
}

func TestHybridSearch_KeywordOnlyChunkResolved(t *testing.T) {
	store := newMockChunkStore()
	store.vectorHits = []VectorHit{
		makeVectorHit("doc", 1, "vector hit", 0.7),
	}
	store.keywordHits = []KeywordHit{
		{ChunkID: ChunkID("doc", 9), Score: 0.9},
	}
	store.chunks[ChunkID("doc", 9)] = types.Chunk{
		DocumentID: "doc", Index: 9, Content: "keyword only chunk",
	}

	searcher := newTestSearcher(store, newMockCompletionProvider(), newMockEmbeddingProvider())
	candidates, err := searcher.HybridSearch(context.Background(), "query", SearchFilter{})
	if err != nil {
		t.Fatalf("HybridSearch failed: %v", err)
	}

	var keywordOnly *types.Candidate
	for i := range candidates {
		if candidates[i].ChunkIndex == 9 {
			keywordOnly = &candidates[i]
		}
	}
	if keywordOnly == nil {
		t.Fatal("keyword-only chunk missing from candidates")
	}
	if keywordOnly.Content != "keyword only chunk" {
		t.Errorf("keyword-only chunk content not resolved: %q", keywordOnly.Content)
	}
	if math.Abs(keywordOnly.CombinedScore-0.27) > 1e-9 {
		t.Errorf("expected combined score 0.27 (0.3×0.9), got %f", keywordOnly.CombinedScore)
	}
}

func TestHybridSearch_KeywordFailureDegradesToVector(t *testing.T) {
	store := newMockChunkStore()
	store.vectorHits = []VectorHit{makeVectorHit("doc", 1, "vector hit", 0.8)}
	store.keywordErr = fmt.Errorf("keyword index offline")

	searcher := newTestSearcher(store, newMockCompletionProvider(), newMockEmbeddingProvider())
	candidates, err := searcher.HybridSearch(context.Background(), "query", SearchFilter{})
	if err != nil {
		t.Fatalf("expected degradation, got error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 vector candidate, got %d", len(candidates))
	}
}

func TestMergeCandidates_Deduplication(t *testing.T) {
	a := makeCandidate("doc", 1, 0.8)
	a.MatchingQueries = []string{"q1"}
	b := makeCandidate("doc", 1, 0.6)
	b.MatchingQueries = []string{"q2"}
	c := makeCandidate("doc", 2, 0.5)
	c.MatchingQueries = []string{"q2"}

	merged := mergeCandidates([]types.Candidate{a}, []types.Candidate{b, c})

	if len(merged) != 2 {
		t.Fatalf("expected 2 unique candidates, got %d", len(merged))
	}

	seen := make(map[string]bool)
	for _, cand := range merged {
		if seen[cand.ChunkID] {
			t.Fatalf("duplicate chunk_id %s after merge", cand.ChunkID)
		}
		seen[cand.ChunkID] = true
	}

	first := merged[0]
	if first.Similarity != 0.8 {
		t.Errorf("expected max similarity 0.8 kept, got %f", first.Similarity)
	}
	if len(first.MatchingQueries) != 2 {
		t.Errorf("expected matching queries union [q1 q2], got %v", first.MatchingQueries)
	}
}

func TestMultiQueryStrategy_MergesSubQueries(t *testing.T) {
	store := newMockChunkStore()
	store.vectorHits = []VectorHit{
		makeVectorHit("doc", 1, "shared hit", 0.8),
		makeVectorHit("doc", 2, "another hit", 0.6),
	}

	completions := newMockCompletionProvider().on("Generate",
		"ответственность сторон\nнеустойка за просрочку\nрасторжение договора")
	searcher := newTestSearcher(store, completions, newMockEmbeddingProvider())

	result, err := searcher.multiQueryStrategy(context.Background(), "ответственность", SearchFilter{})
	if err != nil {
		t.Fatalf("multiQueryStrategy failed: %v", err)
	}

	if len(result.SubQueries) != 3 {
		t.Errorf("expected 3 generated sub-queries, got %v", result.SubQueries)
	}

	seen := make(map[string]bool)
	for _, cand := range result.Candidates {
		if seen[cand.ChunkID] {
			t.Fatalf("duplicate chunk_id %s in merged result", cand.ChunkID)
		}
		seen[cand.ChunkID] = true
	}

	// 每个候选被全部 4 个查询命中（原查询 + 3 个改写）
	for _, cand := range result.Candidates {
		if len(cand.MatchingQueries) != 4 {
			t.Errorf("expected 4 matching queries on %s, got %v", cand.ChunkID, cand.MatchingQueries)
		}
	}
}

func TestMultiQueryStrategy_GenerationFailureDegrades(t *testing.T) {
	store := newMockChunkStore()
	store.vectorHits = []VectorHit{makeVectorHit("doc", 1, "hit", 0.8)}

	completions := newMockCompletionProvider()
	completions.err = fmt.Errorf("completion service down")
	searcher := newTestSearcher(store, completions, newMockEmbeddingProvider())

	result, err := searcher.multiQueryStrategy(context.Background(), "query", SearchFilter{})
	if err != nil {
		t.Fatalf("expected degradation to original query, got error: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Errorf("expected original-query candidates, got %d", len(result.Candidates))
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning about generation failure")
	}
}

func TestHyDEStrategy_UsesHypotheticalEmbedding(t *testing.T) {
	store := newMockChunkStore()
	store.vectorHits = []VectorHit{makeVectorHit("doc", 3, "supporting passage", 0.9)}

	completions := newMockCompletionProvider().on("hypothetical passage",
		"Согласно договору перевозчик несёт ответственность за утрату груза.")
	embeddings := newMockEmbeddingProvider()

	searcher := newTestSearcher(store, completions, embeddings)
	result, err := searcher.hydeStrategy(context.Background(), "кто отвечает за груз?", SearchFilter{})
	if err != nil {
		t.Fatalf("hydeStrategy failed: %v", err)
	}

	if len(result.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(result.Candidates))
	}
	if len(result.SubQueries) != 1 {
		t.Errorf("expected hypothetical text recorded as sub-query")
	}
}

func TestRun_StrategyFailureReturnsEmpty(t *testing.T) {
	store := newMockChunkStore()
	store.vectorErr = fmt.Errorf("store offline")

	searcher := newTestSearcher(store, newMockCompletionProvider(), newMockEmbeddingProvider())
	result := searcher.Run(context.Background(), StrategyVector, "query", SearchFilter{})

	if len(result.Candidates) != 0 {
		t.Errorf("expected empty candidates on failure, got %d", len(result.Candidates))
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for the failed strategy")
	}
}

func TestStepBackStrategy_TwoQueries(t *testing.T) {
	store := newMockChunkStore()
	store.vectorHits = []VectorHit{makeVectorHit("doc", 1, "hit", 0.7)}

	completions := newMockCompletionProvider().on("more general question",
		"Какова ответственность сторон договора?")
	searcher := newTestSearcher(store, completions, newMockEmbeddingProvider())

	result, err := searcher.stepBackStrategy(context.Background(), "неустойка за просрочку поставки", SearchFilter{})
	if err != nil {
		t.Fatalf("stepBackStrategy failed: %v", err)
	}

	if len(result.SubQueries) != 1 {
		t.Fatalf("expected 1 step-back sub-query, got %v", result.SubQueries)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected merged single candidate, got %d", len(result.Candidates))
	}
	if len(result.Candidates[0].MatchingQueries) != 2 {
		t.Errorf("expected candidate matched by both queries, got %v", result.Candidates[0].MatchingQueries)
	}
}

func TestRun_SlowStoreFailsAtCallTimeout(t *testing.T) {
	store := newMockChunkStore()
	store.vectorHits = []VectorHit{makeVectorHit("doc", 1, "hit", 0.9)}
	store.delay = 500 * time.Millisecond

	client := NewProviderClient(newMockCompletionProvider(), newMockEmbeddingProvider(),
		config.ProviderConfig{CallTimeout: 50 * time.Millisecond}, nil, zap.NewNop())
	searcher := NewSearcher(store, client, config.DefaultRetrievalConfig(), nil, zap.NewNop())

	start := time.Now()
	result := searcher.Run(context.Background(), StrategyVector, "запрос", SearchFilter{})
	elapsed := time.Since(start)

	if elapsed > 300*time.Millisecond {
		t.Fatalf("slow store must fail at the call timeout, took %v", elapsed)
	}
	if len(result.Candidates) != 0 {
		t.Fatalf("expected empty candidates on store timeout, got %d", len(result.Candidates))
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a strategy failure warning")
	}
	if !strings.Contains(result.Warnings[0], "timed out") {
		t.Errorf("warning should mention the timeout, got %q", result.Warnings[0])
	}
}

func TestTimeoutStore_HungCallReturnsUpstreamTimeout(t *testing.T) {
	store := newMockChunkStore()
	store.delay = 500 * time.Millisecond
	wrapped := newTimeoutStore(store, 50*time.Millisecond)

	_, err := wrapped.GetDocumentStructure(context.Background(), "doc")
	if err == nil {
		t.Fatal("expected timeout error from hung store")
	}
	if types.GetErrorCode(err) != types.ErrUpstreamTimeout {
		t.Errorf("expected UPSTREAM_TIMEOUT, got %v", err)
	}
}

func TestTimeoutStore_CancelledContextSurfacesAsIs(t *testing.T) {
	store := newMockChunkStore()
	store.delay = 500 * time.Millisecond
	wrapped := newTimeoutStore(store, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := wrapped.GetChunksByID(ctx, []string{ChunkID("doc", 1)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
