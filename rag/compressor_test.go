package rag

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/docrag/config"
	"github.com/BaSui01/docrag/types"
)

func testCompressionConfig() config.CompressionConfig {
	return config.CompressionConfig{
		ModelWindows: map[string]int{
			"gpt-4o":     128000,
			"tiny-model": 8000,
		},
		WindowShare:  0.7,
		SafetyBuffer: 5000,
	}
}

func newTestCompressor() *Compressor {
	return NewCompressor(testCompressionConfig(), nil, zap.NewNop())
}

func TestEffectiveLimit(t *testing.T) {
	compressor := newTestCompressor()

	limit, err := compressor.EffectiveLimit("gpt-4o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 128000 × 0.7 − 5000
	if limit != 84600 {
		t.Errorf("expected effective limit 84600, got %d", limit)
	}
}

func TestEffectiveLimit_UnknownModelIsFatal(t *testing.T) {
	compressor := newTestCompressor()

	_, err := compressor.EffectiveLimit("claude-unknown")
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
	if types.GetErrorCode(err) != types.ErrModelNotFound {
		t.Errorf("expected MODEL_NOT_FOUND, got %s", types.GetErrorCode(err))
	}
}

func TestCompress_FitsWithoutDropping(t *testing.T) {
	compressor := newTestCompressor()

	built := &BuiltContext{Blocks: []ContextBlock{
		{Result: makeResult("doc", 1, "", 0.9)},
		{Result: makeResult("doc", 2, "", 0.8)},
	}}

	compressed, err := compressor.Compress(built, "gpt-4o")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if compressed.DroppedChunks != 0 {
		t.Errorf("expected no chunks dropped, got %d", compressed.DroppedChunks)
	}
	if len(compressed.Citations) != 2 {
		t.Errorf("expected 2 citations, got %d", len(compressed.Citations))
	}
}

func TestCompress_DropsLowestScoredFirst(t *testing.T) {
	compressor := newTestCompressor()

	// tiny-model 的有效预算：8000 × 0.7 − 5000 = 600 token。
	// 三个大块无法同时放下，最低分的必须先被丢弃。
	// 每块约 480 西里尔字符 ≈ 230 token：两块放得下，三块放不下
	big := strings.Repeat("детали договора и ответственность сторон ", 12)
	blocks := []ContextBlock{
		{Result: withContent(makeResult("doc", 1, "", 0.9), big)},
		{Result: withContent(makeResult("doc", 2, "", 0.2), big)},
		{Result: withContent(makeResult("doc", 3, "", 0.8), big)},
	}

	compressed, err := compressor.Compress(&BuiltContext{Blocks: blocks}, "tiny-model")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	if compressed.DroppedChunks == 0 {
		t.Fatal("expected at least one chunk dropped")
	}
	for _, citation := range compressed.Citations {
		if citation.ChunkIndex == 2 {
			t.Error("lowest-scored chunk 2 must be dropped first but is still present")
		}
	}
	// 引用重新编号且连续
	for i, citation := range compressed.Citations {
		if citation.Index != i+1 {
			t.Errorf("citation %d not renumbered: index %d", i, citation.Index)
		}
	}

	limit, _ := compressor.EffectiveLimit("tiny-model")
	if compressed.Tokens > limit {
		t.Errorf("compressed context %d tokens exceeds limit %d", compressed.Tokens, limit)
	}
}

func TestCompress_OverflowWithSingleChunk(t *testing.T) {
	compressor := newTestCompressor()

	// 单块已超限：必须返回类型化溢出错误而不是静默截断
	huge := strings.Repeat("очень длинный фрагмент договора ", 500)
	built := &BuiltContext{Blocks: []ContextBlock{
		{Result: withContent(makeResult("doc", 1, "", 0.9), huge)},
	}}

	_, err := compressor.Compress(built, "tiny-model")
	if err == nil {
		t.Fatal("expected CompressionOverflow")
	}
	if types.GetErrorCode(err) != types.ErrContextOverflow {
		t.Errorf("expected CONTEXT_OVERFLOW, got %s", types.GetErrorCode(err))
	}
}

func TestCompress_InstructionCountsTowardBudget(t *testing.T) {
	compressor := newTestCompressor()

	content := strings.Repeat("условия поставки ", 100)
	block := ContextBlock{Result: withContent(makeResult("doc", 1, "", 0.9), content)}

	bare, err := compressor.Compress(&BuiltContext{Blocks: []ContextBlock{block}}, "gpt-4o")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	instructed, err := compressor.Compress(&BuiltContext{
		Instruction: InstructionFor(types.TaskFindLoopholes),
		Blocks:      []ContextBlock{{Result: withContent(makeResult("doc", 1, "", 0.9), content)}},
	}, "gpt-4o")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	if instructed.Tokens <= bare.Tokens {
		t.Errorf("instruction tokens must count toward the budget: %d <= %d", instructed.Tokens, bare.Tokens)
	}
}

func withContent(r types.RerankedResult, content string) types.RerankedResult {
	r.Content = content
	return r
}
