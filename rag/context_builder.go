package rag

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/docrag/types"
)

// ====== 上下文构建器 ======

// ContextBlock 上下文中的一个分块，压缩器以整块为单位丢弃
type ContextBlock struct {
	Result types.RerankedResult `json:"result"`
}

// BuiltContext 构建完成、尚未压缩的上下文。
// Render 每次按当前块列表重新编号引用，因此丢块后引用自动连续。
type BuiltContext struct {
	Instruction string         `json:"instruction,omitempty"`
	Blocks      []ContextBlock `json:"blocks"`
}

// Render 渲染上下文文本和平行的引用列表（1-based，按出现顺序编号）
func (b *BuiltContext) Render() (string, []types.Citation) {
	var sb strings.Builder

	if b.Instruction != "" {
		sb.WriteString(b.Instruction)
		sb.WriteString("\n\n")
	}

	citations := make([]types.Citation, 0, len(b.Blocks))
	for i, block := range b.Blocks {
		cand := block.Result
		index := i + 1

		sb.WriteString(renderCitationHeader(index, cand))
		sb.WriteString("\n")
		sb.WriteString(cand.Content)
		sb.WriteString("\n\n")

		citations = append(citations, types.Citation{
			Index:      index,
			DocumentID: cand.DocumentID,
			Section:    cand.ChapterLabel,
			ChunkIndex: cand.ChunkIndex,
			Similarity: cand.Similarity,
		})
	}

	return strings.TrimRight(sb.String(), "\n"), citations
}

// renderCitationHeader 渲染单块的引用头：文档、章节（若已知）、分块序号
func renderCitationHeader(index int, r types.RerankedResult) string {
	if r.ChapterLabel != "" {
		return fmt.Sprintf("[%d] %s — %s (фрагмент %d)", index, r.DocumentID, r.ChapterLabel, r.ChunkIndex)
	}
	return fmt.Sprintf("[%d] %s (фрагмент %d)", index, r.DocumentID, r.ChunkIndex)
}

// ContextBuilder 去重、编号并渲染检索结果。纯变换，无副作用。
type ContextBuilder struct {
	logger *zap.Logger
}

// NewContextBuilder 创建上下文构建器
func NewContextBuilder(logger *zap.Logger) *ContextBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextBuilder{
		logger: logger.With(zap.String("component", "context_builder")),
	}
}

// Build 从重排序结果构建上下文。按 chunk_id 做防御性二次去重
// （上游合并应已去重），保持输入顺序。
func (b *ContextBuilder) Build(results []types.RerankedResult, instruction string) *BuiltContext {
	seen := make(map[string]bool, len(results))
	blocks := make([]ContextBlock, 0, len(results))

	for _, r := range results {
		if seen[r.ChunkID] {
			b.logger.Warn("duplicate chunk reached context builder",
				zap.String("chunk_id", r.ChunkID))
			continue
		}
		seen[r.ChunkID] = true
		blocks = append(blocks, ContextBlock{Result: r})
	}

	return &BuiltContext{
		Instruction: instruction,
		Blocks:      blocks,
	}
}
