package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// ====== 查询变换器 ======

// QueryTransformer 查询变换器：HyDE 假设文档、Step-Back 泛化、Multi-Query 改写。
// 所有变换都是一次补全调用；调用失败时由上层检索策略降级处理。
type QueryTransformer struct {
	client *ProviderClient
	logger *zap.Logger
}

// NewQueryTransformer 创建查询变换器
func NewQueryTransformer(client *ProviderClient, logger *zap.Logger) *QueryTransformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryTransformer{
		client: client,
		logger: logger.With(zap.String("component", "query_transformer")),
	}
}

// GenerateHypothetical 生成 HyDE 假设回答。
// 用假设回答的向量代替查询向量检索：合理的答案比问题本身更接近支撑段落。
func (t *QueryTransformer) GenerateHypothetical(ctx context.Context, query string) (string, error) {
	prompt := fmt.Sprintf(`Write a hypothetical passage (2-3 paragraphs) that would directly answer the question below, as if quoted from the source document. Write in the same language as the question. Do not mention that it is hypothetical.

Question: %s

Passage:`, query)

	text, err := t.client.Complete(ctx, prompt, CompleteOptions{
		MaxTokens:   400,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("generate hypothetical answer: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty hypothetical answer")
	}
	return text, nil
}

// GenerateStepBack 把查询改写为更一般性的问题
func (t *QueryTransformer) GenerateStepBack(ctx context.Context, query string) (string, error) {
	prompt := fmt.Sprintf(`Rewrite the question below as a single, more general question about the same topic, in the same language. Return only the rewritten question.

Question: %s

General question:`, query)

	text, err := t.client.Complete(ctx, prompt, CompleteOptions{
		MaxTokens:   100,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("generate step-back query: %w", err)
	}

	stepBack := cleanQueryLine(text)
	if stepBack == "" {
		return "", fmt.Errorf("empty step-back query")
	}
	return stepBack, nil
}

// GenerateMultiQueries 生成 count 个不同角度的改写查询。
// 返回的查询数可能少于 count（模型输出行数不足时），但不会为空。
func (t *QueryTransformer) GenerateMultiQueries(ctx context.Context, query string, count int) ([]string, error) {
	prompt := fmt.Sprintf(`Generate %d different search queries that approach the question below from different angles (paraphrase, narrower aspect, related terminology). One query per line, same language as the question, no numbering.

Question: %s

Queries:`, count, query)

	text, err := t.client.Complete(ctx, prompt, CompleteOptions{
		MaxTokens:   200,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("generate multi queries: %w", err)
	}

	queries := parseQueryLines(text, count)
	if len(queries) == 0 {
		return nil, fmt.Errorf("no usable queries in response")
	}
	return queries, nil
}

// ====== 输出清洗 ======

// listPrefixPattern 匹配行首编号："1. " / "2) " / "- "
var listPrefixPattern = regexp.MustCompile(`^\s*(?:\d+[\.\)]|[-*•])\s*`)

// cleanQueryLine 取出首个非空行并去掉编号和引号
func cleanQueryLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = listPrefixPattern.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"«»`)
		if line != "" {
			return line
		}
	}
	return ""
}

// parseQueryLines 解析逐行输出，去编号、去重，至多 max 条
func parseQueryLines(text string, max int) []string {
	seen := make(map[string]bool)
	queries := make([]string, 0, max)

	for _, line := range strings.Split(text, "\n") {
		line = listPrefixPattern.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"«»`)
		if line == "" || seen[strings.ToLower(line)] {
			continue
		}
		seen[strings.ToLower(line)] = true
		queries = append(queries, line)
		if len(queries) >= max {
			break
		}
	}
	return queries
}
