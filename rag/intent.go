package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/docrag/types"
)

// ====== 意图分析器 ======

// IntentAnalyzer 查询意图分析器。
// 主路径是一次结构化 JSON 分类调用；调用失败、超时或输出不可解析时
// 回退到确定性的关键词启发式。启发式永不报错，总是返回尽力而为的意图。
type IntentAnalyzer struct {
	client *ProviderClient
	logger *zap.Logger
}

// NewIntentAnalyzer 创建意图分析器
func NewIntentAnalyzer(client *ProviderClient, logger *zap.Logger) *IntentAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntentAnalyzer{
		client: client,
		logger: logger.With(zap.String("component", "intent_analyzer")),
	}
}

// Analyze 分析查询意图。返回值永远可用：LLM 路径失败时使用启发式结果。
func (a *IntentAnalyzer) Analyze(ctx context.Context, query string, structure *types.DocumentStructure) types.Intent {
	intent, err := a.analyzeWithLLM(ctx, query, structure)
	if err != nil {
		a.logger.Warn("LLM intent analysis failed, using heuristic fallback",
			zap.String("query", query),
			zap.Error(err))
		return HeuristicIntent(query)
	}
	return intent
}

// analyzeWithLLM 使用 LLM 做结构化意图分类
func (a *IntentAnalyzer) analyzeWithLLM(ctx context.Context, query string, structure *types.DocumentStructure) (types.Intent, error) {
	prompt := buildIntentPrompt(query, structure)

	response, err := a.client.CompleteWithRetry(ctx, prompt, CompleteOptions{
		MaxTokens:   300,
		Temperature: 0.0,
	})
	if err != nil {
		return types.Intent{}, types.NewError(types.ErrIntentAnalysis, "intent classification call failed").WithCause(err)
	}

	intent, err := parseIntentResponse(response)
	if err != nil {
		return types.Intent{}, types.NewError(types.ErrIntentAnalysis, "intent response unparsable").WithCause(err)
	}
	return intent, nil
}

// buildIntentPrompt 构建意图分类提示词，每个 scope 取值都有示例
func buildIntentPrompt(query string, structure *types.DocumentStructure) string {
	var sb strings.Builder

	sb.WriteString("Classify the user query against a single document. Return ONLY a JSON object with fields:\n")
	sb.WriteString(`  scope: one of "single_section", "multiple_sections", "full_document", "comparison", "search"` + "\n")
	sb.WriteString("  sections: array of section identifiers the user referenced, in the order referenced (empty for full_document and search)\n")
	sb.WriteString(`  task: one of "summarize", "analyze", "find_loopholes", "find_contradictions", "find_penalties", "find_requirements", "compare", "search"` + "\n")
	sb.WriteString("  search_query: refined search text (only for scope=search, else empty)\n")
	sb.WriteString("  reasoning: one short sentence\n\n")

	sb.WriteString("Examples:\n")
	sb.WriteString(`Q: "О чем глава 40?" -> {"scope":"single_section","sections":["40"],"task":"summarize","search_query":"","reasoning":"asks about one chapter"}` + "\n")
	sb.WriteString(`Q: "Сравни главы 3 и 5" -> {"scope":"comparison","sections":["3","5"],"task":"compare","search_query":"","reasoning":"compares two chapters"}` + "\n")
	sb.WriteString(`Q: "Что сказано в статьях 10, 11 и 12?" -> {"scope":"multiple_sections","sections":["10","11","12"],"task":"analyze","search_query":"","reasoning":"asks about several articles"}` + "\n")
	sb.WriteString(`Q: "О чем весь документ?" -> {"scope":"full_document","sections":[],"task":"summarize","search_query":"","reasoning":"asks about the whole document"}` + "\n")
	sb.WriteString(`Q: "Найди лазейки в законе" -> {"scope":"search","sections":[],"task":"find_loopholes","search_query":"лазейки и неоднозначные формулировки","reasoning":"open search for loopholes"}` + "\n\n")

	if structure != nil {
		sb.WriteString(fmt.Sprintf("Document: %d chapters, %d chunks.\n", len(structure.Chapters), structure.TotalChunks))
		if len(structure.Chapters) > 0 {
			labels := make([]string, 0, len(structure.Chapters))
			for _, ch := range structure.Chapters {
				labels = append(labels, ch.Label)
			}
			// 章节标签过多时只展示前 30 个
			if len(labels) > 30 {
				labels = labels[:30]
			}
			sb.WriteString("Chapter labels: " + strings.Join(labels, ", ") + "\n")
		}
	}

	sb.WriteString("\nQuery: " + query + "\nJSON:")
	return sb.String()
}

// parseIntentResponse 从模型输出中提取并校验意图 JSON
func parseIntentResponse(response string) (types.Intent, error) {
	jsonStart := strings.Index(response, "{")
	jsonEnd := strings.LastIndex(response, "}")
	if jsonStart == -1 || jsonEnd <= jsonStart {
		return types.Intent{}, fmt.Errorf("no JSON object in response")
	}

	var intent types.Intent
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &intent); err != nil {
		return types.Intent{}, fmt.Errorf("unmarshal intent: %w", err)
	}

	if !validScope(intent.Scope) {
		return types.Intent{}, fmt.Errorf("invalid scope %q", intent.Scope)
	}
	if !validTask(intent.Task) {
		return types.Intent{}, fmt.Errorf("invalid task %q", intent.Task)
	}

	// sections 为空当且仅当 scope 是 full_document 或 search
	switch intent.Scope {
	case types.ScopeFullDocument, types.ScopeSearch:
		intent.Sections = nil
	default:
		if len(intent.Sections) == 0 {
			return types.Intent{}, fmt.Errorf("scope %q requires sections", intent.Scope)
		}
	}
	return intent, nil
}

func validScope(s types.Scope) bool {
	switch s {
	case types.ScopeSingleSection, types.ScopeMultipleSections, types.ScopeFullDocument,
		types.ScopeComparison, types.ScopeSearch:
		return true
	}
	return false
}

func validTask(t types.Task) bool {
	switch t {
	case types.TaskSummarize, types.TaskAnalyze, types.TaskFindLoopholes,
		types.TaskFindContradictions, types.TaskFindPenalties,
		types.TaskFindRequirements, types.TaskCompare, types.TaskSearch:
		return true
	}
	return false
}

// ====== 启发式回退 ======

// sectionRefPattern 匹配章节指示词后面的数字（俄语与英语）
var sectionRefPattern = regexp.MustCompile(`(?i)(?:глав[а-яё]*|стать[а-яё]*|раздел[а-яё]*|пункт[а-яё]*|chapter|article|section)\s*№?\s*(\d+)`)

// bareNumberPattern 匹配章节引用后跟随的裸数字，如 "главы 3, 5 и 7"
var bareNumberPattern = regexp.MustCompile(`\d+`)

// HeuristicIntent 确定性启发式意图分析。永不报错。
func HeuristicIntent(query string) types.Intent {
	lower := strings.ToLower(query)
	task := heuristicTask(lower)
	sections := extractSections(lower)

	switch {
	case isFullDocumentQuery(lower):
		return types.Intent{
			Scope:     types.ScopeFullDocument,
			Task:      task,
			Reasoning: "heuristic: whole-document keywords",
		}
	case len(sections) == 1:
		return types.Intent{
			Scope:     types.ScopeSingleSection,
			Sections:  sections,
			Task:      task,
			Reasoning: "heuristic: one section reference",
		}
	case len(sections) > 1:
		scope := types.ScopeMultipleSections
		if task == types.TaskCompare {
			scope = types.ScopeComparison
		}
		return types.Intent{
			Scope:     scope,
			Sections:  sections,
			Task:      task,
			Reasoning: "heuristic: multiple section references",
		}
	default:
		if task == types.TaskSummarize || task == types.TaskAnalyze {
			task = types.TaskSearch
		}
		return types.Intent{
			Scope:       types.ScopeSearch,
			Task:        task,
			SearchQuery: query,
			Reasoning:   "heuristic: no section reference, defaulting to search",
		}
	}
}

// extractSections 抽取查询中引用的章节号，保持出现顺序并去重
func extractSections(lower string) []string {
	matches := sectionRefPattern.FindAllStringSubmatchIndex(lower, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	sections := make([]string, 0, len(matches))
	for i, m := range matches {
		num := lower[m[2]:m[3]]
		if !seen[num] {
			seen[num] = true
			sections = append(sections, num)
		}

		// 捕获同一指示词后面列表式的裸数字："главы 3, 5 и 7"
		tailEnd := len(lower)
		if i+1 < len(matches) {
			tailEnd = matches[i+1][0]
		}
		tail := lower[m[3]:tailEnd]
		if trimmed := strings.TrimLeft(tail, " ,.;иand"); strings.IndexFunc(trimmed, func(r rune) bool { return r >= '0' && r <= '9' }) == 0 {
			for _, num := range bareNumberPattern.FindAllString(tail, -1) {
				if !seen[num] {
					seen[num] = true
					sections = append(sections, num)
				}
			}
		}
	}
	return sections
}

// isFullDocumentQuery 判断是否询问整个文档
func isFullDocumentQuery(lower string) bool {
	markers := []string{
		"весь документ", "вся книга", "весь закон", "о чем документ",
		"о чем книга", "целиком", "whole document", "entire document",
		"whole book", "full document",
	}
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// heuristicTask 按关键词推断任务类型
func heuristicTask(lower string) types.Task {
	switch {
	case strings.Contains(lower, "лазейк") || strings.Contains(lower, "loophole"):
		return types.TaskFindLoopholes
	case strings.Contains(lower, "противореч") || strings.Contains(lower, "contradict"):
		return types.TaskFindContradictions
	case strings.Contains(lower, "штраф") || strings.Contains(lower, "наказан") ||
		strings.Contains(lower, "санкци") || strings.Contains(lower, "penalt"):
		return types.TaskFindPenalties
	case strings.Contains(lower, "требован") || strings.Contains(lower, "обязан") ||
		strings.Contains(lower, "requirement"):
		return types.TaskFindRequirements
	case strings.Contains(lower, "сравн") || strings.Contains(lower, "различ") ||
		strings.Contains(lower, "compar"):
		return types.TaskCompare
	case strings.Contains(lower, "анализ") || strings.Contains(lower, "analy"):
		return types.TaskAnalyze
	case strings.Contains(lower, "о чем") || strings.Contains(lower, "кратко") ||
		strings.Contains(lower, "суммир") || strings.Contains(lower, "summar"):
		return types.TaskSummarize
	default:
		return types.TaskSearch
	}
}
