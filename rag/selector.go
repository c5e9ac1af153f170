package rag

import (
	"strings"

	"github.com/BaSui01/docrag/types"
)

// ====== 检索模式与策略枚举 ======

// RetrievalMode 顶层检索模式
type RetrievalMode string

const (
	ModeFullDocument RetrievalMode = "full_document" // 整文档加载（超长时批量合成）
	ModeChapter      RetrievalMode = "chapter"       // 按章节加载
	ModeSearch       RetrievalMode = "search"        // 语义检索
)

// SearchStrategy 检索子策略（封闭枚举，新增策略需要同时扩展分发表）
type SearchStrategy string

const (
	StrategyVector       SearchStrategy = "vector"
	StrategyHybrid       SearchStrategy = "hybrid"
	StrategyHyDE         SearchStrategy = "hyde"
	StrategyStepBack     SearchStrategy = "step_back"
	StrategyMultiQuery   SearchStrategy = "multi_query"
	StrategyHyDEStepBack SearchStrategy = "hyde_step_back" // HyDE + Step-Back 组合
	StrategyAgentic      SearchStrategy = "agentic"
)

// Plan 策略选择结果
type Plan struct {
	Mode     RetrievalMode  `json:"mode"`
	Sections []string       `json:"sections,omitempty"`
	Search   SearchStrategy `json:"search,omitempty"`
}

// specificityMarkers 表示查询要求精确出处的标记词
var specificityMarkers = []string{
	"page", "quote", "paragraph", "verbatim",
	"страниц", "цитат", "абзац", "дословно", "пункт",
}

// SelectStrategy 把意图映射为检索计划。纯函数：相同输入必得相同输出，
// 无 I/O，无隐藏状态。deepSearch 表示调用方显式要求深度迭代检索。
func SelectStrategy(intent types.Intent, deepSearch bool) Plan {
	switch intent.Scope {
	case types.ScopeFullDocument:
		return Plan{Mode: ModeFullDocument}

	case types.ScopeSingleSection, types.ScopeMultipleSections, types.ScopeComparison:
		// 章节按用户引用顺序加载并拼接
		return Plan{Mode: ModeChapter, Sections: intent.Sections}

	case types.ScopeSearch:
		return Plan{Mode: ModeSearch, Search: selectSearchStrategy(intent, deepSearch)}

	default:
		// 未知 scope 当作检索处理，保证选择器总能给出计划
		return Plan{Mode: ModeSearch, Search: selectSearchStrategy(intent, deepSearch)}
	}
}

// selectSearchStrategy 选择 search 范围下的子策略。
// 显式深度检索请求优先，其次精确出处标记，默认 Multi-Query。
func selectSearchStrategy(intent types.Intent, deepSearch bool) SearchStrategy {
	if deepSearch {
		return StrategyAgentic
	}
	if hasSpecificityMarker(intent.SearchQuery) || hasSpecificityMarker(intent.Reasoning) {
		return StrategyHyDEStepBack
	}
	return StrategyMultiQuery
}

// hasSpecificityMarker 判断文本是否包含精确出处标记
func hasSpecificityMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range specificityMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
