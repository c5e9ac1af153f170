package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/docrag/types"
)

// ====== Agentic 迭代检索 ======

// agentState Agentic 检索的有限状态机状态
type agentState int

const (
	agentDeciding  agentState = iota // 等待模型给出下一步
	agentSearching                   // 执行子查询检索
	agentDone                        // 终止（模型停止、迭代耗尽或取消）
)

// agentDecision 模型的单步决策。
// 终止信号采用结构化 JSON（{"action":"done"}），同时兼容裸 "DONE" 输出。
type agentDecision struct {
	Action string `json:"action"` // "search" 或 "done"
	Query  string `json:"query,omitempty"`
}

// agentStep 一次已执行的检索步骤，作为后续决策的历史
type agentStep struct {
	Query string
	Found int
}

// AgenticSearch 有界迭代检索。迭代上限在每次模型调用之前检查，
// 是硬不变量：无论模型输出什么（包括永不终止），循环至多执行
// AgentMaxIterations 轮。迭代之间是取消检查点。
// 迭代内的模型调用不重试：迭代预算本身吸收失败成本。
func (s *Searcher) AgenticSearch(ctx context.Context, query string, filter SearchFilter) (*SearchResult, error) {
	maxIterations := s.cfg.AgentMaxIterations
	result := &SearchResult{Candidates: []types.Candidate{}}

	history := make([]agentStep, 0, maxIterations)
	state := agentDeciding

	for iteration := 0; state != agentDone; iteration++ {
		// 硬上限：先于任何模型调用检查
		if iteration >= maxIterations {
			s.logger.Info("agentic search reached iteration cap",
				zap.Int("iterations", iteration))
			break
		}

		// 迭代间取消检查点
		select {
		case <-ctx.Done():
			s.logger.Info("agentic search cancelled",
				zap.Int("iterations", iteration))
			result.AgentIterations = iteration
			return result, nil
		default:
		}

		decision, err := s.decideNextStep(ctx, query, history)
		if err != nil {
			s.logger.Warn("agent decision failed, stopping iteration",
				zap.Int("iteration", iteration), zap.Error(err))
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("agent decision %d failed: %v", iteration+1, err))
			result.AgentIterations = iteration
			return result, nil
		}

		if decision.Action == "done" || decision.Query == "" {
			state = agentDone
			result.AgentIterations = iteration
			break
		}

		state = agentSearching
		candidates, err := s.HybridSearch(ctx, decision.Query, filter)
		if err != nil {
			s.logger.Warn("agent sub-search failed",
				zap.String("query", decision.Query), zap.Error(err))
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("agent sub-search %q failed: %v", decision.Query, err))
			candidates = nil
		}

		result.Candidates = mergeCandidates(result.Candidates, candidates)
		result.SubQueries = append(result.SubQueries, decision.Query)
		history = append(history, agentStep{Query: decision.Query, Found: len(candidates)})
		result.AgentIterations = iteration + 1
		state = agentDeciding
	}

	sortCandidates(result.Candidates)
	return result, nil
}

// decideNextStep 询问模型下一个子查询或终止信号
func (s *Searcher) decideNextStep(ctx context.Context, query string, history []agentStep) (agentDecision, error) {
	prompt := buildAgentPrompt(query, history)

	response, err := s.client.Complete(ctx, prompt, CompleteOptions{
		MaxTokens:   150,
		Temperature: 0.3,
	})
	if err != nil {
		return agentDecision{}, err
	}
	return parseAgentDecision(response)
}

// buildAgentPrompt 构建代理决策提示词，附带已执行的检索历史
func buildAgentPrompt(query string, history []agentStep) string {
	var sb strings.Builder

	sb.WriteString("You are searching a document step by step to answer a question.\n")
	sb.WriteString(`Reply with ONLY a JSON object: {"action":"search","query":"<next concrete search query>"} to search again, or {"action":"done"} when enough has been found.` + "\n\n")
	sb.WriteString("Question: " + query + "\n")

	if len(history) == 0 {
		sb.WriteString("No searches performed yet.\n")
	} else {
		sb.WriteString("Searches so far:\n")
		for i, step := range history {
			sb.WriteString(fmt.Sprintf("%d. %q -> %d chunks\n", i+1, step.Query, step.Found))
		}
	}

	sb.WriteString("\nJSON:")
	return sb.String()
}

// parseAgentDecision 解析决策输出。
// 主格式是 JSON；裸 "DONE" 作为兼容格式也接受。
func parseAgentDecision(response string) (agentDecision, error) {
	trimmed := strings.TrimSpace(response)
	if strings.EqualFold(strings.Trim(trimmed, `"'.`), "DONE") {
		return agentDecision{Action: "done"}, nil
	}

	jsonStart := strings.Index(trimmed, "{")
	jsonEnd := strings.LastIndex(trimmed, "}")
	if jsonStart == -1 || jsonEnd <= jsonStart {
		return agentDecision{}, fmt.Errorf("no JSON object in agent response")
	}

	var decision agentDecision
	if err := json.Unmarshal([]byte(trimmed[jsonStart:jsonEnd+1]), &decision); err != nil {
		return agentDecision{}, fmt.Errorf("unmarshal agent decision: %w", err)
	}

	switch decision.Action {
	case "done":
		return decision, nil
	case "search":
		if strings.TrimSpace(decision.Query) == "" {
			return agentDecision{}, fmt.Errorf("search action without query")
		}
		decision.Query = strings.TrimSpace(decision.Query)
		return decision, nil
	default:
		return agentDecision{}, fmt.Errorf("unknown agent action %q", decision.Action)
	}
}
