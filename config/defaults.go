// =============================================================================
// 📦 DocRAG 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"fmt"
	"strings"
	"time"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Retrieval:   DefaultRetrievalConfig(),
		Rerank:      DefaultRerankConfig(),
		Compression: DefaultCompressionConfig(),
		Synthesis:   DefaultSynthesisConfig(),
		Providers:   DefaultProviderConfig(),
		Log:         DefaultLogConfig(),
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		SimilarityThreshold: 0.5,
		VectorWeight:        0.7,
		KeywordWeight:       0.3,
		TopN:                20,
		MultiQueryCount:     3,
		AgentMaxIterations:  3,
	}
}

// DefaultRerankConfig 返回默认重排序配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		MaxCandidates: 20,
		TopK:          8,
	}
}

// DefaultCompressionConfig 返回默认压缩配置
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		ModelWindows: map[string]int{
			"gpt-4o":        128000,
			"gpt-4o-mini":   128000,
			"gpt-4-turbo":   128000,
			"gpt-4":         8192,
			"gpt-3.5-turbo": 16385,
		},
		WindowShare:  0.7,
		SafetyBuffer: 5000,
	}
}

// DefaultSynthesisConfig 返回默认批处理配置
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{
		OversizeCharLimit: 400_000,
		BatchChars:        20_000,
		SummaryMaxTokens:  1024,
	}
}

// DefaultProviderConfig 返回默认外部服务配置
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		CallTimeout:     30 * time.Second,
		CompletionRPS:   5,
		CompletionBurst: 10,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		errs = append(errs, "similarity_threshold must be in [0,1]")
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.KeywordWeight < 0 {
		errs = append(errs, "retrieval weights must be non-negative")
	}
	if c.Retrieval.TopN <= 0 {
		errs = append(errs, "top_n must be positive")
	}
	if c.Retrieval.MultiQueryCount <= 0 {
		errs = append(errs, "multi_query_count must be positive")
	}
	if c.Retrieval.AgentMaxIterations <= 0 {
		errs = append(errs, "agent_max_iterations must be positive")
	}
	if c.Rerank.TopK <= 0 || c.Rerank.MaxCandidates <= 0 {
		errs = append(errs, "rerank top_k and max_candidates must be positive")
	}
	if c.Rerank.TopK > c.Rerank.MaxCandidates {
		errs = append(errs, "rerank top_k must not exceed max_candidates")
	}
	if c.Compression.WindowShare <= 0 || c.Compression.WindowShare > 1 {
		errs = append(errs, "window_share must be in (0,1]")
	}
	if c.Compression.SafetyBuffer < 0 {
		errs = append(errs, "safety_buffer must be non-negative")
	}
	if len(c.Compression.ModelWindows) == 0 {
		errs = append(errs, "model_windows must not be empty")
	}
	if c.Synthesis.BatchChars <= 0 {
		errs = append(errs, "batch_chars must be positive")
	}
	if c.Synthesis.OversizeCharLimit <= c.Synthesis.BatchChars {
		errs = append(errs, "oversize_char_limit must exceed batch_chars")
	}
	if c.Providers.CallTimeout <= 0 {
		errs = append(errs, "call_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
