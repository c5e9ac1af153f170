// =============================================================================
// 📦 DocRAG 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("DOCRAG").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是检索管线的完整配置结构
type Config struct {
	// Retrieval 检索策略配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Rerank 重排序配置
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Compression 上下文压缩配置
	Compression CompressionConfig `yaml:"compression" env:"COMPRESSION"`

	// Synthesis 超长文档批处理配置
	Synthesis SynthesisConfig `yaml:"synthesis" env:"SYNTHESIS"`

	// Providers 外部服务调用配置
	Providers ProviderConfig `yaml:"providers" env:"PROVIDERS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// RetrievalConfig 检索策略配置
type RetrievalConfig struct {
	// 向量检索相似度阈值
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	// 混合检索向量权重
	VectorWeight float64 `yaml:"vector_weight" env:"VECTOR_WEIGHT"`
	// 混合检索关键词权重
	KeywordWeight float64 `yaml:"keyword_weight" env:"KEYWORD_WEIGHT"`
	// 单次检索返回的候选上限
	TopN int `yaml:"top_n" env:"TOP_N"`
	// Multi-Query 生成的改写查询数
	MultiQueryCount int `yaml:"multi_query_count" env:"MULTI_QUERY_COUNT"`
	// Agentic 检索的最大迭代数（硬上限）
	AgentMaxIterations int `yaml:"agent_max_iterations" env:"AGENT_MAX_ITERATIONS"`
}

// RerankConfig 重排序配置
type RerankConfig struct {
	// 送入重排序的最大候选数
	MaxCandidates int `yaml:"max_candidates" env:"MAX_CANDIDATES"`
	// 重排序后保留的结果数
	TopK int `yaml:"top_k" env:"TOP_K"`
}

// CompressionConfig 上下文压缩配置
type CompressionConfig struct {
	// 模型上下文窗口表（模型名 → token 数）
	ModelWindows map[string]int `yaml:"model_windows" env:"-"`
	// 可用于检索上下文的窗口占比
	WindowShare float64 `yaml:"window_share" env:"WINDOW_SHARE"`
	// 为模型回复保留的安全余量（token）
	SafetyBuffer int `yaml:"safety_buffer" env:"SAFETY_BUFFER"`
}

// SynthesisConfig 超长文档批处理配置
type SynthesisConfig struct {
	// 触发批处理的文档字符数上限
	OversizeCharLimit int `yaml:"oversize_char_limit" env:"OVERSIZE_CHAR_LIMIT"`
	// 单批目标字符数
	BatchChars int `yaml:"batch_chars" env:"BATCH_CHARS"`
	// 单批摘要的最大 token 数
	SummaryMaxTokens int `yaml:"summary_max_tokens" env:"SUMMARY_MAX_TOKENS"`
}

// ProviderConfig 外部服务调用配置
type ProviderConfig struct {
	// 单次外部调用超时
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	// 补全服务限速（每秒请求数，0 表示不限速）
	CompletionRPS float64 `yaml:"completion_rps" env:"COMPLETION_RPS"`
	// 限速突发容量
	CompletionBurst int `yaml:"completion_burst" env:"COMPLETION_BURST"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DOCRAG",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 内置校验
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 5. 运行自定义验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
