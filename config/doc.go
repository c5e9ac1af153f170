// Package config 提供 DocRAG 检索管线的配置管理。
//
// 支持从 YAML 文件和环境变量加载配置，优先级为
// 默认值 → YAML 文件 → 环境变量，加载后统一校验。
package config
