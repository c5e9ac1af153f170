// Copyright 2025-2026 DocRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与多语言字符估算器（ASCII / CJK / 西里尔文），
// 用于检索上下文的 Token 预算管理。
package tokenizer
