// Copyright (c) DocRAG Authors.
// Licensed under the MIT License.

/*
Package types 提供 DocRAG 检索管线的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 rag、config、tokenizer
等上层模块提供统一的类型契约。所有跨包共享的结构体、枚举和错误码
均定义于此，以避免循环依赖。

# 核心类型

  - Intent / Scope / Task       — 查询意图分析结果（范围、任务、章节引用）
  - Chunk                       — 文档分块（内容、章节标签、位置索引）
  - Candidate                   — 检索候选（相似度、关键词得分、融合得分）
  - RerankedResult / Citation   — 重排结果与 1 基引用编号
  - RetrievalContext            — 最终上下文（文本、引用表、调试轨迹）
  - DocumentStructure           — 文档章节结构（标签 + 分块区间）
  - Error / ErrorCode           — 结构化错误体系，含 Retryable 与策略标记

# 错误工具链

  - NewError / WithCause / WithRetryable / WithStrategy
  - IsRetryable / GetErrorCode
*/
package types
