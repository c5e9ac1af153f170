// Copyright 2025-2026 DocRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 提供面向大体量文档的检索管线实现。

该包覆盖从原始查询到最终生成上下文的全部阶段：意图分析、策略选择、
多种检索策略（向量 / 混合 / HyDE / Step-Back / Multi-Query / Agentic）、
LLM 重排序、引用标注、自适应压缩以及超长文档的批量摘要合成。

# 核心接口/类型

  - ChunkStore — 外部分块存储接口（向量检索 / 关键词检索 / 章节结构）
  - CompletionProvider / EmbeddingProvider — 外部模型服务接口
  - ProviderClient — 带超时、限速和重试的外部调用封装
  - IntentAnalyzer — 查询意图分析（LLM 主路径 + 启发式回退）
  - Searcher — 向量与混合检索及多子查询合并
  - Reranker — LLM 批量相关性重排序（失败回退到检索排序）
  - ContextBuilder — 去重、引用编号与上下文渲染
  - Compressor — 按模型窗口预算丢弃整块的自适应压缩
  - BatchSynthesizer — 超长文档的 map-reduce 摘要
  - Pipeline — 完整管线编排入口

# 主要能力

  - 意图分析：结构化 JSON 分类 + 俄/英关键词启发式回退（IntentAnalyzer）
  - 策略选择：Intent → 检索模式的纯函数决策树（SelectStrategy）
  - 混合检索：向量相似度 + 关键词得分加权融合（Searcher）
  - 查询变换：HyDE 假设文档、Step-Back 泛化、Multi-Query 改写（QueryTransformer)
  - Agentic 检索：硬上限有限状态机，逐轮决策下一个子查询（Searcher.AgenticSearch）
  - 自适应压缩：effective_limit = 窗口 × 占比 − 安全余量，整块丢弃（Compressor）
  - 批量合成：按字符范围精确切分、逐批摘要、失败占位（BatchSynthesizer）

# 使用示例

	store := rag.NewMemoryChunkStore(logger)
	client := rag.NewProviderClient(completions, embeddings, cfg.Providers, collector, logger)
	pipeline := rag.NewPipeline(store, client, cfg, collector, logger)

	result, err := pipeline.Retrieve(ctx, rag.Request{
	    Query:      "О чем глава 40?",
	    DocumentID: "doc-1",
	    Model:      "gpt-4o",
	})

# 设计要点

管线不持有任何跨请求状态：意图、候选、上下文均为请求级对象，
ChunkStore 与模型窗口表是仅有的共享只读数据。所有外部调用都带
单次超时，失败的检索策略降级为空候选集而不是中断整个请求。
*/
package rag
