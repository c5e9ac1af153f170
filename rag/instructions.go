package rag

import "github.com/BaSui01/docrag/types"

// ====== 任务指令块 ======

// taskInstructions 按任务类型注入的固定指令块。
// 指令在压缩核算之前拼入上下文，其 token 计入预算。
var taskInstructions = map[types.Task]string{
	types.TaskSummarize: "Задача: кратко и структурированно изложи содержание приведённых фрагментов. " +
		"Ссылайся на фрагменты по номерам в квадратных скобках.",

	types.TaskAnalyze: "Задача: проанализируй приведённые фрагменты — ключевые положения, их связи и следствия. " +
		"Ссылайся на фрагменты по номерам в квадратных скобках.",

	types.TaskFindLoopholes: "Задача: найди в приведённых фрагментах лазейки — неоднозначные формулировки, " +
		"пробелы в регулировании и положения, допускающие обход. Для каждой лазейки укажи фрагмент-источник.",

	types.TaskFindContradictions: "Задача: найди противоречия между положениями приведённых фрагментов. " +
		"Для каждого противоречия укажи оба фрагмента-источника.",

	types.TaskFindPenalties: "Задача: перечисли штрафы, санкции и меры ответственности из приведённых фрагментов, " +
		"с указанием условий применения и фрагмента-источника.",

	types.TaskFindRequirements: "Задача: перечисли обязательные требования из приведённых фрагментов — " +
		"кто обязан, что именно и в какие сроки. Укажи фрагмент-источник для каждого требования.",

	types.TaskCompare: "Задача: сравни приведённые разделы — общее, различия и практические следствия различий. " +
		"Ссылайся на фрагменты по номерам в квадратных скобках.",

	types.TaskSearch: "Задача: ответь на вопрос строго по приведённым фрагментам. " +
		"Если фрагментов недостаточно, скажи об этом прямо. Ссылайся на фрагменты по номерам.",
}

// InstructionFor 返回任务对应的指令块；未知任务退回通用检索指令
func InstructionFor(task types.Task) string {
	if instruction, ok := taskInstructions[task]; ok {
		return instruction
	}
	return taskInstructions[types.TaskSearch]
}
