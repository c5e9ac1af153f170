package types

// Scope classifies how much of a document a query targets.
type Scope string

const (
	ScopeSingleSection    Scope = "single_section"
	ScopeMultipleSections Scope = "multiple_sections"
	ScopeFullDocument     Scope = "full_document"
	ScopeComparison       Scope = "comparison"
	ScopeSearch           Scope = "search"
)

// Task classifies what the user wants done with the retrieved text.
type Task string

const (
	TaskSummarize          Task = "summarize"
	TaskAnalyze            Task = "analyze"
	TaskFindLoopholes      Task = "find_loopholes"
	TaskFindContradictions Task = "find_contradictions"
	TaskFindPenalties      Task = "find_penalties"
	TaskFindRequirements   Task = "find_requirements"
	TaskCompare            Task = "compare"
	TaskSearch             Task = "search"
)

// Intent is the classified scope/task/target of a user query.
// It is created per request and never persisted.
type Intent struct {
	Scope       Scope    `json:"scope"`
	Sections    []string `json:"sections"`
	Task        Task     `json:"task"`
	SearchQuery string   `json:"search_query,omitempty"`
	Reasoning   string   `json:"reasoning,omitempty"`
}

// Chunk is a fixed-size slice of a document's text, produced by the
// external ingestion pipeline and read-only to this subsystem.
type Chunk struct {
	DocumentID   string    `json:"document_id"`
	Index        int       `json:"chunk_index"`
	Content      string    `json:"content"`
	ChapterLabel string    `json:"chapter_label,omitempty"`
	Embedding    []float64 `json:"embedding,omitempty"`
}

// Candidate is a retrieved chunk annotated with retrieval scores.
// Transient: produced by retrieval strategies, consumed by the reranker.
type Candidate struct {
	ChunkID         string   `json:"chunk_id"`
	DocumentID      string   `json:"document_id"`
	ChunkIndex      int      `json:"chunk_index"`
	Content         string   `json:"content"`
	ChapterLabel    string   `json:"chapter_label,omitempty"`
	Similarity      float64  `json:"similarity"`
	KeywordScore    float64  `json:"keyword_score,omitempty"`
	CombinedScore   float64  `json:"combined_score,omitempty"`
	MatchingQueries []string `json:"matching_queries,omitempty"`
}

// Score returns the best available ordering score for the candidate.
func (c Candidate) Score() float64 {
	if c.CombinedScore > 0 {
		return c.CombinedScore
	}
	return c.Similarity
}

// RerankedResult is a candidate with its model-judged relevance score.
type RerankedResult struct {
	Candidate
	RerankScore float64 `json:"rerank_score"`
}

// Citation identifies the source of one context block.
type Citation struct {
	Index      int     `json:"index"`
	DocumentID string  `json:"document_id"`
	Section    string  `json:"section,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
}

// DebugTrace records pipeline internals for one request.
// Present only when the caller requests debug mode.
type DebugTrace struct {
	RequestID              string   `json:"request_id"`
	OriginalQuery          string   `json:"original_query"`
	Strategies             []string `json:"strategies"`
	SubQueries             []string `json:"sub_queries,omitempty"`
	CandidatesBeforeRerank int      `json:"candidates_before_rerank"`
	CandidatesAfterRerank  int      `json:"candidates_after_rerank"`
	AgentIterations        int      `json:"agent_iterations,omitempty"`
	Warnings               []string `json:"warnings,omitempty"`
	DroppedChunks          int      `json:"dropped_chunks,omitempty"`
	BatchCount             int      `json:"batch_count,omitempty"`
}

// RetrievalContext is the final assembled context handed to generation.
type RetrievalContext struct {
	Text       string      `json:"text"`
	Citations  []Citation  `json:"citations"`
	DebugTrace *DebugTrace `json:"debug_trace,omitempty"`
}

// ChapterInfo describes one chapter's chunk range within a document.
type ChapterInfo struct {
	Label           string `json:"label"`
	StartChunkIndex int    `json:"start_chunk_index"`
	EndChunkIndex   int    `json:"end_chunk_index"`
}

// DocumentStructure summarizes a document's layout in the chunk store.
type DocumentStructure struct {
	Chapters    []ChapterInfo `json:"chapters"`
	TotalChunks int           `json:"total_chunks"`
	TotalChars  int           `json:"total_chars"`
}
