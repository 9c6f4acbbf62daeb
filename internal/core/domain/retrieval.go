package domain

import "time"

// Provenance records which recall path produced a hit.
type Provenance string

const (
	ProvenanceVectorChild  Provenance = "vector_child"
	ProvenanceVectorParent Provenance = "vector_parent"
	ProvenanceKeyword      Provenance = "keyword"
	ProvenanceKeywordBoost Provenance = "keyword_boost"
)

// SearchScope restricts recall to one owner. An empty owner searches all.
type SearchScope struct {
	OwnerID string
}

// SearchFilter is applied by the indexes during recall.
type SearchFilter struct {
	OwnerID  string
	FileType FileType
}

type SearchRequest struct {
	Query     string
	Keywords  []string
	TopK      int
	Scope     SearchScope
	TimeRange string
	FileType  FileType
}

// TimeRange is a closed interval [Start, End].
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

type SearchHit struct {
	DocumentID    int64      `json:"document_id"`
	Score         float64    `json:"score"`
	OriginalScore float64    `json:"original_score"`
	Provenance    Provenance `json:"provenance"`
	Snippet       string     `json:"snippet"`
	Filename      string     `json:"filename"`
	Category      string     `json:"category,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	FileType      FileType   `json:"file_type"`
	StoragePath   string     `json:"storage_path"`
	SemanticDate  *time.Time `json:"semantic_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ChunkMatch is a chunk recalled by vector distance, joined to its parent.
type ChunkMatch struct {
	Document   Document
	ChunkIndex int
	Content    string
	Distance   float64
}

// DocumentMatch is a parent recalled by its coarse embedding.
type DocumentMatch struct {
	Document Document
	Distance float64
}

// RerankScore is a raw relevance logit for the candidate at Index.
type RerankScore struct {
	Index int
	Raw   float64
}
