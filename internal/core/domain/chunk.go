package domain

// MinChunkLength is the shortest chunk content, in characters, that is indexed.
const MinChunkLength = 10

type ChunkMeta struct {
	SourceLength int  `json:"source_length"`
	IsImageDesc  bool `json:"is_image_desc"`
}

// Chunk is a child embedding of a document.
type Chunk struct {
	ID         int64     `json:"id"`
	ParentID   int64     `json:"parent_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	Meta       ChunkMeta `json:"metadata"`
}
