package model

// EsDocument 定义了存储在 Elasticsearch 中的知识库向量文档。
type EsDocument struct {
	VectorID  string    `json:"vector_id"`
	Namespace string    `json:"namespace"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	MatchMetadata
}
