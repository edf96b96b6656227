package service

import (
	"context"
	"fmt"

	"company-qa-go/internal/model"
	"company-qa-go/pkg/embedding"
	"company-qa-go/pkg/log"
)

// VectorIndex 是相似度检索的后端，返回结果按得分降序。
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, topK int, namespace string) ([]model.Match, error)
}

// RetrieverConfig 是检索的固定参数。
type RetrieverConfig struct {
	TopK                int
	SimilarityThreshold float64
	Namespace           string
}

// Retriever 把查询向量化后在知识库 namespace 中检索，并按阈值过滤。
type Retriever struct {
	embeddingClient embedding.Client
	index           VectorIndex
	cfg             RetrieverConfig
}

// NewRetriever 创建一个新的 Retriever。
func NewRetriever(embeddingClient embedding.Client, index VectorIndex, cfg RetrieverConfig) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Retriever{embeddingClient: embeddingClient, index: index, cfg: cfg}
}

// Retrieve 返回得分不低于阈值的匹配，最多 TopK 条，保持索引给出的降序。
// 没有匹配时返回空切片而不是错误。
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]model.Match, error) {
	vector, err := r.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[Retriever] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	candidates, err := r.index.Query(ctx, vector, r.cfg.TopK, r.cfg.Namespace)
	if err != nil {
		log.Errorf("[Retriever] 向量索引检索失败: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	}

	matches := make([]model.Match, 0, len(candidates))
	for _, c := range candidates {
		if len(matches) == r.cfg.TopK {
			break
		}
		if c.Score < r.cfg.SimilarityThreshold {
			continue
		}
		c.Score = round4(c.Score)
		matches = append(matches, c)
	}

	log.Infof("[Retriever] 检索到 %d 条匹配 (候选 %d 条), query: '%s'", len(matches), len(candidates), truncate(query, 50))
	return matches, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
