package service

import "errors"

// 问答引擎的错误类型。外部调用失败时以 fmt.Errorf("%w: %w", kind, cause) 包装，
// 调用方可用 errors.Is 同时判断类型与底层原因。
var (
	// ErrEmptyQuery 表示查询为空，在任何外部调用之前拒绝。
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrEmbeddingUnavailable 表示查询向量化失败。
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrRetrievalUnavailable 表示向量索引检索失败。
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrGenerationUnavailable 表示检索成功后补全接口失败。
	ErrGenerationUnavailable = errors.New("generation unavailable")
)
