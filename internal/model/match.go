// Package model 包含了应用的数据模型定义。
package model

// MatchMetadata 是随向量一起存入索引的知识库条目元数据。
type MatchMetadata struct {
	RowNumber int    `json:"row_number"`
	RowID     string `json:"row_id,omitempty"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Link      string `json:"link,omitempty"`
	Category  string `json:"category,omitempty"`
	Keywords  string `json:"keywords,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Match 是一次相似度检索返回的候选条目，Score 取值 [0,1]。
type Match struct {
	ID       string        `json:"id,omitempty"`
	Score    float64       `json:"score"`
	Metadata MatchMetadata `json:"metadata"`
}

// Source 是返回给调用方的引用来源。
type Source struct {
	RowNumber      int     `json:"row_number"`
	Question       string  `json:"question"`
	RelevanceScore float64 `json:"relevance_score"`
	Category       string  `json:"category,omitempty"`
	Link           string  `json:"link,omitempty"`
}

// SourcesFromMatches 按检索顺序把 Match 转换为 Source。
func SourcesFromMatches(matches []Match) []Source {
	sources := make([]Source, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, Source{
			RowNumber:      m.Metadata.RowNumber,
			Question:       m.Metadata.Question,
			RelevanceScore: m.Score,
			Category:       m.Metadata.Category,
			Link:           m.Metadata.Link,
		})
	}
	return sources
}
