// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"company-qa-go/internal/config"
	"company-qa-go/internal/model"
	"company-qa-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// ESClient 是全局的 Elasticsearch 客户端实例。
var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端，并确保知识库索引存在。
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(client, esCfg.IndexName, dims)
}

// indexMapping 返回知识库索引的 mapping，向量使用 cosine 相似度，
// 此时 kNN 得分为 (1 + cosine) / 2，落在 [0,1]。
func indexMapping(dims int) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id":  { "type": "keyword" },
				"namespace":  { "type": "keyword" },
				"text":       { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"row_number": { "type": "integer" },
				"row_id":     { "type": "keyword" },
				"question":   { "type": "text" },
				"answer":     { "type": "text" },
				"link":       { "type": "keyword", "index": false },
				"category":   { "type": "keyword" },
				"keywords":   { "type": "text" },
				"source":     { "type": "keyword" }
			}
		}
	}`, dims)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(client *elasticsearch.Client, indexName string, dims int) error {
	res, err := client.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithBody(strings.NewReader(indexMapping(dims))),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// VectorIndex 是基于 Elasticsearch kNN 检索的向量索引，按 namespace 字段分区。
type VectorIndex struct {
	client    *elasticsearch.Client
	indexName string
}

// NewVectorIndex 创建一个新的 VectorIndex。
func NewVectorIndex(client *elasticsearch.Client, indexName string) *VectorIndex {
	return &VectorIndex{client: client, indexName: indexName}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string           `json:"_id"`
			Score  float64          `json:"_score"`
			Source model.EsDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Query 在指定 namespace 内返回与 vector 最相近的 topK 个条目，按得分降序。
// Match.Score 是余弦相似度，取值 [0,1]。
func (v *VectorIndex) Query(ctx context.Context, vector []float32, topK int, namespace string) ([]model.Match, error) {
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": topK * 10,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{"namespace": namespace},
			},
		},
		"size": topK,
		"_source": map[string]interface{}{
			"excludes": []string{"vector"},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := v.client.Search(
		v.client.Search.WithContext(ctx),
		v.client.Search.WithIndex(v.indexName),
		v.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[VectorIndex] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	matches := make([]model.Match, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		matches = append(matches, model.Match{
			ID:       hit.ID,
			Score:    cosineFromScore(hit.Score),
			Metadata: hit.Source.MatchMetadata,
		})
	}
	return matches, nil
}

// cosineFromScore 把 kNN 得分 (1 + cos) / 2 还原为余弦相似度，负值截为 0。
// 相似度阈值与置信度都按余弦相似度取值。
func cosineFromScore(score float64) float64 {
	return math.Max(0, 2*score-1)
}

// DeleteNamespace 删除 namespace 内的全部文档。
func (v *VectorIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	body := fmt.Sprintf(`{"query":{"term":{"namespace":%q}}}`, namespace)
	res, err := v.client.DeleteByQuery(
		[]string{v.indexName},
		strings.NewReader(body),
		v.client.DeleteByQuery.WithContext(ctx),
		v.client.DeleteByQuery.WithRefresh(true),
		v.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete_by_query failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch delete_by_query returned an error: %s", res.String())
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert 使用 bulk 接口写入文档，VectorID 作为文档 ID。
func (v *VectorIndex) Upsert(ctx context.Context, docs []model.EsDocument) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]interface{}{
			"index": map[string]interface{}{"_index": v.indexName, "_id": doc.VectorID},
		}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	res, err := v.client.Bulk(
		&buf,
		v.client.Bulk.WithContext(ctx),
		v.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch bulk returned an error: %s", res.String())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if parsed.Errors {
		for _, item := range parsed.Items {
			for _, r := range item {
				if r.Error != nil {
					return fmt.Errorf("bulk item failed with status %d: %s", r.Status, r.Error.Reason)
				}
			}
		}
		return errors.New("bulk request reported errors")
	}
	return nil
}
