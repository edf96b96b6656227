package service

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"company-qa-go/internal/model"
	"company-qa-go/internal/repository"
	"company-qa-go/pkg/embedding"
	"company-qa-go/pkg/log"
	"company-qa-go/pkg/tasks"
)

const (
	indexBatchSize = 50
	sheetSource    = "company-qa-sheet"
)

// SheetFetcher 读取知识库表格对象。
type SheetFetcher interface {
	FetchSheet(ctx context.Context, object string) (io.ReadCloser, error)
}

// VectorWriter 是向量索引的写入端。
type VectorWriter interface {
	DeleteNamespace(ctx context.Context, namespace string) error
	Upsert(ctx context.Context, docs []model.EsDocument) error
}

// CacheClearer 在知识库变更后失效问答缓存。
type CacheClearer interface {
	Clear()
}

// ReindexSummary 是一次重建索引的结果。
type ReindexSummary struct {
	Status         string  `json:"status"`
	Reason         string  `json:"reason,omitempty"`
	RecordCount    int     `json:"record_count"`
	VectorCount    int     `json:"vector_count"`
	Namespace      string  `json:"namespace,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	TriggeredBy    string  `json:"triggered_by,omitempty"`
}

// IndexService 负责把知识库表格重建到向量索引中。
type IndexService interface {
	// Reindex 全量重建：读取表格、向量化、清空 namespace、写入，并清空问答缓存。
	Reindex(ctx context.Context, object string) (*ReindexSummary, error)
	// SyncIfChanged 仅在表格内容哈希变化时重建。
	SyncIfChanged(ctx context.Context, object string) (*ReindexSummary, error)
	// Process 执行队列中的重建任务。
	Process(ctx context.Context, task tasks.ReindexTask) error
}

type indexService struct {
	fetcher         SheetFetcher
	embeddingClient embedding.Client
	writer          VectorWriter
	cache           CacheClearer
	syncState       repository.SyncStateRepository
	namespace       string
}

// NewIndexService 创建一个新的 IndexService 实例。
func NewIndexService(fetcher SheetFetcher, embeddingClient embedding.Client, writer VectorWriter, cache CacheClearer, syncState repository.SyncStateRepository, namespace string) IndexService {
	return &indexService{
		fetcher:         fetcher,
		embeddingClient: embeddingClient,
		writer:          writer,
		cache:           cache,
		syncState:       syncState,
		namespace:       namespace,
	}
}

// ChunkText 组合用于向量化的文本。链接只存入元数据，不参与向量化。
func ChunkText(rec model.KnowledgeRecord) string {
	parts := make([]string, 0, 4)
	if rec.Category != "" {
		parts = append(parts, "Category: "+rec.Category)
	}
	parts = append(parts, "Question: "+rec.Question, "Answer: "+rec.Answer)
	if rec.Keywords != "" {
		parts = append(parts, "Keywords: "+rec.Keywords)
	}
	return strings.Join(parts, "\n")
}

// RecordMetadata 构建存入索引的元数据，空的可选字段不写入。
func RecordMetadata(rec model.KnowledgeRecord) model.MatchMetadata {
	return model.MatchMetadata{
		RowNumber: rec.RowNumber,
		RowID:     rec.ID,
		Question:  rec.Question,
		Answer:    rec.Answer,
		Link:      rec.Link,
		Category:  rec.Category,
		Keywords:  rec.Keywords,
		Source:    sheetSource,
	}
}

// VectorID 由 id（缺省为行号）与问题生成确定的向量 ID。
func VectorID(rec model.KnowledgeRecord) string {
	identifier := rec.ID
	if identifier == "" {
		identifier = strconv.Itoa(rec.RowNumber)
	}
	sum := md5.Sum([]byte(identifier + "-" + rec.Question))
	return hex.EncodeToString(sum[:])
}

// SheetHash 对记录内容计算与行顺序无关的哈希。
func SheetHash(records []model.KnowledgeRecord) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("%+v", r))
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func (s *indexService) fetchRecords(ctx context.Context, object string) ([]model.KnowledgeRecord, error) {
	rc, err := s.fetcher.FetchSheet(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sheet %s: %w", object, err)
	}
	defer rc.Close()

	records, scanned, err := ParseSheet(rc)
	if err != nil {
		return nil, err
	}
	log.Infof("[IndexService] 读取到 %d 条有效记录 (扫描 %d 行)", len(records), scanned)
	return records, nil
}

func (s *indexService) Reindex(ctx context.Context, object string) (*ReindexSummary, error) {
	records, err := s.fetchRecords(ctx, object)
	if err != nil {
		return nil, err
	}
	return s.reindexRecords(ctx, object, records)
}

func (s *indexService) reindexRecords(ctx context.Context, object string, records []model.KnowledgeRecord) (*ReindexSummary, error) {
	start := time.Now()
	log.Infof("[IndexService] 开始重建索引, object: %s, namespace: %s", object, s.namespace)

	if len(records) == 0 {
		log.Warnf("[IndexService] 没有有效记录，跳过重建")
		return &ReindexSummary{Status: "skipped", Reason: "no_active_records"}, nil
	}

	docs := make([]model.EsDocument, 0, len(records))
	for i := 0; i < len(records); i += indexBatchSize {
		end := i + indexBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[i:end]
		texts := make([]string, len(batch))
		for j, rec := range batch {
			texts[j] = ChunkText(rec)
		}

		log.Infof("[IndexService] 向量化第 %d 批 (%d 条)", i/indexBatchSize+1, len(batch))
		vectors, err := s.embeddingClient.CreateEmbeddings(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d: %w", i/indexBatchSize+1, err)
		}
		for j, rec := range batch {
			docs = append(docs, model.EsDocument{
				VectorID:      VectorID(rec),
				Namespace:     s.namespace,
				Text:          texts[j],
				Vector:        vectors[j],
				MatchMetadata: RecordMetadata(rec),
			})
		}
	}

	if err := s.writer.DeleteNamespace(ctx, s.namespace); err != nil {
		// namespace 可能本来就是空的
		log.Warnf("[IndexService] 清空 namespace '%s' 失败: %v", s.namespace, err)
	}

	for i := 0; i < len(docs); i += indexBatchSize {
		end := i + indexBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := s.writer.Upsert(ctx, docs[i:end]); err != nil {
			return nil, fmt.Errorf("failed to upsert vectors: %w", err)
		}
	}

	s.cache.Clear()

	summary := &ReindexSummary{
		Status:         "success",
		RecordCount:    len(records),
		VectorCount:    len(docs),
		Namespace:      s.namespace,
		ElapsedSeconds: round2(time.Since(start).Seconds()),
	}
	log.Infof("[IndexService] 重建完成, %d 个向量写入 '%s' (%.2fs)", summary.VectorCount, s.namespace, summary.ElapsedSeconds)
	return summary, nil
}

func (s *indexService) SyncIfChanged(ctx context.Context, object string) (*ReindexSummary, error) {
	records, err := s.fetchRecords(ctx, object)
	if err != nil {
		return nil, err
	}

	current := SheetHash(records)
	last, err := s.syncState.GetSheetHash(ctx)
	if err != nil {
		return nil, err
	}
	if current == last {
		log.Info("[IndexService] 表格内容未变化，跳过重建")
		return &ReindexSummary{Status: "skipped", Reason: "no_changes", TriggeredBy: "scheduled_sync"}, nil
	}

	summary, err := s.reindexRecords(ctx, object, records)
	if err != nil {
		return nil, err
	}
	if err := s.syncState.SetSheetHash(ctx, current); err != nil {
		log.Warnf("[IndexService] 保存表格哈希失败: %v", err)
	}
	summary.TriggeredBy = "scheduled_sync"
	return summary, nil
}

func (s *indexService) Process(ctx context.Context, task tasks.ReindexTask) error {
	summary, err := s.Reindex(ctx, task.Object)
	if err != nil {
		return err
	}
	log.Infow("[IndexService] 重建任务完成",
		"task_id", task.ID,
		"requested_by", task.RequestedBy,
		"status", summary.Status,
		"vectors", summary.VectorCount,
	)
	return nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
