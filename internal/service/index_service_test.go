package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"company-qa-go/internal/model"
	"company-qa-go/pkg/tasks"
)

const testSheet = "id,question,answer,link,category,keywords,active\n" +
	"r1,如何退款？,七天內可退款,https://example.com/refund,付款,退款,TRUE\n" +
	"r2,營業時間？,週一至週五,,,,TRUE\n" +
	",沒有 ID 的問題,答案,,,,TRUE\n" +
	"r4,停用,舊答案,,,,FALSE\n"

type indexFixture struct {
	fetcher  *fakeSheetFetcher
	embedder *fakeEmbedder
	writer   *fakeVectorWriter
	clearer  *fakeClearer
	state    *fakeSyncState
	svc      IndexService
}

func newIndexFixture(sheet string) *indexFixture {
	f := &indexFixture{
		fetcher:  &fakeSheetFetcher{csv: sheet},
		embedder: &fakeEmbedder{},
		writer:   &fakeVectorWriter{},
		clearer:  &fakeClearer{},
		state:    &fakeSyncState{},
	}
	f.svc = NewIndexService(f.fetcher, f.embedder, f.writer, f.clearer, f.state, "company-qa-bot")
	return f
}

func TestChunkText(t *testing.T) {
	full := model.KnowledgeRecord{Question: "q", Answer: "a", Category: "c", Keywords: "k", Link: "https://x"}
	assert.Equal(t, "Category: c\nQuestion: q\nAnswer: a\nKeywords: k", ChunkText(full))
	assert.Equal(t, "Question: q\nAnswer: a", ChunkText(model.KnowledgeRecord{Question: "q", Answer: "a"}))
}

func TestVectorIDIsStable(t *testing.T) {
	withID := model.KnowledgeRecord{RowNumber: 5, ID: "r1", Question: "q"}
	assert.Equal(t, VectorID(withID), VectorID(withID))
	assert.Len(t, VectorID(withID), 32)

	// 没有 id 时使用行号
	a := model.KnowledgeRecord{RowNumber: 5, Question: "q"}
	b := model.KnowledgeRecord{RowNumber: 6, Question: "q"}
	assert.NotEqual(t, VectorID(a), VectorID(b))
}

func TestSheetHashIgnoresRowOrder(t *testing.T) {
	r1 := model.KnowledgeRecord{RowNumber: 2, Question: "q1", Answer: "a1"}
	r2 := model.KnowledgeRecord{RowNumber: 3, Question: "q2", Answer: "a2"}
	assert.Equal(t, SheetHash([]model.KnowledgeRecord{r1, r2}), SheetHash([]model.KnowledgeRecord{r2, r1}))

	changed := r2
	changed.Answer = "new"
	assert.NotEqual(t, SheetHash([]model.KnowledgeRecord{r1, r2}), SheetHash([]model.KnowledgeRecord{r1, changed}))
}

func TestReindex(t *testing.T) {
	f := newIndexFixture(testSheet)

	summary, err := f.svc.Reindex(context.Background(), "company-qa/sheet1.csv")
	require.NoError(t, err)

	assert.Equal(t, "success", summary.Status)
	assert.Equal(t, 3, summary.RecordCount)
	assert.Equal(t, 3, summary.VectorCount)
	assert.Equal(t, []string{"company-qa/sheet1.csv"}, f.fetcher.objects)
	assert.Equal(t, []string{"company-qa-bot"}, f.writer.deleted)
	assert.Equal(t, 1, f.clearer.clears)

	require.Len(t, f.writer.upserts, 1)
	docs := f.writer.upserts[0]
	first := docs[0]
	assert.Equal(t, "company-qa-bot", first.Namespace)
	assert.Equal(t, 2, first.RowNumber)
	assert.Equal(t, "r1", first.RowID)
	assert.Equal(t, "https://example.com/refund", first.Link)
	assert.Equal(t, "company-qa-sheet", first.Source)
	assert.NotContains(t, first.Text, "https://example.com/refund", "links are metadata only")
	assert.NotEmpty(t, first.Vector)
	assert.Equal(t, 4, docs[2].RowNumber)
}

func TestReindexBatchesLargeSheets(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("question,answer\n")
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&sb, "q%d,a%d\n", i, i)
	}
	f := newIndexFixture(sb.String())

	summary, err := f.svc.Reindex(context.Background(), "sheet.csv")
	require.NoError(t, err)

	assert.Equal(t, 120, summary.VectorCount)
	require.Len(t, f.embedder.batches, 3)
	assert.Len(t, f.embedder.batches[0], 50)
	assert.Len(t, f.embedder.batches[2], 20)
	assert.Len(t, f.writer.upserts, 3)
	assert.Equal(t, 120, f.writer.total())
}

func TestReindexEmptySheetIsSkipped(t *testing.T) {
	f := newIndexFixture("question,answer,active\nq,a,FALSE\n")

	summary, err := f.svc.Reindex(context.Background(), "sheet.csv")
	require.NoError(t, err)

	assert.Equal(t, "skipped", summary.Status)
	assert.Equal(t, "no_active_records", summary.Reason)
	assert.Empty(t, f.writer.deleted)
	assert.Zero(t, f.clearer.clears)
}

func TestReindexFailures(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		f := newIndexFixture(testSheet)
		f.fetcher.err = errors.New("no such key")
		_, err := f.svc.Reindex(context.Background(), "sheet.csv")
		assert.Error(t, err)
	})
	t.Run("embedding", func(t *testing.T) {
		f := newIndexFixture(testSheet)
		f.embedder.err = errors.New("rate limited")
		_, err := f.svc.Reindex(context.Background(), "sheet.csv")
		assert.Error(t, err)
		assert.Empty(t, f.writer.deleted, "the index is untouched when embedding fails")
		assert.Zero(t, f.clearer.clears)
	})
	t.Run("upsert", func(t *testing.T) {
		f := newIndexFixture(testSheet)
		f.writer.upsertErr = errors.New("bulk rejected")
		_, err := f.svc.Reindex(context.Background(), "sheet.csv")
		assert.Error(t, err)
		assert.Zero(t, f.clearer.clears)
	})
	t.Run("delete namespace is tolerated", func(t *testing.T) {
		f := newIndexFixture(testSheet)
		f.writer.deleteErr = errors.New("index_not_found")
		_, err := f.svc.Reindex(context.Background(), "sheet.csv")
		assert.NoError(t, err)
		assert.Equal(t, 3, f.writer.total())
	})
}

func TestSyncIfChanged(t *testing.T) {
	f := newIndexFixture(testSheet)
	ctx := context.Background()

	first, err := f.svc.SyncIfChanged(ctx, "sheet.csv")
	require.NoError(t, err)
	assert.Equal(t, "success", first.Status)
	assert.Equal(t, "scheduled_sync", first.TriggeredBy)
	assert.NotEmpty(t, f.state.hash)

	second, err := f.svc.SyncIfChanged(ctx, "sheet.csv")
	require.NoError(t, err)
	assert.Equal(t, "skipped", second.Status)
	assert.Equal(t, "no_changes", second.Reason)
	assert.Len(t, f.writer.upserts, 1)

	f.fetcher.csv = testSheet + "r5,新問題,新答案,,,,TRUE\n"
	third, err := f.svc.SyncIfChanged(ctx, "sheet.csv")
	require.NoError(t, err)
	assert.Equal(t, "success", third.Status)
	assert.Equal(t, 4, third.VectorCount)
}

func TestProcessRunsReindex(t *testing.T) {
	f := newIndexFixture(testSheet)
	err := f.svc.Process(context.Background(), tasks.ReindexTask{ID: "t1", Object: "custom.csv", RequestedBy: tasks.SourceWebhook})
	require.NoError(t, err)
	assert.Equal(t, []string{"custom.csv"}, f.fetcher.objects)
	assert.Equal(t, 3, f.writer.total())

	f.fetcher.err = errors.New("gone")
	assert.Error(t, f.svc.Process(context.Background(), tasks.ReindexTask{ID: "t2", Object: "custom.csv"}))
}
