package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"company-qa-go/internal/model"
	"company-qa-go/pkg/llm"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	err     error
	calls   int
	batches [][]string
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (f *fakeEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(i)}
	}
	return out, nil
}

type fakeIndex struct {
	matches   []model.Match
	err       error
	calls     int
	topK      int
	namespace string
}

func (f *fakeIndex) Query(ctx context.Context, vector []float32, topK int, namespace string) ([]model.Match, error) {
	f.calls++
	f.topK = topK
	f.namespace = namespace
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Match, len(f.matches))
	copy(out, f.matches)
	return out, nil
}

// fakeLLM 返回固定回答，流式模式下按 fragments 逐个下发。
type fakeLLM struct {
	mu        sync.Mutex
	answer    string
	fragments []string
	err       error
	// streamErrAt >= 0 时在下发第 streamErrAt 个片段前返回读取错误
	streamErrAt int
	calls       int
	messages    [][]llm.Message
	// pulled 记录消费方实际取走的片段数
	pulled int
}

func newFakeLLM(answer string, fragments ...string) *fakeLLM {
	return &fakeLLM{answer: answer, fragments: fragments, streamErrAt: -1}
}

func (f *fakeLLM) record(messages []llm.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = append(f.messages, messages)
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.record(messages)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (<-chan llm.StreamChunk, error) {
	f.record(messages)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for i, frag := range f.fragments {
			chunk := llm.StreamChunk{Content: frag}
			if i == f.streamErrAt {
				chunk = llm.StreamChunk{Err: errors.New("connection reset")}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
				f.mu.Lock()
				f.pulled++
				f.mu.Unlock()
			}
			if chunk.Err != nil {
				return
			}
		}
	}()
	return ch, nil
}

func (f *fakeLLM) pulledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulled
}

func (f *fakeLLM) lastMessages() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil
	}
	return f.messages[len(f.messages)-1]
}

// recordingWriter 收集事件；failAt >= 0 时第 failAt 个事件写入失败，onEvent 在每次写入后调用。
type recordingWriter struct {
	events  []model.StreamEvent
	failAt  int
	onEvent func(n int)
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{failAt: -1}
}

func (w *recordingWriter) WriteEvent(event model.StreamEvent) error {
	if len(w.events) == w.failAt {
		return errors.New("broken pipe")
	}
	w.events = append(w.events, event)
	if w.onEvent != nil {
		w.onEvent(len(w.events))
	}
	return nil
}

func (w *recordingWriter) types() []string {
	out := make([]string, len(w.events))
	for i, e := range w.events {
		out[i] = e.Type
	}
	return out
}

func (w *recordingWriter) chunkText() string {
	var sb strings.Builder
	for _, e := range w.events {
		if e.Type == model.EventChunk {
			sb.WriteString(e.Content)
		}
	}
	return sb.String()
}

type fakeSheetFetcher struct {
	csv     string
	err     error
	objects []string
}

func (f *fakeSheetFetcher) FetchSheet(ctx context.Context, object string) (io.ReadCloser, error) {
	f.objects = append(f.objects, object)
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.csv)), nil
}

type fakeVectorWriter struct {
	deleted   []string
	upserts   [][]model.EsDocument
	deleteErr error
	upsertErr error
}

func (f *fakeVectorWriter) DeleteNamespace(ctx context.Context, namespace string) error {
	f.deleted = append(f.deleted, namespace)
	return f.deleteErr
}

func (f *fakeVectorWriter) Upsert(ctx context.Context, docs []model.EsDocument) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, docs)
	return nil
}

func (f *fakeVectorWriter) total() int {
	n := 0
	for _, b := range f.upserts {
		n += len(b)
	}
	return n
}

type fakeClearer struct{ clears int }

func (f *fakeClearer) Clear() { f.clears++ }

type fakeSyncState struct {
	hash     string
	getErr   error
	attempts map[string]int64
}

func (f *fakeSyncState) GetSheetHash(ctx context.Context) (string, error) {
	return f.hash, f.getErr
}

func (f *fakeSyncState) SetSheetHash(ctx context.Context, hash string) error {
	f.hash = hash
	return nil
}

func (f *fakeSyncState) IncrTaskAttempts(ctx context.Context, taskID string) (int64, error) {
	if f.attempts == nil {
		f.attempts = map[string]int64{}
	}
	f.attempts[taskID]++
	return f.attempts[taskID], nil
}

func (f *fakeSyncState) ResetTaskAttempts(ctx context.Context, taskID string) error {
	delete(f.attempts, taskID)
	return nil
}

type fakeInteractionRepo struct {
	saved   []*model.Message
	err     error
	conv    *model.Conversation
	findErr error
	listErr error
	limit   int
}

func (f *fakeInteractionRepo) SaveMessage(ctx context.Context, msg *model.Message) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, msg)
	return nil
}

func (f *fakeInteractionRepo) FindConversation(ctx context.Context, sessionID string) (*model.Conversation, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.conv, nil
}

func (f *fakeInteractionRepo) ListMessages(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	f.limit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Message
	for _, m := range f.saved {
		if m.SessionID == sessionID {
			out = append(out, *m)
		}
	}
	return out, nil
}
