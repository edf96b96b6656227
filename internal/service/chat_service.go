// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"company-qa-go/internal/cache"
	"company-qa-go/internal/model"
	"company-qa-go/pkg/llm"
	"company-qa-go/pkg/log"
)

// ErrStreamAborted 表示流式问答在完成前被中断（调用方断开或写入失败）。
var ErrStreamAborted = errors.New("stream aborted")

// ChatRequest 是一次问答请求。History 为空时结果可被缓存。
type ChatRequest struct {
	Query   string
	History []model.ChatTurn
}

// EventWriter 接收流式问答的事件，返回错误即中止流。
type EventWriter interface {
	WriteEvent(event model.StreamEvent) error
}

// ContextRetriever 为查询检索知识库匹配。
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) ([]model.Match, error)
}

// ChatService 定义了问答引擎的接口。
type ChatService interface {
	// Chat 以阻塞模式生成完整答案。
	Chat(ctx context.Context, req ChatRequest) (*model.ChatResult, error)
	// ChatStream 依次向 w 写入 metadata、若干 chunk 与 done 事件，并返回完整结果。
	ChatStream(ctx context.Context, req ChatRequest, w EventWriter) (*model.ChatResult, error)
}

// ChatServiceConfig 是引擎的生成参数。
type ChatServiceConfig struct {
	Model      string
	Generation *llm.GenerationParams
}

type chatService struct {
	retriever ContextRetriever
	prompts   *PromptBuilder
	llmClient llm.Client
	cache     *cache.ResponseCache
	cfg       ChatServiceConfig
	now       func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。responseCache 为 nil 时不做缓存。
func NewChatService(retriever ContextRetriever, prompts *PromptBuilder, llmClient llm.Client, responseCache *cache.ResponseCache, cfg ChatServiceConfig) ChatService {
	return &chatService{
		retriever: retriever,
		prompts:   prompts,
		llmClient: llmClient,
		cache:     responseCache,
		cfg:       cfg,
		now:       time.Now,
	}
}

// grounding 是生成开始前即可确定的部分：消息、来源与置信度。
type grounding struct {
	messages   []llm.Message
	sources    []model.Source
	confidence float64
	matches    int
	outcome    model.Outcome
}

func (g *grounding) result(answer, modelName string, latency float64) *model.ChatResult {
	return &model.ChatResult{
		Answer:         answer,
		Sources:        g.sources,
		Confidence:     g.confidence,
		LatencySeconds: latency,
		Model:          modelName,
		MatchesFound:   g.matches,
		Outcome:        g.outcome,
	}
}

func (s *chatService) cacheable(req ChatRequest) bool {
	return s.cache != nil && len(req.History) == 0
}

func (s *chatService) elapsed(start time.Time) float64 {
	return math.Round(s.now().Sub(start).Seconds()*1000) / 1000
}

func (s *chatService) cached(req ChatRequest, start time.Time) (*model.ChatResult, bool) {
	if !s.cacheable(req) {
		return nil, false
	}
	hit, ok := s.cache.Get(req.Query)
	if !ok {
		return nil, false
	}
	hit.Cached = true
	hit.LatencySeconds = s.elapsed(start)
	log.Infof("[ChatService] 命中缓存, query: '%s'", truncate(req.Query, 50))
	return &hit, true
}

// ground 检索并组装提示词。检索失败时不会退化为无依据的生成。
func (s *chatService) ground(ctx context.Context, req ChatRequest) (*grounding, error) {
	matches, err := s.retriever.Retrieve(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	contextBlock := s.prompts.BuildContext(matches)
	turns := s.prompts.BuildPrompt(req.Query, contextBlock, req.History)
	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}

	outcome := model.OutcomeAnswered
	if len(matches) == 0 {
		outcome = model.OutcomeDeclinedNoMatch
	}
	return &grounding{
		messages:   messages,
		sources:    model.SourcesFromMatches(matches),
		confidence: Confidence(matches),
		matches:    len(matches),
		outcome:    outcome,
	}, nil
}

// Chat 协调 RAG 流程并以阻塞方式返回答案。
func (s *chatService) Chat(ctx context.Context, req ChatRequest) (*model.ChatResult, error) {
	start := s.now()
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if hit, ok := s.cached(req, start); ok {
		return hit, nil
	}

	g, err := s.ground(ctx, req)
	if err != nil {
		return nil, err
	}

	answer, err := s.llmClient.Chat(ctx, g.messages, s.cfg.Generation)
	if err != nil {
		log.Errorf("[ChatService] 调用 LLM 失败: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}

	result := g.result(answer, s.cfg.Model, s.elapsed(start))
	if s.cacheable(req) {
		s.cache.Put(req.Query, *result)
	}
	log.Infow("[ChatService] 生成回答",
		"confidence", result.Confidence,
		"sources", len(result.Sources),
		"outcome", result.Outcome,
		"latency", result.LatencySeconds,
	)
	return result, nil
}

// ChatStream 协调 RAG 流程并流式下发答案。metadata 事件总在第一个 chunk 之前；
// 中途取消或写入失败时停止拉取分块，且不写缓存。
func (s *chatService) ChatStream(ctx context.Context, req ChatRequest, w EventWriter) (*model.ChatResult, error) {
	start := s.now()
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}

	if hit, ok := s.cached(req, start); ok {
		events := []model.StreamEvent{
			model.MetadataEvent(hit.Sources, hit.Confidence, hit.MatchesFound, hit.Model, true),
			model.ChunkEvent(hit.Answer),
			model.DoneEvent(hit.Answer, hit.LatencySeconds),
		}
		for _, ev := range events {
			if err := w.WriteEvent(ev); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrStreamAborted, err)
			}
		}
		return hit, nil
	}

	g, err := s.ground(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := w.WriteEvent(model.MetadataEvent(g.sources, g.confidence, g.matches, s.cfg.Model, false)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamAborted, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := s.llmClient.ChatStream(streamCtx, g.messages, s.cfg.Generation)
	if err != nil {
		log.Errorf("[ChatService] 调用 LLM 流式接口失败: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}

	var answer strings.Builder
	for {
		// 已取消时不再拉取下一个分块
		if err := ctx.Err(); err != nil {
			log.Warnf("[ChatService] 流式问答被取消, 已生成 %d 字节, 不写入缓存", answer.Len())
			return nil, fmt.Errorf("%w: %w", ErrStreamAborted, err)
		}
		chunk, ok := <-chunks
		if !ok {
			break
		}
		if chunk.Err != nil {
			log.Errorf("[ChatService] LLM 流式读取失败: %v", chunk.Err)
			return nil, fmt.Errorf("%w: %w", ErrGenerationUnavailable, chunk.Err)
		}
		answer.WriteString(chunk.Content)
		if err := w.WriteEvent(model.ChunkEvent(chunk.Content)); err != nil {
			log.Warnf("[ChatService] 下发分块失败，停止生成: %v", err)
			return nil, fmt.Errorf("%w: %w", ErrStreamAborted, err)
		}
	}
	// 生产方在 ctx 取消时会直接关闭 channel
	if err := ctx.Err(); err != nil {
		log.Warnf("[ChatService] 流式问答被取消, 已生成 %d 字节, 不写入缓存", answer.Len())
		return nil, fmt.Errorf("%w: %w", ErrStreamAborted, err)
	}

	result := g.result(answer.String(), s.cfg.Model, s.elapsed(start))
	if s.cacheable(req) {
		s.cache.Put(req.Query, *result)
	}
	if err := w.WriteEvent(model.DoneEvent(result.Answer, result.LatencySeconds)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamAborted, err)
	}
	log.Infow("[ChatService] 流式回答完成",
		"confidence", result.Confidence,
		"sources", len(result.Sources),
		"outcome", result.Outcome,
		"latency", result.LatencySeconds,
	)
	return result, nil
}
