package model

import (
	"encoding/json"
	"fmt"
)

// 流式事件类型
const (
	EventMetadata = "metadata"
	EventChunk    = "chunk"
	EventDone     = "done"
	EventError    = "error"
)

// StreamEvent 是流式问答下发给调用方的单个事件。
// 各类型只使用自己的字段，序列化时按类型输出固定的 JSON 结构。
type StreamEvent struct {
	Type string

	// metadata
	Sources      []Source
	Confidence   float64
	MatchesFound int
	Model        string
	Cached       bool

	// chunk
	Content string

	// done
	Answer         string
	LatencySeconds float64

	// error
	Message string
}

type metadataPayload struct {
	Type         string   `json:"type"`
	Sources      []Source `json:"sources"`
	Confidence   float64  `json:"confidence"`
	MatchesFound int      `json:"matches_found"`
	Model        string   `json:"model,omitempty"`
	Cached       bool     `json:"cached,omitempty"`
}

type chunkPayload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type donePayload struct {
	Type           string  `json:"type"`
	Answer         string  `json:"answer"`
	LatencySeconds float64 `json:"latency_seconds"`
}

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MarshalJSON 实现 json.Marshaler。
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventMetadata:
		sources := e.Sources
		if sources == nil {
			sources = []Source{}
		}
		return json.Marshal(metadataPayload{
			Type:         e.Type,
			Sources:      sources,
			Confidence:   e.Confidence,
			MatchesFound: e.MatchesFound,
			Model:        e.Model,
			Cached:       e.Cached,
		})
	case EventChunk:
		return json.Marshal(chunkPayload{Type: e.Type, Content: e.Content})
	case EventDone:
		return json.Marshal(donePayload{Type: e.Type, Answer: e.Answer, LatencySeconds: e.LatencySeconds})
	case EventError:
		return json.Marshal(errorPayload{Type: e.Type, Message: e.Message})
	default:
		return nil, fmt.Errorf("unknown stream event type %q", e.Type)
	}
}

// UnmarshalJSON 实现 json.Unmarshaler，供客户端与测试解析事件。
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type           string   `json:"type"`
		Sources        []Source `json:"sources"`
		Confidence     float64  `json:"confidence"`
		MatchesFound   int      `json:"matches_found"`
		Model          string   `json:"model"`
		Cached         bool     `json:"cached"`
		Content        string   `json:"content"`
		Answer         string   `json:"answer"`
		LatencySeconds float64  `json:"latency_seconds"`
		Message        string   `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = StreamEvent{
		Type:           raw.Type,
		Sources:        raw.Sources,
		Confidence:     raw.Confidence,
		MatchesFound:   raw.MatchesFound,
		Model:          raw.Model,
		Cached:         raw.Cached,
		Content:        raw.Content,
		Answer:         raw.Answer,
		LatencySeconds: raw.LatencySeconds,
		Message:        raw.Message,
	}
	return nil
}

// MetadataEvent 在生成开始前下发来源与置信度。
func MetadataEvent(sources []Source, confidence float64, matchesFound int, model string, cached bool) StreamEvent {
	return StreamEvent{
		Type:         EventMetadata,
		Sources:      sources,
		Confidence:   confidence,
		MatchesFound: matchesFound,
		Model:        model,
		Cached:       cached,
	}
}

func ChunkEvent(content string) StreamEvent {
	return StreamEvent{Type: EventChunk, Content: content}
}

func DoneEvent(answer string, latencySeconds float64) StreamEvent {
	return StreamEvent{Type: EventDone, Answer: answer, LatencySeconds: latencySeconds}
}

func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}
