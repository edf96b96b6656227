package service

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"company-qa-go/internal/model"
)

// SSEWriter 把流式事件编码为 Server-Sent Events：每个事件一行 "data: <json>"，后跟一个空行。
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter 创建 SSEWriter；w 实现 http.Flusher 时每个事件写完即刷新。
func NewSSEWriter(w io.Writer) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

// WriteEvent 实现 EventWriter。
func (s *SSEWriter) WriteEvent(event model.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode stream event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
