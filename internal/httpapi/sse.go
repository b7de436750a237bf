package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/fluidmcp/gateway/internal/llm"
)

// sseWriter wraps an http.ResponseWriter with SSE event writing and client
// disconnect detection. Chat completions use the OpenAI streaming wire
// format (plain "data: {...}" frames terminated by "data: [DONE]") rather
// than named events, since these endpoints are meant as drop-in
// OpenAI-compatible proxies.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
}

func newSSEWriter(w http.ResponseWriter, r *http.Request) *sseWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher, ctx: r.Context()}
}

// sendChunk writes one OpenAI-style streaming chunk. Returns false once the
// client has disconnected, signaling the caller to stop producing chunks.
func (s *sseWriter) sendChunk(data any) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("[SSE] marshal chunk: %v", err)
		return false
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		log.Printf("[SSE] write chunk (client disconnected?): %v", err)
		return false
	}
	s.flusher.Flush()
	return true
}

func (s *sseWriter) sendDone() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

type streamChunk struct {
	Model string `json:"model"`
	Delta string `json:"delta"`
}

// streamChatCompletion runs a streaming completion against modelID and
// relays each token to the client as it arrives. Function calling is not
// offered on the streaming path -- the router needs a complete response
// before it can inspect tool_calls, so streaming always degrades to
// Dispatcher.CompletionsStream's plain-completion behavior.
func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, modelID string, messages []llm.Message) {
	sw := newSSEWriter(w, r)
	if sw == nil {
		return
	}

	_, err := s.dispatch.CompletionsStream(r.Context(), modelID, messages, func(chunk string) {
		sw.sendChunk(streamChunk{Model: modelID, Delta: chunk})
	})
	if err != nil {
		sw.sendChunk(map[string]string{"error": err.Error()})
	}
	sw.sendDone()
}
