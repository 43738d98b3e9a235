package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// sseWriter frames JSON-RPC responses as server-sent events on one HTTP
// response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for streaming. Fails if the
// underlying writer cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// send writes one `data:` frame carrying a JSON-RPC response.
func (s *sseWriter) send(resp *a2a.JSONRPCResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// streamTaskEvents writes each task event as an SSE frame until the
// stream's final event, the subscriber is dropped, or the client goes
// away.
func (s *Server) streamTaskEvents(w http.ResponseWriter, r *http.Request, reqID any, sub *TaskSubscriber) {
	writer, err := newSSEWriter(w)
	if err != nil {
		s.hub.Unsubscribe(sub)
		writeError(w, reqID, a2a.ErrInternalError(err))
		return
	}
	defer s.hub.Unsubscribe(sub)

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writer.send(a2a.NewResponse(reqID, event.Result)); err != nil {
				s.logger.Debug("task stream write failed", zap.Error(err))
				return
			}
			if event.Final {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// streamKnowledgeEvents writes knowledge change events as SSE frames until
// the subscription ends or the client disconnects. A dropped subscription
// surfaces its error as a final frame.
func (s *Server) streamKnowledgeEvents(w http.ResponseWriter, r *http.Request, reqID any, sub *knowledgeSubscription) {
	writer, err := newSSEWriter(w)
	if err != nil {
		sub.cancel()
		writeError(w, reqID, a2a.ErrInternalError(err))
		return
	}
	defer sub.cancel()

	for {
		select {
		case event, ok := <-sub.events:
			if !ok {
				if serr := sub.err(); serr != nil {
					resp := a2a.NewErrorResponse(reqID, a2a.AsError(serr).ToJSONRPCError())
					if err := writer.send(resp); err != nil {
						s.logger.Debug("knowledge stream write failed", zap.Error(err))
					}
				}
				return
			}
			if err := writer.send(a2a.NewResponse(reqID, event)); err != nil {
				s.logger.Debug("knowledge stream write failed", zap.Error(err))
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
