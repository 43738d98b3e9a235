package server

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/meshwork-ai/a2a-go/a2a"
	"github.com/meshwork-ai/a2a-go/knowledge"
)

// knowledgeSubscription adapts a knowledge change subscription for the
// SSE writer.
type knowledgeSubscription struct {
	events <-chan a2a.KnowledgeGraphChangeEvent
	err    func() error
	cancel func()
}

// handleRPC is the single JSON-RPC endpoint: it parses the envelope,
// applies capability gates, and routes to the engine or knowledge store.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if s.config.AuthValidator != nil {
		if err := s.config.AuthValidator(r, s.config.AgentCard); err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, nil, a2a.ErrParseError(err))
		return
	}

	var req a2a.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, a2a.ErrParseError(err))
		return
	}
	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, a2a.ErrInvalidRequest("jsonrpc must be \"2.0\""))
		return
	}

	s.logger.Debug("dispatching request",
		zap.String("method", req.Method), zap.Any("requestID", req.ID))

	caps := s.config.AgentCard.Capabilities
	switch req.Method {
	case "tasks/send":
		s.handleSendTask(w, r, &req)
	case "tasks/sendSubscribe":
		if !caps.Streaming {
			writeError(w, req.ID, a2a.ErrMethodNotFound(req.Method))
			return
		}
		s.handleSendTaskSubscribe(w, r, &req)
	case "tasks/get":
		s.handleGetTask(w, r, &req)
	case "tasks/cancel":
		s.handleCancelTask(w, r, &req)
	case "tasks/resubscribe":
		if !caps.Streaming {
			writeError(w, req.ID, a2a.ErrMethodNotFound(req.Method))
			return
		}
		s.handleResubscribe(w, r, &req)
	case "tasks/pushNotification/set":
		if !caps.PushNotifications {
			writeError(w, req.ID, a2a.ErrMethodNotFound(req.Method))
			return
		}
		s.handleSetPushConfig(w, r, &req)
	case "tasks/pushNotification/get":
		if !caps.PushNotifications {
			writeError(w, req.ID, a2a.ErrMethodNotFound(req.Method))
			return
		}
		s.handleGetPushConfig(w, r, &req)
	case "knowledge/query":
		if !caps.KnowledgeGraph || s.knowledge == nil {
			writeError(w, req.ID, a2a.ErrMethodNotFound(req.Method))
			return
		}
		s.handleKnowledgeQuery(w, r, &req)
	case "knowledge/update":
		if !caps.KnowledgeGraph || s.knowledge == nil {
			writeError(w, req.ID, a2a.ErrMethodNotFound(req.Method))
			return
		}
		s.handleKnowledgeUpdate(w, r, &req)
	case "knowledge/subscribe":
		if !caps.KnowledgeGraph || !caps.Streaming || s.knowledge == nil {
			writeError(w, req.ID, a2a.ErrMethodNotFound(req.Method))
			return
		}
		s.handleKnowledgeSubscribe(w, r, &req)
	default:
		writeError(w, req.ID, a2a.ErrMethodNotFound(req.Method))
	}
}

// decodeParams unmarshals and validates method params.
func (s *Server) decodeParams(req *a2a.JSONRPCRequest, params any) *a2a.Error {
	if len(req.Params) == 0 {
		return a2a.ErrInvalidParams("missing params")
	}
	if err := json.Unmarshal(req.Params, params); err != nil {
		return a2a.ErrInvalidParams(err.Error())
	}
	if err := s.validate.Struct(params); err != nil {
		return a2a.ErrInvalidParams(err.Error())
	}
	return nil
}

func (s *Server) handleSendTask(w http.ResponseWriter, r *http.Request, req *a2a.JSONRPCRequest) {
	var params a2a.TaskSendParams
	if aerr := s.decodeParams(req, &params); aerr != nil {
		writeError(w, req.ID, aerr)
		return
	}
	if params.PushNotification != nil && !s.config.AgentCard.Capabilities.PushNotifications {
		writeError(w, req.ID, a2a.ErrPushNotificationNotSupported())
		return
	}
	task, err := s.engine.SendTask(r.Context(), &params)
	if err != nil {
		writeError(w, req.ID, a2a.AsError(err))
		return
	}
	writeResult(w, req.ID, task)
}

func (s *Server) handleSendTaskSubscribe(w http.ResponseWriter, r *http.Request, req *a2a.JSONRPCRequest) {
	var params a2a.TaskSendParams
	if aerr := s.decodeParams(req, &params); aerr != nil {
		writeError(w, req.ID, aerr)
		return
	}
	if params.PushNotification != nil && !s.config.AgentCard.Capabilities.PushNotifications {
		writeError(w, req.ID, a2a.ErrPushNotificationNotSupported())
		return
	}
	sub, err := s.engine.SendTaskSubscribe(r.Context(), &params)
	if err != nil {
		writeError(w, req.ID, a2a.AsError(err))
		return
	}
	s.streamTaskEvents(w, r, req.ID, sub)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, req *a2a.JSONRPCRequest) {
	var params a2a.TaskQueryParams
	if aerr := s.decodeParams(req, &params); aerr != nil {
		writeError(w, req.ID, aerr)
		return
	}
	task, err := s.engine.GetTask(r.Context(), &params)
	if err != nil {
		writeError(w, req.ID, a2a.AsError(err))
		return
	}
	writeResult(w, req.ID, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request, req *a2a.JSONRPCRequest) {
	var params a2a.TaskIdParams
	if aerr := s.decodeParams(req, &params); aerr != nil {
		writeError(w, req.ID, aerr)
		return
	}
	task, err := s.engine.CancelTask(r.Context(), &params)
	if err != nil {
		writeError(w, req.ID, a2a.AsError(err))
		return
	}
	writeResult(w, req.ID, task)
}

func (s *Server) handleResubscribe(w http.ResponseWriter, r *http.Request, req *a2a.JSONRPCRequest) {
	var params a2a.TaskIdParams
	if aerr := s.decodeParams(req, &params); aerr != nil {
		writeError(w, req.ID, aerr)
		return
	}
	sub, err := s.engine.Resubscribe(r.Context(), &params)
	if err != nil {
		writeError(w, req.ID, a2a.AsError(err))
		return
	}
	s.streamTaskEvents(w, r, req.ID, sub)
}

func (s *Server) handleSetPushConfig(w http.ResponseWriter, r *http.Request, req *a2a.JSONRPCRequest) {
	var params a2a.TaskPushNotificationConfig
	if aerr := s.decodeParams(req, &params); aerr != nil {
		writeError(w, req.ID, aerr)
		return
	}
	result, err := s.engine.SetPushConfig(r.Context(), &params)
	if err != nil {
		writeError(w, req.ID, a2a.AsError(err))
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetPushConfig(w http.ResponseWriter, r *http.Request, req *a2a.JSONRPCRequest) {
	var params a2a.TaskIdParams
	if aerr := s.decodeParams(req, &params); aerr != nil {
		writeError(w, req.ID, aerr)
		return
	}
	result, err := s.engine.GetPushConfig(r.Context(), &params)
	if err != nil {
		writeError(w, req.ID, a2a.AsError(err))
		return
	}
	writeResult(w, req.ID, result)
}

// queryLanguageAllowed gates knowledge methods on the declared language
// set. An empty language defaults to graphql.
func (s *Server) queryLanguageAllowed(lang string) (string, bool) {
	if lang == "" {
		lang = knowledge.QueryLanguageGraphQL
	}
	return lang, s.config.AgentCard.Capabilities.SupportsQueryLanguage(lang)
}

func (s *Server) handleKnowledgeQuery(w http.ResponseWriter, r *http.Request, req *a2a.JSONRPCRequest) {
	var params a2a.KnowledgeQueryParams
	if aerr := s.decodeParams(req, &params); aerr != nil {
		writeError(w, req.ID, aerr)
		return
	}
	lang, ok := s.queryLanguageAllowed(params.QueryLanguage)
	if !ok {
		writeError(w, req.ID, a2a.ErrMethodNotFound(req.Method+" ("+params.QueryLanguage+")"))
		return
	}
	params.QueryLanguage = lang

	result, err := s.knowledge.Query(&params)
	if err != nil {
		writeError(w, req.ID, a2a.AsError(err))
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleKnowledgeUpdate(w http.ResponseWriter, r *http.Request, req *a2a.JSONRPCRequest) {
	var params a2a.KnowledgeUpdateParams
	if aerr := s.decodeParams(req, &params); aerr != nil {
		writeError(w, req.ID, aerr)
		return
	}
	result, err := s.knowledge.Update(r.Context(), &params)
	if err != nil {
		writeError(w, req.ID, a2a.AsError(err))
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleKnowledgeSubscribe(w http.ResponseWriter, r *http.Request, req *a2a.JSONRPCRequest) {
	var params a2a.KnowledgeSubscribeParams
	if aerr := s.decodeParams(req, &params); aerr != nil {
		writeError(w, req.ID, aerr)
		return
	}
	lang, ok := s.queryLanguageAllowed(params.QueryLanguage)
	if !ok {
		writeError(w, req.ID, a2a.ErrMethodNotFound(req.Method+" ("+params.QueryLanguage+")"))
		return
	}
	params.QueryLanguage = lang

	sub, err := s.knowledge.Subscribe(&params)
	if err != nil {
		writeError(w, req.ID, a2a.AsError(err))
		return
	}
	s.streamKnowledgeEvents(w, r, req.ID, &knowledgeSubscription{
		events: sub.Events(),
		err:    sub.Err,
		cancel: func() { s.knowledge.Unsubscribe(sub) },
	})
}

// writeResult writes a successful JSON-RPC response.
func writeResult(w http.ResponseWriter, reqID, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(a2a.NewResponse(reqID, result))
}

// writeError writes a JSON-RPC error response with the HTTP status the
// error's code maps to.
func writeError(w http.ResponseWriter, reqID any, aerr *a2a.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(a2a.HTTPStatus(aerr.Code))
	json.NewEncoder(w).Encode(a2a.NewErrorResponse(reqID, aerr.ToJSONRPCError()))
}
