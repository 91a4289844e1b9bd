package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/copyleftdev/seqopt/internal/benchmark"
	apperrors "github.com/copyleftdev/seqopt/internal/errors"
	"github.com/copyleftdev/seqopt/internal/optimization"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// sessionParams addresses a session in JSON-RPC calls.
type sessionParams struct {
	SessionID string                `json:"session_id"`
	N         int                   `json:"n,omitempty"`
	Samples   []optimization.Sample `json:"samples,omitempty"`
	Values    []float64             `json:"values,omitempty"`
}

type evaluateParams struct {
	Task    string                `json:"task"`
	Samples []optimization.Sample `json:"samples"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests. Params may be an object or a
// one-element array holding the object.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondWithError(w, nil, &rpcError{Code: rpcParseError, Message: "Parse error"})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.respondWithError(w, req.ID, &rpcError{Code: rpcInvalidRequest, Message: "Invalid Request"})
		return
	}

	result, rerr := s.dispatch(r.Context(), req.Method, req.Params)
	if rerr != nil {
		s.respondWithError(w, req.ID, rerr)
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *rpcError) {
	var (
		result interface{}
		err    error
	)
	switch method {
	case "session.create":
		var p CreateSessionRequest
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		result, err = s.createSession(p)
	case "session.get", "session.suggest", "session.observe", "session.delete":
		var p sessionParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		switch method {
		case "session.get":
			var sess *Session
			if sess, err = s.session(p.SessionID); err == nil {
				sess.mu.Lock()
				result = sess.info()
				sess.mu.Unlock()
			}
		case "session.suggest":
			result, err = s.suggest(ctx, p.SessionID, p.N)
		case "session.observe":
			result, err = s.observe(p.SessionID, ObserveRequest{Samples: p.Samples, Values: p.Values})
		case "session.delete":
			if err = s.deleteSession(p.SessionID); err == nil {
				result = map[string]string{"status": "deleted"}
			}
		}
	case "suite.tasks":
		result = benchmark.TasksResponse{Tasks: s.listTasks()}
	case "suite.evaluate":
		var p evaluateParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		result, err = s.evaluate(ctx, p.Task, benchmark.EvaluateRequest{Samples: p.Samples})
	default:
		return nil, &rpcError{Code: rpcMethodNotFound, Message: "Method not found"}
	}
	if err != nil {
		return nil, toRPCError(err)
	}
	return result, nil
}

func decodeParams(raw json.RawMessage, dest interface{}) *rpcError {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) != 1 {
			return &rpcError{Code: rpcInvalidParams, Message: "Invalid params", Data: "expected a single parameter object"}
		}
		raw = list[0]
	}
	if len(raw) == 0 {
		return &rpcError{Code: rpcInvalidParams, Message: "Invalid params", Data: "missing params"}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return &rpcError{Code: rpcInvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	return nil
}

// toRPCError keeps the HTTP status of the error as data so clients can
// classify it the same way as REST responses.
func toRPCError(err error) *rpcError {
	status := apperrors.StatusCode(err)
	code := rpcServerError
	if status == http.StatusBadRequest {
		code = rpcInvalidParams
	}
	return &rpcError{
		Code:    code,
		Message: err.Error(),
		Data:    map[string]int{"status": status},
	}
}

// respondWithError sends a JSON-RPC 2.0 error response.
func (s *Server) respondWithError(w http.ResponseWriter, id json.RawMessage, rerr *rpcError) {
	s.logger.Debug("JSON-RPC error", map[string]interface{}{
		"code":    rerr.Code,
		"message": rerr.Message,
	})
	if id == nil {
		id = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Error: rerr})
}
