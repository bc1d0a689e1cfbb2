package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/copyleftdev/descent/internal/errors"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeNotFound       = -32001
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type idParams struct {
	OptimizationID string `json:"optimization_id"`
}

// decodeParams accepts params as an object or as a one-element array
// holding the object.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return apperrors.New("missing required parameters")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return err
		}
		if len(list) != 1 {
			return apperrors.Errorf("expected one parameter object, got %d", len(list))
		}
		raw = list[0]
	}
	return json.Unmarshal(raw, v)
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil)
		return
	}
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error
	switch request.Method {
	case "optimization.start":
		var params OptimizeRequest
		if err := decodeParams(request.Params, &params); err != nil {
			s.respondWithError(w, codeInvalidParams, err.Error(), request.ID)
			return
		}
		var job *Job
		if job, err = s.Start(params); err == nil {
			result = map[string]interface{}{"optimization_id": job.ID, "status": job.Status}
		}
	case "optimization.status", "optimization.cancel":
		var params idParams
		if err := decodeParams(request.Params, &params); err != nil || params.OptimizationID == "" {
			s.respondWithError(w, codeInvalidParams, "optimization_id is required", request.ID)
			return
		}
		if request.Method == "optimization.status" {
			result, err = s.Status(params.OptimizationID)
		} else {
			var job *Job
			if job, err = s.Cancel(params.OptimizationID); err == nil {
				result = map[string]interface{}{"optimization_id": job.ID, "status": job.Status}
			}
		}
	case "optimization.problems":
		result = s.Problems()
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, rpcCode(err), err.Error(), request.ID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// rpcCode maps a service error onto a JSON-RPC error code.
func rpcCode(err error) int {
	switch apperrors.HTTPStatus(err) {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return codeInvalidParams
	case http.StatusNotFound:
		return codeNotFound
	}
	return codeServerError
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   rpcError{Code: code, Message: message},
		"id":      id,
	})
}
