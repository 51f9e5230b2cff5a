package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/marcushq/marcus/internal/mcptools"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

const protocolVersion = "2024-11-05"

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

func errorResponse(id any, code int, message string) *rpcResponse {
	return &rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	}
}

func resultResponse(id any, result any) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// dispatch handles one decoded JSON-RPC request against the tool registry.
func (s *Server) dispatch(ctx context.Context, req *rpcRequest) *rpcResponse {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, codeInvalidRequest, "invalid request")
	}

	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"serverInfo": map[string]any{
				"name":    "marcus",
				"version": s.version,
			},
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
		})

	case "tools/list":
		return resultResponse(req.ID, map[string]any{
			"tools": s.registry.ToolList(),
		})

	case "tools/call":
		var params callParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			return errorResponse(req.ID, codeInvalidParams, "tools/call requires a tool name")
		}

		text, err := s.registry.Call(ctx, params.Name, params.Arguments)
		if err != nil {
			switch {
			case errors.Is(err, mcptools.ErrUnknownTool):
				return errorResponse(req.ID, codeMethodNotFound, err.Error())
			case errors.Is(err, mcptools.ErrInvalidArgs):
				return errorResponse(req.ID, codeInvalidParams, err.Error())
			default:
				return errorResponse(req.ID, codeInternalError, err.Error())
			}
		}
		return resultResponse(req.ID, map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
		})

	default:
		return errorResponse(req.ID, codeMethodNotFound, "unknown method "+req.Method)
	}
}
