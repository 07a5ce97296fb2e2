// Package server exposes the memory tools to MCP clients over JSON-RPC 2.0,
// on stdio or a WebSocket endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/becomeliminal/mcp-memory/core"
	"github.com/becomeliminal/mcp-memory/tools"
)

// ProtocolVersion is the MCP revision the server speaks when the client
// does not ask for one.
const ProtocolVersion = "2024-11-05"

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC request or notification (no ID).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Info identifies the server in the initialize handshake.
type Info struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Instructions string `json:"-"`
}

// Caller is the tool surface the handler serves.
type Caller interface {
	Definitions() []core.ToolDefinition
	CallWithID(ctx context.Context, requestID, name string, args json.RawMessage) (*core.ToolResult, error)
}

// Handler answers JSON-RPC messages. It is transport independent and safe
// for concurrent use.
type Handler struct {
	tools Caller
	info  Info
	log   *log.Entry
}

// NewHandler creates a handler serving tools.
func NewHandler(caller Caller, info Info) *Handler {
	return &Handler{
		tools: caller,
		info:  info,
		log:   log.WithField("component", "server"),
	}
}

// Handle processes one raw message and returns the encoded response, or
// nil for notifications.
func (h *Handler) Handle(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return h.encode(&Response{
			JSONRPC: "2.0",
			ID:      json.RawMessage("null"),
			Error:   &Error{Code: CodeParseError, Message: "parse error: " + err.Error()},
		})
	}

	result, rpcErr := h.dispatch(ctx, &req)
	if req.IsNotification() {
		if rpcErr != nil {
			h.log.WithField("method", req.Method).Debugf("notification failed: %v", rpcErr)
		}
		return nil
	}

	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	switch {
	case rpcErr != nil:
		resp.Error = rpcErr
	case result == nil:
		resp.Result = struct{}{}
	default:
		resp.Result = result
	}
	return h.encode(resp)
}

func (h *Handler) dispatch(ctx context.Context, req *Request) (interface{}, *Error) {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return nil, &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	}

	switch req.Method {
	case "initialize":
		return h.initialize(req.Params)
	case "notifications/initialized", "notifications/cancelled":
		return nil, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return map[string]interface{}{"tools": h.tools.Definitions()}, nil
	case "tools/call":
		return h.callTool(ctx, req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func (h *Handler) initialize(params json.RawMessage) (interface{}, *Error) {
	var p struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
		}
	}
	version := p.ProtocolVersion
	if version == "" {
		version = ProtocolVersion
	}
	h.log.WithFields(log.Fields{
		"client":   p.ClientInfo.Name,
		"version":  p.ClientInfo.Version,
		"protocol": version,
	}).Info("client initialized")

	result := map[string]interface{}{
		"protocolVersion": version,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{"listChanged": false},
		},
		"serverInfo": h.info,
	}
	if h.info.Instructions != "" {
		result["instructions"] = h.info.Instructions
	}
	return result, nil
}

func (h *Handler) callTool(ctx context.Context, req *Request) (interface{}, *Error) {
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Name == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "tools/call requires a tool name"}
	}

	result, err := h.tools.CallWithID(ctx, string(req.ID), p.Name, p.Arguments)
	var argErr *tools.ArgumentError
	switch {
	case errors.Is(err, tools.ErrUnknownTool), errors.As(err, &argErr):
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	case err != nil:
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return result, nil
}

func (h *Handler) encode(resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		h.log.Errorf("failed to encode response: %v", err)
		data, _ = json.Marshal(&Response{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &Error{Code: CodeInternalError, Message: "failed to encode response"},
		})
	}
	return data
}
