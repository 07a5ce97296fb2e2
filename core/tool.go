// Package core defines the types shared by tools and transports.
package core

import (
	"context"
	"encoding/json"
)

// Tool is a callable operation exposed to clients.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, params *ToolParams) (*ToolResult, error)
}

// ToolDefinition describes a tool as advertised by tools/list.
type ToolDefinition struct {
	ToolName        string                 `json:"name"`
	ToolDescription string                 `json:"description"`
	InputSchema     map[string]interface{} `json:"inputSchema"`

	// Write marks tools that modify stored data.
	Write bool `json:"-"`
}

// ToolParams carries a single tool invocation.
type ToolParams struct {
	Input json.RawMessage

	// RequestID correlates the call with its transport request, for logs.
	RequestID string
}

// Content is one block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// NewTextResult returns a successful result holding texts, one block each.
func NewTextResult(texts ...string) *ToolResult {
	result := &ToolResult{Content: make([]Content, 0, len(texts))}
	for _, t := range texts {
		result.Content = append(result.Content, Content{Type: "text", Text: t})
	}
	return result
}

// NewErrorResult returns a failed result carrying msg.
func NewErrorResult(msg string) *ToolResult {
	return &ToolResult{
		Content: []Content{{Type: "text", Text: msg}},
		IsError: true,
	}
}

// Text joins the result's text blocks with newlines.
func (r *ToolResult) Text() string {
	var out string
	for i, c := range r.Content {
		if i > 0 {
			out += "\n"
		}
		out += c.Text
	}
	return out
}
