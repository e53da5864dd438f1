// Package llm defines the contract between agents and a language model:
// given a system prompt, the conversation and tool definitions, return text
// and zero or more tool invocations.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one turn of the conversation. Tool results use RoleTool with ToolCallID set.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolDefinition describes a tool to the model. Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is the input of one model turn.
type Request struct {
	SystemPrompt string           `json:"system_prompt"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Model        string           `json:"model,omitempty"`
}

// Response is the model's answer. An empty ToolCalls ends the agent's turn.
type Response struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Provider is the LLM collaborator.
// Implementations: *OpenAI, *Subprocess, *Scripted, ProviderFunc.
type Provider interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (Response, error)

// Invoke calls f.
func (f ProviderFunc) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// ToolResult builds the message that feeds a tool's output back to the model.
func ToolResult(call ToolCall, content string) Message {
	return Message{Role: RoleTool, ToolCallID: call.ID, Name: call.Name, Content: content}
}

// Call is a convenience constructor for a tool call with JSON-encoded arguments.
func Call(id, name string, args map[string]any) ToolCall {
	raw, _ := json.Marshal(args)
	if args == nil {
		raw = []byte("{}")
	}
	return ToolCall{ID: id, Name: name, Arguments: raw}
}
