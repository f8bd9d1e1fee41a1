package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"example.com/orderintake/config"
)

// Role of a conversation message as seen by the reasoning engine.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the exchanged conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	// ToolCallID links a RoleTool result message to the call it answers.
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolDef declares one callable operation to the engine.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a structured operation request emitted by the engine.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Request is one round sent to the engine.
type Request struct {
	Model    string    `json:"model,omitempty"`
	System   string    `json:"system"`
	Messages []Message `json:"messages"`
	Tools    []ToolDef `json:"tools,omitempty"`
}

// Response is the engine's answer: either plain text or tool calls to
// execute. The engine is an opaque function; nothing here inspects how it
// reasons.
type Response struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// Engine is the reasoning-engine contract.
type Engine interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// httpEngine calls a remote reasoning engine over HTTP with a bounded
// timeout per round.
type httpEngine struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPEngine creates a new HTTP reasoning-engine client
func NewHTTPEngine(cfg config.EngineConfig) (Engine, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("reasoning engine base URL is empty")
	}
	return &httpEngine{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Complete submits one round and decodes the engine's reply.
func (e *httpEngine) Complete(ctx context.Context, req Request) (Response, error) {
	if req.Model == "" {
		req.Model = e.model
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, errors.Wrap(err, "failed to marshal engine request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/complete", bytes.NewReader(body))
	if err != nil {
		return Response{}, errors.Wrap(err, "failed to build engine request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return Response{}, errors.Wrap(err, "reasoning engine request failed")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return Response{}, errors.Errorf("reasoning engine returned %d: %s", httpResp.StatusCode, payload)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return Response{}, errors.Wrap(err, "failed to decode engine response")
	}

	return resp, nil
}
