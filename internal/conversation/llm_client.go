package conversation

import (
	"context"
	"strings"

	"github.com/wolfman30/send-money-agent/internal/transfer"
)

// Role tags a transcript turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResponse carries a tool result back to the model, correlated to the
// invocation by ID and Name.
type ToolResponse struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Content map[string]any `json:"content"`
}

// Part is one content item of a turn. Exactly one field is set.
type Part struct {
	Text         string        `json:"text,omitempty"`
	ToolCall     *ToolCall     `json:"tool_call,omitempty"`
	ToolResponse *ToolResponse `json:"tool_response,omitempty"`
}

// Turn is a single transcript entry.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// TextTurn builds a single-part text turn.
func TextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Text: text}}}
}

// ToolCalls returns every tool invocation in the turn, in order.
func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range t.Parts {
		if p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// StartsWithToolCall reports whether the first content item is a tool call.
func (t Turn) StartsWithToolCall() bool {
	return len(t.Parts) > 0 && t.Parts[0].ToolCall != nil
}

// Text concatenates the text of every part.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMRequest struct {
	Model       string
	System      string
	Tools       []transfer.ToolDescriptor
	Turns       []Turn
	MaxTokens   int32
	Temperature float32
}

type LLMResponse struct {
	Turn       Turn
	Usage      TokenUsage
	StopReason string
}

// LLMClient generates the next model turn for a transcript.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// unconfiguredLLMClient stands in when no API key is available so requests
// fail with a configuration error instead of the process refusing to start.
type unconfiguredLLMClient struct {
	setting string
}

// NewUnconfiguredLLMClient returns a client whose every call fails with
// ErrConfiguration naming setting.
func NewUnconfiguredLLMClient(setting string) LLMClient {
	return unconfiguredLLMClient{setting: setting}
}

func (c unconfiguredLLMClient) Complete(context.Context, LLMRequest) (LLMResponse, error) {
	return LLMResponse{}, &LLMError{Kind: ErrConfiguration, Setting: c.setting, Err: errMissingAPIKey}
}
