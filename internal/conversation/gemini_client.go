package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/wolfman30/send-money-agent/internal/transfer"
)

// DefaultGeminiModel is used when no model id is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiLLMClient implements LLMClient using Google's Gemini API.
type GeminiLLMClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiLLMClient creates a new Gemini LLM client.
func NewGeminiLLMClient(ctx context.Context, apiKey, modelID string) (*GeminiLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("conversation: gemini: %w", errMissingAPIKey)
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}

	return &GeminiLLMClient{
		client:  client,
		modelID: modelID,
	}, nil
}

// Model returns the configured model id.
func (c *GeminiLLMClient) Model() string {
	return c.modelID
}

// Complete sends the transcript to Gemini and returns the next model turn.
func (c *GeminiLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	modelID := c.modelID
	if req.Model != "" {
		modelID = req.Model
	}
	model := c.client.GenerativeModel(modelID)
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	if len(req.Tools) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: toFunctionDeclarations(req.Tools)}}
	}

	contents := toGeminiContents(req.Turns)
	if len(contents) == 0 {
		return LLMResponse{}, errors.New("conversation: gemini requires at least one message")
	}
	last := contents[len(contents)-1]
	if last.Role != "user" {
		return LLMResponse{}, fmt.Errorf("conversation: gemini transcript must end with a user turn, got %q", last.Role)
	}

	cs := model.StartChat()
	cs.History = contents[:len(contents)-1]
	resp, err := cs.SendMessage(ctx, last.Parts...)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return LLMResponse{}, errors.New("conversation: gemini returned no candidates")
	}

	candidate := resp.Candidates[0]
	result := LLMResponse{
		Turn:       fromGeminiContent(candidate.Content),
		StopReason: candidate.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiLLMClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func toFunctionDeclarations(tools []transfer.ToolDescriptor) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(t.Parameters),
		})
	}
	return decls
}

func toGeminiSchema(s *transfer.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        toGeminiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGeminiSchema(prop)
		}
	}
	return out
}

func toGeminiType(t transfer.SchemaType) genai.Type {
	switch t {
	case transfer.TypeObject:
		return genai.TypeObject
	case transfer.TypeString:
		return genai.TypeString
	case transfer.TypeNumber:
		return genai.TypeNumber
	default:
		return genai.TypeUnspecified
	}
}

// toGeminiContents converts the transcript. Tool-result turns travel as user
// content carrying function responses, and consecutive ones are merged so the
// responses answer the preceding function-call turn together. Empty turns are
// dropped.
func toGeminiContents(turns []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	var prev Role
	for _, turn := range turns {
		var parts []genai.Part
		for _, p := range turn.Parts {
			switch {
			case p.ToolCall != nil:
				parts = append(parts, genai.FunctionCall{Name: p.ToolCall.Name, Args: p.ToolCall.Args})
			case p.ToolResponse != nil:
				parts = append(parts, genai.FunctionResponse{Name: p.ToolResponse.Name, Response: p.ToolResponse.Content})
			case p.Text != "":
				parts = append(parts, genai.Text(p.Text))
			}
		}
		if len(parts) == 0 {
			continue
		}
		if turn.Role == RoleTool && prev == RoleTool {
			last := contents[len(contents)-1]
			last.Parts = append(last.Parts, parts...)
			continue
		}
		prev = turn.Role
		role := "user"
		if turn.Role == RoleModel {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func fromGeminiContent(content *genai.Content) Turn {
	turn := Turn{Role: RoleModel}
	if content == nil {
		return turn
	}
	for _, part := range content.Parts {
		switch v := part.(type) {
		case genai.Text:
			turn.Parts = append(turn.Parts, Part{Text: string(v)})
		case genai.FunctionCall:
			turn.Parts = append(turn.Parts, Part{ToolCall: &ToolCall{ID: uuid.NewString(), Name: v.Name, Args: v.Args}})
		}
	}
	return turn
}
