package aigen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGenerator implements ObjectGenerator on the OpenAI chat API.
// The model is asked for a JSON object response; when the request carries a
// schema, the decoded object is validated against it before being returned.
type OpenAIGenerator struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIGenerator creates a generator with the given API key and default
// model. baseURL overrides the API endpoint when non-empty (local gateways,
// proxies).
func NewOpenAIGenerator(apiKey, defaultModel, baseURL string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("AI API key not configured")
	}
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
		slog.Warn("AI model not configured, using default", "model", defaultModel)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	slog.Info("initializing AI generator", "model", defaultModel)
	return &OpenAIGenerator{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
	}, nil
}

// GenerateObject implements ObjectGenerator.
func (g *OpenAIGenerator) GenerateObject(ctx context.Context, req Request) (map[string]any, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SchemaSource != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem,
			Content: "Respond with a single JSON object satisfying this CUE schema:\n\n" +
				req.SchemaSource,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("AI completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("AI returned no choices")
	}

	var object map[string]any
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &object); err != nil {
		return nil, fmt.Errorf("AI response is not a JSON object: %w", err)
	}

	if req.SchemaSource != "" {
		if err := ValidateObject(req.SchemaSource, object); err != nil {
			return nil, fmt.Errorf("generated object failed schema validation: %w", err)
		}
	}

	slog.Debug("AI object generated", "model", model, "keys", len(object))
	return object, nil
}
