package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(cfg ProviderConfig) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// ListModels returns the models visible to the API key
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	models := make([]ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, ModelInfo{Name: m.ID})
	}
	return models, nil
}

// Chat streams a message completion
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest, fn func(ChatChunk) error) error {
	var system []string
	anthropicMessages := []anthropic.MessageParam{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleAssistant:
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		default:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	maxTokens := req.Options.NumPredict
	if maxTokens <= 0 {
		maxTokens = DefaultOptions().NumPredict
	}

	reqParams := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    anthropicMessages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Options.Temperature),
	}
	if len(system) > 0 {
		reqParams.System = []anthropic.TextBlockParam{
			{Text: strings.Join(system, "\n\n")},
		}
	}

	if len(req.Tools) > 0 {
		tools := []anthropic.ToolUnionParam{}
		for _, tool := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters.Properties,
					Required:   tool.Parameters.Required,
				},
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		reqParams.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, reqParams)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return fmt.Errorf("failed to accumulate stream event: %w", err)
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if err := fn(ChatChunk{Content: delta.Text}); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		var apiErr *anthropic.Error
		if len(req.Tools) > 0 && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", ErrToolsUnsupported, apiErr.Error())
		}
		return err
	}

	calls := []ToolCall{}
	for _, block := range message.Content {
		if b, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			params := map[string]any{}
			if raw := b.JSON.Input.Raw(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &params); err != nil {
					return fmt.Errorf("failed to parse tool input: %w", err)
				}
			}
			calls = append(calls, ToolCall{Name: b.Name, Arguments: params})
		}
	}
	if len(calls) == 0 {
		return nil
	}
	return fn(ChatChunk{ToolCalls: calls})
}

// Preload is a no-op; hosted models need no warm-up.
func (p *AnthropicProvider) Preload(ctx context.Context, model string) error {
	return nil
}
