package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaProvider implements Provider against an Ollama server.
type OllamaProvider struct {
	client    *api.Client
	keepAlive time.Duration
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(cfg ProviderConfig) (*OllamaProvider, error) {
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", base, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.APIKey != "" {
		rt := httpClient.Transport
		if rt == nil {
			rt = http.DefaultTransport
		}
		httpClient = &http.Client{
			Timeout:   httpClient.Timeout,
			Transport: &bearerTransport{token: cfg.APIKey, base: rt},
		}
	}

	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 5 * time.Minute
	}

	return &OllamaProvider{
		client:    api.NewClient(u, httpClient),
		keepAlive: keepAlive,
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// ListModels returns locally available models
func (p *OllamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := p.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, ModelInfo{Name: m.Name, Size: m.Size})
	}
	return models, nil
}

// Chat streams a chat completion
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest, fn func(ChatChunk) error) error {
	stream := true
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: make([]api.Message, 0, len(req.Messages)),
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Options.Temperature,
			"num_ctx":     req.Options.NumCtx,
			"num_predict": req.Options.NumPredict,
		},
	}
	for _, msg := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, api.Message{Role: msg.Role, Content: msg.Content})
	}

	if len(req.Tools) > 0 {
		tools, err := toOllamaTools(req.Tools)
		if err != nil {
			return err
		}
		chatReq.Tools = tools
	}

	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chunk := ChatChunk{Content: resp.Message.Content}
		for _, tc := range resp.Message.ToolCalls {
			args, err := decodeArguments(tc.Function.Arguments)
			if err != nil {
				return fmt.Errorf("failed to parse tool arguments for %s: %w", tc.Function.Name, err)
			}
			chunk.ToolCalls = append(chunk.ToolCalls, ToolCall{Name: tc.Function.Name, Arguments: args})
		}
		if chunk.Content == "" && len(chunk.ToolCalls) == 0 {
			return nil
		}
		return fn(chunk)
	})
	if err != nil {
		var statusErr api.StatusError
		if len(req.Tools) > 0 && errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", ErrToolsUnsupported, statusErr.ErrorMessage)
		}
		return err
	}
	return nil
}

// Preload loads the model into memory and keeps it resident for keepAlive.
func (p *OllamaProvider) Preload(ctx context.Context, model string) error {
	stream := false
	req := &api.GenerateRequest{
		Model:     model,
		Stream:    &stream,
		KeepAlive: &api.Duration{Duration: p.keepAlive},
	}
	if err := p.client.Generate(ctx, req, func(api.GenerateResponse) error { return nil }); err != nil {
		return fmt.Errorf("preload %s: %w", model, err)
	}
	return nil
}

type ollamaToolWire struct {
	Type     string `json:"type"`
	Function Tool   `json:"function"`
}

// toOllamaTools goes through JSON so the schema lands in whatever property
// representation the api package uses.
func toOllamaTools(tools []Tool) ([]api.Tool, error) {
	wire := make([]ollamaToolWire, 0, len(tools))
	for _, t := range tools {
		wire = append(wire, ollamaToolWire{Type: "function", Function: t})
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool schema: %w", err)
	}
	var out []api.Tool
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to convert tool schema: %w", err)
	}
	return out, nil
}

func decodeArguments(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	args := map[string]any{}
	if string(data) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	return args, nil
}
