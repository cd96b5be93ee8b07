// Live provider adapters: AnthropicAssistant backs the Claude-style
// Assistant Provider with github.com/anthropics/anthropic-sdk-go,
// GeminiStructuredLLM backs the Structured LLM Provider with
// google.golang.org/genai. Both are wired in by cmd's root command
// when PIPELINE env config selects TEST_MODE=live or mixed.
//
// Grounded on spetersoncode-gains's internal/provider/anthropic/client.go
// (NewClient, MessageNewParams, content-block walk distinguishing
// "text" from "tool_use" blocks) and Soochol-Upal's
// internal/model/gemini_text.go (lazy genai.Client via sync.Once,
// client.Models.GenerateContent). Neither reference wraps an
// adk-style agent framework here — this module's Assistant and
// StructuredLLM interfaces already play that role, so the adapters
// call the SDKs directly.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/genai"
)

func parseJSONObject(text string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AnthropicAssistant implements Assistant against the real Claude API.
type AnthropicAssistant struct {
	client       anthropic.Client
	defaultModel anthropic.Model
}

// NewAnthropicAssistant builds an Assistant backed by apiKey. defaultModel
// is used when an Options.Model override isn't supplied.
func NewAnthropicAssistant(apiKey, defaultModel string) *AnthropicAssistant {
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-5"
	}
	return &AnthropicAssistant{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: anthropic.Model(defaultModel),
	}
}

// Query implements Assistant.
func (a *AnthropicAssistant) Query(ctx context.Context, prompt string, opts Options) (Response, error) {
	model := a.defaultModel
	if opts.Model != "" {
		model = anthropic.Model(opts.Model)
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.SystemPrompt != "" {
		system := opts.SystemPrompt
		if opts.AppendSystemPrompt != "" {
			system = system + "\n" + opts.AppendSystemPrompt
		}
		params.System = []anthropic.TextBlockParam{{Text: system}}
	} else if opts.AppendSystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.AppendSystemPrompt}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return Response{
		Success: true,
		Text:    text,
		Metadata: map[string]interface{}{
			"stop_reason":   string(resp.StopReason),
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
			"model":         string(model),
		},
	}, nil
}

var _ Assistant = (*AnthropicAssistant)(nil)

// GeminiStructuredLLM implements StructuredLLM against the real Gemini
// API. The client is created lazily so construction never fails on a
// missing network and API keys loaded from env can be swapped in
// before the first call.
type GeminiStructuredLLM struct {
	apiKey       string
	defaultModel string

	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGeminiStructuredLLM builds a StructuredLLM backed by apiKey.
func NewGeminiStructuredLLM(apiKey, defaultModel string) *GeminiStructuredLLM {
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	return &GeminiStructuredLLM{apiKey: apiKey, defaultModel: defaultModel}
}

func (g *GeminiStructuredLLM) ensureClient(ctx context.Context) error {
	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return g.initErr
}

// Query implements StructuredLLM.
func (g *GeminiStructuredLLM) Query(ctx context.Context, prompt string, opts StructuredOptions) (StructuredResponse, error) {
	if err := g.ensureClient(ctx); err != nil {
		return StructuredResponse{}, fmt.Errorf("gemini: client init: %w", err)
	}

	model := g.defaultModel
	if opts.Model != "" {
		model = opts.Model
	}

	cfg := &genai.GenerateContentConfig{}
	if opts.Temperature > 0 {
		t := float32(opts.Temperature)
		cfg.Temperature = &t
	}
	if opts.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxOutputTokens)
	}
	if opts.ResponseSchema != nil {
		cfg.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return StructuredResponse{}, fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return StructuredResponse{}, fmt.Errorf("gemini: empty response")
	}

	var text string
	var calls []FunctionCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			calls = append(calls, FunctionCall{
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}

	out := StructuredResponse{Success: true, Text: text, FunctionCalls: calls}
	if opts.ResponseSchema != nil {
		structured, perr := parseJSONObject(text)
		if perr == nil {
			out.Structured = structured
		}
	}
	return out, nil
}

var _ StructuredLLM = (*GeminiStructuredLLM)(nil)
