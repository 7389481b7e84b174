package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	oaoption "github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// OpenAIDecider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIDecider struct {
	client openai.Client
	model  string
	log    *zap.Logger
}

func NewOpenAI(cfg Config, log *zap.Logger) *OpenAIDecider {
	opts := []oaoption.RequestOption{
		oaoption.WithAPIKey(cfg.APIKey),
		oaoption.WithMaxRetries(1),
		oaoption.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, oaoption.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIDecider{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		log:    log,
	}
}

func (d *OpenAIDecider) Provider() string { return ProviderOpenAI }

func (d *OpenAIDecider) Decide(ctx context.Context, req Request) (Result, error) {
	model := req.Model
	if model == "" {
		model = d.model
	}
	system, user := BuildPrompt(req)

	resp, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("openai chat completion: no choices")
	}

	text := resp.Choices[0].Message.Content
	d.log.Debug("openai decision", zap.String("model", model), zap.Int("chars", len(text)))

	r := ParseResult(text)
	r.Provider = ProviderOpenAI
	r.Model = model
	r.Prompt = user
	r.Raw = text
	return r, nil
}
