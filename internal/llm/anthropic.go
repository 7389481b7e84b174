package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anoption "github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

type AnthropicDecider struct {
	client anthropic.Client
	model  string
	log    *zap.Logger
}

func NewAnthropic(cfg Config, log *zap.Logger) *AnthropicDecider {
	opts := []anoption.RequestOption{
		anoption.WithAPIKey(cfg.APIKey),
		anoption.WithMaxRetries(1),
		anoption.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anoption.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicDecider{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		log:    log,
	}
}

func (d *AnthropicDecider) Provider() string { return ProviderAnthropic }

func (d *AnthropicDecider) Decide(ctx context.Context, req Request) (Result, error) {
	model := req.Model
	if model == "" {
		model = d.model
	}
	system, user := BuildPrompt(req)

	msg, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 512,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	d.log.Debug("anthropic decision", zap.String("model", model), zap.Int("chars", len(text)))

	r := ParseResult(text)
	r.Provider = ProviderAnthropic
	r.Model = model
	r.Prompt = user
	r.Raw = text
	return r, nil
}
