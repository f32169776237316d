package provider

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m-mizutani/sightline/pkg/adapter"
	"github.com/m-mizutani/sightline/pkg/model"
)

// DefaultAnthropicModel is used when WithModel is not given
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// Anthropic queries Claude through the Messages API
type Anthropic struct {
	client adapter.Claude
	cfg    config
}

// NewAnthropic creates the Anthropic provider over client
func NewAnthropic(client adapter.Claude, opts ...Option) *Anthropic {
	return &Anthropic{
		client: client,
		cfg:    newConfig(DefaultAnthropicModel, opts),
	}
}

func (p *Anthropic) ID() model.ProviderID { return model.ProviderAnthropic }

func (p *Anthropic) Query(ctx context.Context, req *Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.model),
		MaxTokens: p.cfg.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.systemPrompt()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Text)),
		},
	}

	start := time.Now()
	msg, err := p.client.CreateMessage(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, wrapError(err, p.ID(), "failed to query anthropic")
	}

	var texts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}
	text := strings.Join(texts, "\n")
	if strings.TrimSpace(text) == "" {
		return nil, emptyAnswer(p.ID(), string(msg.Model))
	}

	return &Response{
		Text:       text,
		Model:      string(msg.Model),
		TokensUsed: msg.Usage.InputTokens + msg.Usage.OutputTokens,
		Latency:    latency,
		Provider:   p.ID(),
	}, nil
}
