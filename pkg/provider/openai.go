package provider

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/sightline/pkg/adapter"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/openai/openai-go"
)

const (
	DefaultOpenAIModel     = "gpt-4o"
	DefaultPerplexityModel = "sonar-pro"

	// PerplexityBaseURL is the OpenAI compatible endpoint of Perplexity
	PerplexityBaseURL = "https://api.perplexity.ai"
)

// chatCompletion serves every provider speaking the OpenAI chat completion protocol
type chatCompletion struct {
	id     model.ProviderID
	client adapter.OpenAI
	cfg    config
}

func (p *chatCompletion) ID() model.ProviderID { return p.id }

func (p *chatCompletion) Query(ctx context.Context, req *Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.cfg.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.systemPrompt()),
			openai.UserMessage(req.Text),
		},
		MaxTokens: openai.Int(p.cfg.maxTokens),
	}

	start := time.Now()
	resp, err := p.client.ChatCompletion(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, wrapError(err, p.id, "failed to query chat completion")
	}

	modelName := resp.Model
	if modelName == "" {
		modelName = p.cfg.model
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, emptyAnswer(p.id, modelName)
	}

	return &Response{
		Text:       resp.Choices[0].Message.Content,
		Model:      modelName,
		TokensUsed: resp.Usage.TotalTokens,
		Latency:    latency,
		Provider:   p.id,
	}, nil
}

// OpenAI queries GPT models
type OpenAI struct {
	chatCompletion
}

// NewOpenAI creates the OpenAI provider over client
func NewOpenAI(client adapter.OpenAI, opts ...Option) *OpenAI {
	return &OpenAI{chatCompletion{
		id:     model.ProviderOpenAI,
		client: client,
		cfg:    newConfig(DefaultOpenAIModel, opts),
	}}
}

// Perplexity queries Perplexity sonar models. The client must point at
// PerplexityBaseURL.
type Perplexity struct {
	chatCompletion
}

// NewPerplexity creates the Perplexity provider over client
func NewPerplexity(client adapter.OpenAI, opts ...Option) *Perplexity {
	return &Perplexity{chatCompletion{
		id:     model.ProviderPerplexity,
		client: client,
		cfg:    newConfig(DefaultPerplexityModel, opts),
	}}
}
