package provider

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/sightline/pkg/adapter"
	"github.com/m-mizutani/sightline/pkg/model"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when WithModel is not given
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini queries Google Gemini models
type Gemini struct {
	client adapter.Gemini
	cfg    config
}

// NewGemini creates the Gemini provider over client
func NewGemini(client adapter.Gemini, opts ...Option) *Gemini {
	return &Gemini{
		client: client,
		cfg:    newConfig(DefaultGeminiModel, opts),
	}
}

func (p *Gemini) ID() model.ProviderID { return model.ProviderGemini }

func (p *Gemini) Query(ctx context.Context, req *Request) (*Response, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(req.Text, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.systemPrompt(), genai.RoleUser),
		MaxOutputTokens:   int32(p.cfg.maxTokens),
	}

	start := time.Now()
	resp, err := p.client.GenerateContent(ctx, p.cfg.model, contents, cfg)
	latency := time.Since(start)
	if err != nil {
		return nil, wrapError(err, p.ID(), "failed to query gemini")
	}

	modelName := resp.ModelVersion
	if modelName == "" {
		modelName = p.cfg.model
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, emptyAnswer(p.ID(), modelName)
	}

	var tokens int64
	if resp.UsageMetadata != nil {
		tokens = int64(resp.UsageMetadata.TotalTokenCount)
	}

	return &Response{
		Text:       text,
		Model:      modelName,
		TokensUsed: tokens,
		Latency:    latency,
		Provider:   p.ID(),
	}, nil
}
